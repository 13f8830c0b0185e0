package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValues(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				key += lp.GetName() + "=" + lp.GetValue() + ";"
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("audit:record").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("audit:record").End(boom), boom)

	runs := counterValues(t, reg, "deelflow_jobs_total")
	assert.Equal(t, 1.0, runs["job=audit:record;status=success;"])
	assert.Equal(t, 1.0, runs["job=audit:record;status=failure;"])
	failures := counterValues(t, reg, "deelflow_jobs_failures_total")
	assert.Equal(t, 1.0, failures["job=audit:record;"])
}

func TestNilMetricsTrackerIsInert(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("x").End(boom), boom)
}
