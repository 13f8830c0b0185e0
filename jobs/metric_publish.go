package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/deelflow/deelflow/internal/dashboard"
	jobmetrics "github.com/deelflow/deelflow/internal/jobs"
)

// MetricPublisher stores dashboard payloads.
type MetricPublisher interface {
	Publish(ctx context.Context, slug string, payload []byte) error
}

// MetricPublishJob moves metric payloads from the queue into the dashboard store.
type MetricPublishJob struct {
	Store   MetricPublisher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMetricPublishJob wires dependencies for the publish handler.
func NewMetricPublishJob(store MetricPublisher, logger *slog.Logger, metrics *jobmetrics.Metrics) *MetricPublishJob {
	return &MetricPublishJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskMetricPublish tasks.
func (j *MetricPublishJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("metric publish: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskMetricPublish)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var payload MetricPublishPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("metric publish: decode: %v: %w", err, asynq.SkipRetry)
	}
	err := j.Store.Publish(ctx, payload.Metric, payload.Payload)
	switch {
	case err == nil:
		jobLogger(j.Logger, TaskMetricPublish).Debug("metric published", slog.String("metric", payload.Metric))
		return nil
	case errors.Is(err, dashboard.ErrUnknownMetric), errors.Is(err, dashboard.ErrInvalidPayload):
		return fmt.Errorf("metric publish: %v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}
