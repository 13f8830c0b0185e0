package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/deelflow/deelflow/internal/audit"
	jobmetrics "github.com/deelflow/deelflow/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditRecordJob persists queued audit events.
type AuditRecordJob struct {
	Store   audit.Recorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob wires dependencies for the audit handler.
func NewAuditRecordJob(store audit.Recorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditRecord tasks. Malformed payloads are not retried.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("audit record: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskAuditRecord)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var event audit.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("audit record: decode: %v: %w", err, asynq.SkipRetry)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("audit record: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.Store.Record(ctx, event); err != nil {
		jobLogger(j.Logger, TaskAuditRecord).Warn("persist audit event",
			slog.String("action", event.Action), slog.Any("error", err))
		return err
	}
	return nil
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
