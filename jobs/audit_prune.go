package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/deelflow/deelflow/internal/jobs"
)

// AuditPruner deletes audit rows older than a cutoff.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// AuditPruneJob enforces audit retention.
type AuditPruneJob struct {
	Store   AuditPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditPruneJob wires dependencies for the prune handler.
func NewAuditPruneJob(store AuditPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskAuditPrune tasks.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("audit prune: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskAuditPrune)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var payload AuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("audit prune: decode: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = DefaultAuditRetentionDays
	}
	cutoff := j.now().AddDate(0, 0, -payload.RetentionDays)
	removed, err := j.Store.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	jobLogger(j.Logger, TaskAuditPrune).Info("pruned audit log",
		slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return nil
}

func (j *AuditPruneJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
