package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/deelflow/deelflow/internal/audit"
)

// Enqueuer is the subset of *asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditEnqueuer implements audit.Recorder by handing events to the worker.
// When the queue is unreachable the event goes to the fallback store, and
// when that write fails too the event is written to the log.
type AuditEnqueuer struct {
	queue    Enqueuer
	fallback audit.Recorder
	logger   *slog.Logger
}

// NewAuditEnqueuer builds an asynchronous audit recorder.
func NewAuditEnqueuer(queue Enqueuer, fallback audit.Recorder, logger *slog.Logger) *AuditEnqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEnqueuer{queue: queue, fallback: fallback, logger: logger}
}

// Record implements audit.Recorder.
func (e *AuditEnqueuer) Record(ctx context.Context, event audit.Event) error {
	task, err := NewAuditRecordTask(event)
	if err != nil {
		return err
	}
	if _, err := e.queue.EnqueueContext(ctx, task); err != nil {
		e.logger.WarnContext(ctx, "enqueue audit event", slog.String("action", event.Action), slog.Any("error", err))
		if e.fallback == nil {
			return err
		}
		if err := e.fallback.Record(ctx, event); err != nil {
			_ = audit.LogRecorder{Logger: e.logger}.Record(ctx, event)
			return err
		}
	}
	return nil
}
