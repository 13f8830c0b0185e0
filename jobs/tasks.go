package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/deelflow/deelflow/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit events; weighted above the default queue.
	QueueAudit = "audit"

	// TaskAuditRecord persists one audit event.
	TaskAuditRecord = "audit:record"
	// TaskAuditPrune deletes audit rows past the retention window.
	TaskAuditPrune = "audit:prune"
	// TaskMetricPublish stores a dashboard metric payload.
	TaskMetricPublish = "dashboard:publish"
)

// DefaultAuditRetentionDays is used when a prune task carries no retention.
const DefaultAuditRetentionDays = 180

// MetricPublishPayload carries a metric payload produced by an upstream pipeline.
type MetricPublishPayload struct {
	Metric  string          `json:"metric"`
	Payload json.RawMessage `json:"payload"`
}

// AuditPrunePayload configures a prune run.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditRecordTask wraps an audit event.
func NewAuditRecordTask(event audit.Event) (*asynq.Task, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data, asynq.Queue(QueueAudit), asynq.MaxRetry(10)), nil
}

// NewMetricPublishTask wraps a metric payload.
func NewMetricPublishTask(metric string, payload json.RawMessage) (*asynq.Task, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return nil, errors.New("jobs: metric required")
	}
	data, err := json.Marshal(MetricPublishPayload{Metric: metric, Payload: payload})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMetricPublish, data, asynq.Queue(QueueDefault)), nil
}

// NewAuditPruneTask builds the scheduled prune task.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultAuditRetentionDays
	}
	data, err := json.Marshal(AuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data, asynq.Queue(QueueAudit)), nil
}
