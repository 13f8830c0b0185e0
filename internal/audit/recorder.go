// Package audit records security relevant events such as authorization
// decisions and role changes.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Actions recorded by the RBAC subsystem.
const (
	ActionAuthzAllow       = "authz.allow"
	ActionAuthzDeny        = "authz.deny"
	ActionRoleCreate       = "role.create"
	ActionRoleDelete       = "role.delete"
	ActionRolePermissions  = "role.permissions.update"
	ActionUserRoleAssign   = "user.role.assign"
	ActionUserRoleRevoke   = "user.role.revoke"
	ActionUserRolesReplace = "user.roles.replace"
)

// ErrInvalidEvent is returned for events missing mandatory fields.
var ErrInvalidEvent = errors.New("audit: event requires action/entity/entity_id")

// Event is one audit record.
type Event struct {
	ActorID  string         `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Validate checks mandatory fields.
func (e Event) Validate() error {
	if e.Action == "" || e.Entity == "" || e.EntityID == "" {
		return ErrInvalidEvent
	}
	return nil
}

// Recorder persists or forwards audit events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// LogRecorder writes events to a structured logger. It is the last resort
// when neither the queue nor the audit store accepts an event.
type LogRecorder struct {
	Logger *slog.Logger
}

// Record implements Recorder.
func (r LogRecorder) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		slog.String("actor", event.ActorID),
		slog.String("action", event.Action),
		slog.String("entity", event.Entity),
		slog.String("entity_id", event.EntityID),
		slog.Any("meta", event.Meta),
	)
	return nil
}
