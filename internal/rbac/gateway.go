package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deelflow/deelflow/internal/audit"
	"github.com/deelflow/deelflow/internal/platform/httpx"
	"github.com/deelflow/deelflow/internal/shared"
)

// Authorizer is the engine contract consumed by the gateway.
type Authorizer interface {
	AuthorizeAny(ctx context.Context, userID string, perms ...string) (Decision, error)
}

// IdentityResolver extracts the caller identity from a request. It returns an
// error wrapping ErrIdentityUnresolved when no valid identity is present.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// DecisionObserver receives one call per authorization decision.
type DecisionObserver interface {
	ObserveDecision(operation string, allowed bool)
}

// GatewayConfig wires the gateway collaborators. Recorder, Observer and
// Logger are optional.
type GatewayConfig struct {
	Engine       Authorizer
	Resolver     IdentityResolver
	Operations   *OperationTable
	Recorder     audit.Recorder
	Observer     DecisionObserver
	Logger       *slog.Logger
	AuditAllowed bool
}

// Gateway guards protected operations.
type Gateway struct {
	cfg GatewayConfig
}

// NewGateway constructs a gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{cfg: cfg}
}

// Operations exposes the static operation table.
func (g *Gateway) Operations() *OperationTable {
	return g.cfg.Operations
}

// Protect wraps a handler with the check for operation. It panics when the
// operation is not in the table, so misconfigured routes fail at mount time.
func (g *Gateway) Protect(operation string) func(http.Handler) http.Handler {
	op, ok := g.cfg.Operations.Lookup(operation)
	if !ok {
		panic(fmt.Sprintf("rbac: unknown operation %q", operation))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := g.cfg.Resolver.Resolve(r)
			if err != nil {
				g.respondIdentityError(w, r, err)
				return
			}
			decision, err := g.decide(r.Context(), userID, op)
			if err != nil {
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !decision.Allowed {
				RespondDenied(w)
				return
			}
			ctx := shared.ContextWithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate only resolves the caller identity. It guards endpoints every
// signed-in user may call.
func (g *Gateway) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := g.cfg.Resolver.Resolve(r)
		if err != nil {
			g.respondIdentityError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), userID)))
	})
}

// Invoke runs fn only when userID may perform operation. Denial returns
// ErrAuthorizationDenied without calling fn.
func (g *Gateway) Invoke(ctx context.Context, userID, operation string, fn func(context.Context) error) error {
	decision, err := g.Check(ctx, userID, operation)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return ErrAuthorizationDenied
	}
	return fn(shared.ContextWithUserID(ctx, decision.UserID))
}

// Check evaluates operation for userID without invoking anything.
func (g *Gateway) Check(ctx context.Context, userID, operation string) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, ErrIdentityUnresolved
	}
	op, ok := g.cfg.Operations.Lookup(operation)
	if !ok {
		return Decision{}, fmt.Errorf("rbac: unknown operation %q", operation)
	}
	return g.decide(ctx, userID, op)
}

func (g *Gateway) decide(ctx context.Context, userID string, op Operation) (Decision, error) {
	decision, err := g.cfg.Engine.AuthorizeAny(ctx, userID, op.Permissions...)
	if err != nil {
		g.cfg.Logger.ErrorContext(ctx, "rbac authorize",
			slog.String("operation", op.Name),
			slog.String("user_id", userID),
			slog.Any("error", err))
		return decision, fmt.Errorf("rbac: authorize %s: %w", op.Name, err)
	}
	if g.cfg.Observer != nil {
		g.cfg.Observer.ObserveDecision(op.Name, decision.Allowed)
	}
	g.record(ctx, op.Name, decision)
	return decision, nil
}

func (g *Gateway) record(ctx context.Context, operation string, decision Decision) {
	if g.cfg.Recorder == nil || (decision.Allowed && !g.cfg.AuditAllowed) {
		return
	}
	action := audit.ActionAuthzDeny
	if decision.Allowed {
		action = audit.ActionAuthzAllow
	}
	event := audit.Event{
		ActorID:  decision.UserID,
		Action:   action,
		Entity:   "operation",
		EntityID: operation,
		Meta: map[string]any{
			"required": decision.Required,
			"granted":  decision.Granted,
		},
		At: decision.CheckedAt,
	}
	if err := g.cfg.Recorder.Record(ctx, event); err != nil {
		g.cfg.Logger.WarnContext(ctx, "rbac audit decision", slog.String("operation", operation), slog.Any("error", err))
	}
}

func (g *Gateway) respondIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrIdentityUnresolved) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	g.cfg.Logger.ErrorContext(r.Context(), "rbac resolve identity", slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// RespondDenied writes the single response shape used for every denial.
func RespondDenied(w http.ResponseWriter) {
	httpx.Problem(w, http.StatusForbidden, "Forbidden", "permission denied")
}
