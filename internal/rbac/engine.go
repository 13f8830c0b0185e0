package rbac

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Engine answers authorization questions. It only reads bindings and role
// snapshots and never mutates them.
type Engine struct {
	reader   PermissionReader
	registry *Registry
	cache    *Cache
	now      func() time.Time
}

// NewEngine constructs an engine. cache may be nil.
func NewEngine(reader PermissionReader, registry *Registry, cache *Cache) *Engine {
	return &Engine{reader: reader, registry: registry, cache: cache, now: time.Now}
}

// EffectivePermissions returns the sorted union of the permissions granted by
// every role userID holds. Users without roles get an empty set.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []string{}, nil
	}
	return e.cache.Effective(ctx, userID, func(ctx context.Context) ([]string, error) {
		return e.resolve(ctx, userID)
	})
}

func (e *Engine) resolve(ctx context.Context, userID string) ([]string, error) {
	roleIDs, err := e.reader.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(roleIDs) == 0 {
		return []string{}, nil
	}
	sets, err := e.reader.PermissionSets(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	union := make(map[string]struct{})
	for _, perms := range sets {
		for _, p := range perms {
			// Grants for permissions dropped from the registry are ignored.
			if e.registry.Has(p) {
				union[p] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(union))
	for p := range union {
		out = append(out, p)
	}
	slices.Sort(out)
	return out, nil
}

// Authorize checks a single permission. Denial is reported through
// Decision.Allowed; the error is reserved for storage failures.
func (e *Engine) Authorize(ctx context.Context, userID, permission string) (Decision, error) {
	return e.AuthorizeAny(ctx, userID, permission)
}

// AuthorizeAny allows when userID holds at least one of perms. Unknown users,
// unregistered permissions and empty requirement lists all deny.
func (e *Engine) AuthorizeAny(ctx context.Context, userID string, perms ...string) (Decision, error) {
	decision := Decision{
		UserID:    strings.TrimSpace(userID),
		Required:  make([]string, 0, len(perms)),
		Effective: []string{},
		CheckedAt: e.now(),
	}
	for _, p := range perms {
		p = NormalizePermission(p)
		if e.registry.Has(p) {
			decision.Required = append(decision.Required, p)
		}
	}
	if decision.UserID == "" || len(decision.Required) == 0 {
		return decision, nil
	}

	effective, err := e.EffectivePermissions(ctx, decision.UserID)
	if err != nil {
		return decision, err
	}
	decision.Effective = effective
	for _, p := range decision.Required {
		if _, ok := slices.BinarySearch(effective, p); ok {
			decision.Granted = p
			decision.Allowed = true
			break
		}
	}
	return decision, nil
}

// Allowed is the boolean form of Authorize. Storage failures deny.
func (e *Engine) Allowed(ctx context.Context, userID, permission string) bool {
	decision, err := e.Authorize(ctx, userID, permission)
	return err == nil && decision.Allowed
}
