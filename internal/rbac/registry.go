package rbac

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/deelflow/deelflow/internal/shared"
)

// Registry is the closed catalog of permissions recognised by the process.
// It is read-only at request time; Reload swaps in a new versioned snapshot
// after an out-of-band migration.
type Registry struct {
	current atomic.Pointer[catalog]
}

type catalog struct {
	version int64
	perms   []Permission
	index   map[string]Permission
}

// PermissionSource loads the persisted permission catalog.
type PermissionSource interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// NewRegistry builds a registry from perms. Duplicate names keep the first entry.
func NewRegistry(perms []Permission) *Registry {
	r := &Registry{}
	r.current.Store(buildCatalog(1, perms))
	return r
}

// DefaultRegistry builds a registry from the compiled permission catalog.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultPermissions())
}

// DefaultPermissions converts the shared catalog into registry entries.
func DefaultPermissions() []Permission {
	defs := shared.PermissionCatalog()
	perms := make([]Permission, 0, len(defs))
	for _, def := range defs {
		perms = append(perms, Permission{Name: def.Name, Label: def.Label, Group: def.Group})
	}
	return perms
}

// LoadRegistry builds a registry from the persisted catalog.
func LoadRegistry(ctx context.Context, src PermissionSource) (*Registry, error) {
	perms, err := src.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: load registry: %w", err)
	}
	return NewRegistry(perms), nil
}

// Reload replaces the catalog with the persisted one and bumps the version.
func (r *Registry) Reload(ctx context.Context, src PermissionSource) error {
	perms, err := src.ListPermissions(ctx)
	if err != nil {
		return fmt.Errorf("rbac: reload registry: %w", err)
	}
	r.current.Store(buildCatalog(r.Version()+1, perms))
	return nil
}

// Version identifies the active snapshot.
func (r *Registry) Version() int64 {
	return r.current.Load().version
}

// Catalog returns a copy of every registered permission in catalog order.
func (r *Registry) Catalog() []Permission {
	return slices.Clone(r.current.Load().perms)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.current.Load().index[NormalizePermission(name)]
	return ok
}

// Lookup returns the registered permission for name.
func (r *Registry) Lookup(name string) (Permission, bool) {
	perm, ok := r.current.Load().index[NormalizePermission(name)]
	return perm, ok
}

// Validate normalizes names into a sorted, de-duplicated set. Every unknown
// name is reported in a single ErrUnknownPermission.
func (r *Registry) Validate(names []string) ([]string, error) {
	cat := r.current.Load()
	set := make(map[string]struct{}, len(names))
	var unknown []string
	for _, name := range names {
		name = NormalizePermission(name)
		if _, ok := cat.index[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		set[name] = struct{}{}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, strings.Join(unknown, ", "))
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

// NormalizePermission trims and lowercases a permission identifier.
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func buildCatalog(version int64, perms []Permission) *catalog {
	cat := &catalog{
		version: version,
		perms:   make([]Permission, 0, len(perms)),
		index:   make(map[string]Permission, len(perms)),
	}
	for _, p := range perms {
		p.Name = NormalizePermission(p.Name)
		if p.Name == "" {
			continue
		}
		if _, dup := cat.index[p.Name]; dup {
			continue
		}
		cat.index[p.Name] = p
		cat.perms = append(cat.perms, p)
	}
	return cat
}
