package rbac

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository used by tests and by the
// STORE_DRIVER=memory deployment mode.
//
// Role permission sets live behind per-role atomic pointers, so an update is a
// single pointer swap and readers of one role never contend with writers of
// another. mu only guards the role index (create/delete); bindMu guards user
// bindings and is always acquired after mu.
type MemoryRepository struct {
	perms map[string]Permission
	order []Permission
	now   func() time.Time

	mu     sync.RWMutex
	roles  map[string]*roleEntry
	ids    []string
	byName map[string]string

	bindMu   sync.RWMutex
	bindings map[string][]string
}

type roleEntry struct {
	id        string
	name      string
	label     string
	createdAt time.Time
	perms     atomic.Pointer[permSnapshot]
}

// permSnapshot is immutable once stored.
type permSnapshot struct {
	names     []string
	updatedAt time.Time
}

// NewMemoryRepository builds an empty repository over the given catalog.
func NewMemoryRepository(perms []Permission) *MemoryRepository {
	repo := &MemoryRepository{
		perms:    make(map[string]Permission, len(perms)),
		now:      time.Now,
		roles:    make(map[string]*roleEntry),
		byName:   make(map[string]string),
		bindings: make(map[string][]string),
	}
	for _, p := range perms {
		if _, dup := repo.perms[p.Name]; dup {
			continue
		}
		repo.perms[p.Name] = p
		repo.order = append(repo.order, p)
	}
	return repo
}

// ListPermissions returns the catalog in insertion order.
func (m *MemoryRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return slices.Clone(m.order), nil
}

// CreateRole stores a new role.
func (m *MemoryRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	for _, p := range role.Permissions {
		if _, ok := m.perms[p]; !ok {
			return Role{}, ErrUnknownPermission
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[role.Name]; exists {
		return Role{}, ErrDuplicateRoleName
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := m.now()
	entry := &roleEntry{id: role.ID, name: role.Name, label: role.Label, createdAt: now}
	entry.perms.Store(&permSnapshot{names: sortedCopy(role.Permissions), updatedAt: now})
	m.roles[entry.id] = entry
	m.ids = append(m.ids, entry.id)
	m.byName[entry.name] = entry.id
	return entry.snapshot(), nil
}

// ListRoles returns roles in insertion order.
func (m *MemoryRepository) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles := make([]Role, 0, len(m.ids))
	for _, id := range m.ids {
		roles = append(roles, m.roles[id].snapshot())
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (m *MemoryRepository) GetRole(ctx context.Context, id string) (Role, error) {
	entry, ok := m.entry(id)
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return entry.snapshot(), nil
}

// GetRoleByName fetches a role by its unique name.
func (m *MemoryRepository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	m.mu.RLock()
	id, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return m.GetRole(ctx, id)
}

// ReplaceRolePermissions swaps the role's permission set in one atomic store.
func (m *MemoryRepository) ReplaceRolePermissions(ctx context.Context, id string, perms []string) (Role, error) {
	for _, p := range perms {
		if _, ok := m.perms[p]; !ok {
			return Role{}, ErrUnknownPermission
		}
	}
	entry, ok := m.entry(id)
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	entry.perms.Store(&permSnapshot{names: sortedCopy(perms), updatedAt: m.now()})
	return entry.snapshot(), nil
}

// DeleteRole removes an unbound role.
func (m *MemoryRepository) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.roles[id]
	if !ok {
		return ErrRoleNotFound
	}

	m.bindMu.RLock()
	for _, held := range m.bindings {
		if slices.Contains(held, id) {
			m.bindMu.RUnlock()
			return ErrRoleInUse
		}
	}
	m.bindMu.RUnlock()

	delete(m.roles, id)
	delete(m.byName, entry.name)
	m.ids = slices.DeleteFunc(m.ids, func(v string) bool { return v == id })
	return nil
}

// AssignRole binds roleID to userID. Re-assigning is a no-op.
func (m *MemoryRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrRoleNotFound
	}

	m.bindMu.Lock()
	defer m.bindMu.Unlock()
	if !slices.Contains(m.bindings[userID], roleID) {
		m.bindings[userID] = append(m.bindings[userID], roleID)
	}
	return nil
}

// RevokeRole unbinds roleID from userID. Revoking an unheld role is a no-op.
func (m *MemoryRepository) RevokeRole(ctx context.Context, userID, roleID string) error {
	m.bindMu.Lock()
	defer m.bindMu.Unlock()
	held := slices.DeleteFunc(slices.Clone(m.bindings[userID]), func(v string) bool { return v == roleID })
	if len(held) == 0 {
		delete(m.bindings, userID)
		return nil
	}
	m.bindings[userID] = held
	return nil
}

// ReplaceUserRoles sets the full role set held by userID.
func (m *MemoryRepository) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	held := make([]string, 0, len(roleIDs))
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			return ErrRoleNotFound
		}
		if !slices.Contains(held, id) {
			held = append(held, id)
		}
	}

	m.bindMu.Lock()
	defer m.bindMu.Unlock()
	if len(held) == 0 {
		delete(m.bindings, userID)
		return nil
	}
	m.bindings[userID] = held
	return nil
}

// RolesForUser returns the role IDs bound to userID, empty when none.
func (m *MemoryRepository) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	m.bindMu.RLock()
	defer m.bindMu.RUnlock()
	return slices.Clone(m.bindings[userID]), nil
}

// CountUsersByRole returns the number of users bound to each role.
func (m *MemoryRepository) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	m.bindMu.RLock()
	defer m.bindMu.RUnlock()
	counts := make(map[string]int)
	for _, held := range m.bindings {
		for _, id := range held {
			counts[id]++
		}
	}
	return counts, nil
}

// PermissionSets returns the current permission snapshot of each known role.
// Unknown IDs are skipped. The returned slices must not be modified.
func (m *MemoryRepository) PermissionSets(ctx context.Context, roleIDs []string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sets := make(map[string][]string, len(roleIDs))
	for _, id := range roleIDs {
		entry, ok := m.roles[id]
		if !ok {
			continue
		}
		sets[id] = entry.perms.Load().names
	}
	return sets, nil
}

func (m *MemoryRepository) entry(id string) (*roleEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.roles[id]
	return entry, ok
}

func (e *roleEntry) snapshot() Role {
	perms := e.perms.Load()
	return Role{
		ID:          e.id,
		Name:        e.name,
		Label:       e.label,
		Permissions: slices.Clone(perms.names),
		CreatedAt:   e.createdAt,
		UpdatedAt:   perms.updatedAt,
	}
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
