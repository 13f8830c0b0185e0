package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// PermissionReader is the read side consumed by the authorization engine.
type PermissionReader interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
	PermissionSets(ctx context.Context, roleIDs []string) (map[string][]string, error)
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	PermissionSource
	PermissionReader
	CreateRole(ctx context.Context, role Role) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ReplaceRolePermissions(ctx context.Context, id string, perms []string) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	AssignRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
	ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error
	CountUsersByRole(ctx context.Context) (map[string]int, error)
}

// Service owns roles and user-role bindings.
type Service struct {
	repo     RepositoryPort
	registry *Registry
	cache    *Cache
}

// NewService constructs the service. cache may be nil.
func NewService(repo RepositoryPort, registry *Registry, cache *Cache) *Service {
	return &Service{repo: repo, registry: registry, cache: cache}
}

// Registry exposes the permission registry backing the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// PermissionCatalog returns the full permission registry.
func (s *Service) PermissionCatalog() []Permission {
	return s.registry.Catalog()
}

// ListRoles returns all roles in insertion order.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// RoleSummaries is the management listing of roles as seen by viewerID. The
// super admin role and user counts are only visible to super admins.
func (s *Service) RoleSummaries(ctx context.Context, viewerID string) ([]RoleSummary, error) {
	super, err := s.IsSuperAdmin(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	var counts map[string]int
	if super {
		if counts, err = s.repo.CountUsersByRole(ctx); err != nil {
			return nil, err
		}
	}
	summaries := make([]RoleSummary, 0, len(roles))
	for _, role := range roles {
		if !super && role.Name == SuperAdminRole {
			continue
		}
		summary := RoleSummary{Role: role}
		if super {
			n := counts[role.ID]
			summary.UsersCount = &n
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// CheckRoleAccess hides the super admin role from viewers who do not hold
// it. Any ref naming it yields ErrRoleNotFound for them; unknown refs are
// left for the operation itself to report.
func (s *Service) CheckRoleAccess(ctx context.Context, viewerID string, refs ...string) error {
	for _, ref := range refs {
		role, err := s.GetRole(ctx, ref)
		if errors.Is(err, ErrRoleNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if role.Name != SuperAdminRole {
			continue
		}
		super, err := s.IsSuperAdmin(ctx, viewerID)
		if err != nil {
			return err
		}
		if !super {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, ref)
		}
		return nil
	}
	return nil
}

func (s *Service) visibleRoles(ctx context.Context, viewerID string) ([]Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	super, err := s.IsSuperAdmin(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if super {
		return roles, nil
	}
	return slices.DeleteFunc(roles, func(r Role) bool { return r.Name == SuperAdminRole }), nil
}

// GetRole resolves a role by ID or, failing that, by name.
func (s *Service) GetRole(ctx context.Context, ref string) (Role, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Role{}, ErrRoleNotFound
	}
	role, err := s.repo.GetRole(ctx, ref)
	if err == nil || !errors.Is(err, ErrRoleNotFound) {
		return role, err
	}
	return s.repo.GetRoleByName(ctx, ref)
}

// CreateRole validates input and stores a new role. Nothing is written when
// any permission is unknown.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: name required", ErrInvalidRole)
	}
	label := strings.TrimSpace(input.Label)
	if label == "" {
		label = name
	}
	perms, err := s.registry.Validate(input.Permissions)
	if err != nil {
		return Role{}, err
	}
	var role Role
	err = s.write(ctx, func() (err error) {
		role, err = s.repo.CreateRole(ctx, Role{Name: name, Label: label, Permissions: perms})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRolePermissions replaces the permission set of the referenced role.
// An empty set is valid and leaves the role without permissions.
func (s *Service) UpdateRolePermissions(ctx context.Context, ref string, perms []string) (Role, error) {
	valid, err := s.registry.Validate(perms)
	if err != nil {
		return Role{}, err
	}
	role, err := s.GetRole(ctx, ref)
	if err != nil {
		return Role{}, err
	}
	var updated Role
	err = s.write(ctx, func() (err error) {
		updated, err = s.repo.ReplaceRolePermissions(ctx, role.ID, valid)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role that no user holds.
func (s *Service) DeleteRole(ctx context.Context, ref string) (Role, error) {
	role, err := s.GetRole(ctx, ref)
	if err != nil {
		return Role{}, err
	}
	if err := s.write(ctx, func() error { return s.repo.DeleteRole(ctx, role.ID) }); err != nil {
		return Role{}, err
	}
	return role, nil
}

// PermissionMatrix groups the catalog and reports, per permission, which
// roles currently grant it. The super admin column is only shown to super
// admins.
func (s *Service) PermissionMatrix(ctx context.Context, viewerID string) ([]PermissionGroup, error) {
	roles, err := s.visibleRoles(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	var groups []PermissionGroup
	index := make(map[string]int)
	for _, perm := range s.registry.Catalog() {
		row := PermissionRow{Permission: perm, Roles: make([]RoleToggle, 0, len(roles))}
		for _, role := range roles {
			row.Roles = append(row.Roles, RoleToggle{
				RoleID:  role.ID,
				Name:    role.Name,
				Label:   role.Label,
				Enabled: role.Has(perm.Name),
			})
		}
		i, ok := index[perm.Group]
		if !ok {
			i = len(groups)
			index[perm.Group] = i
			groups = append(groups, PermissionGroup{Group: perm.Group})
		}
		groups[i].Permissions = append(groups[i].Permissions, row)
	}
	return groups, nil
}

// AssignRole binds a role to a user. Assigning a held role is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, ref string) (Role, error) {
	userID, err := normalizeUser(userID)
	if err != nil {
		return Role{}, err
	}
	role, err := s.GetRole(ctx, ref)
	if err != nil {
		return Role{}, err
	}
	if err := s.write(ctx, func() error { return s.repo.AssignRole(ctx, userID, role.ID) }); err != nil {
		return Role{}, err
	}
	return role, nil
}

// RevokeRole unbinds a role and reports whether the user held it. Revoking an
// unheld or unknown role is a no-op.
func (s *Service) RevokeRole(ctx context.Context, userID, ref string) (bool, error) {
	userID, err := normalizeUser(userID)
	if err != nil {
		return false, err
	}
	role, err := s.GetRole(ctx, ref)
	if errors.Is(err, ErrRoleNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	held, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if !slices.Contains(held, role.ID) {
		return false, nil
	}
	if err := s.write(ctx, func() error { return s.repo.RevokeRole(ctx, userID, role.ID) }); err != nil {
		return false, err
	}
	return true, nil
}

// ReplaceUserRoles sets the complete role set of a user. Every reference must
// resolve before anything is written.
func (s *Service) ReplaceUserRoles(ctx context.Context, userID string, refs []string) ([]Role, error) {
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(refs))
	ids := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		role, err := s.GetRole(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, ref)
		}
		if _, dup := seen[role.ID]; dup {
			continue
		}
		seen[role.ID] = struct{}{}
		roles = append(roles, role)
		ids = append(ids, role.ID)
	}
	if err := s.write(ctx, func() error { return s.repo.ReplaceUserRoles(ctx, userID, ids) }); err != nil {
		return nil, err
	}
	return roles, nil
}

// RolesForUser returns the IDs of roles held by userID. Unknown users hold none.
func (s *Service) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []string{}, nil
	}
	ids, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// UserRoles returns the full roles held by userID.
func (s *Service) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	ids, err := s.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.repo.GetRole(ctx, id)
		if errors.Is(err, ErrRoleNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// IsSuperAdmin reports whether userID holds the super admin role.
func (s *Service) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	roles, err := s.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == SuperAdminRole {
			return true, nil
		}
	}
	return false, nil
}

// write runs fn between Cache.Begin and Cache.Commit. The store is never
// touched when the cache cannot record the write.
func (s *Service) write(ctx context.Context, fn func() error) error {
	token, err := s.cache.Begin(ctx)
	if err != nil {
		return err
	}
	werr := fn()
	if err := s.cache.Commit(ctx, token); err != nil && werr == nil {
		return err
	}
	return werr
}

func normalizeUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidUser
	}
	return userID, nil
}
