package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deelflow/deelflow/internal/shared"
)

type testStack struct {
	repo     *MemoryRepository
	registry *Registry
	service  *Service
	engine   *Engine
}

func newTestStack(t *testing.T, cache *Cache) testStack {
	t.Helper()
	registry := DefaultRegistry()
	repo := NewMemoryRepository(registry.Catalog())
	return testStack{
		repo:     repo,
		registry: registry,
		service:  NewService(repo, registry, cache),
		engine:   NewEngine(repo, registry, cache),
	}
}

func mustCreateRole(t *testing.T, svc *Service, name string, perms ...string) Role {
	t.Helper()
	role, err := svc.CreateRole(context.Background(), CreateRoleInput{Name: name, Permissions: perms})
	require.NoError(t, err)
	return role
}

func TestAnalystScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)

	mustCreateRole(t, s.service, "analyst", shared.PermRevenueView)
	_, err := s.service.AssignRole(ctx, "alice", "analyst")
	require.NoError(t, err)

	assert.True(t, s.engine.Allowed(ctx, "alice", shared.PermRevenueView))
	assert.False(t, s.engine.Allowed(ctx, "alice", shared.PermRolesManage))

	_, err = s.service.UpdateRolePermissions(ctx, "analyst", []string{})
	require.NoError(t, err)
	assert.False(t, s.engine.Allowed(ctx, "alice", shared.PermRevenueView))
}

func TestUpdateRolePermissionsReplacesSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)
	role := mustCreateRole(t, s.service, "ops", shared.PermActivityView, shared.PermSystemHealthView)
	_, err := s.service.AssignRole(ctx, "bob", role.ID)
	require.NoError(t, err)

	next := []string{shared.PermDealsView, shared.PermSystemHealthView}
	updated, err := s.service.UpdateRolePermissions(ctx, role.ID, next)
	require.NoError(t, err)
	assert.ElementsMatch(t, next, updated.Permissions)

	for _, perm := range s.registry.Catalog() {
		want := perm.Name == shared.PermDealsView || perm.Name == shared.PermSystemHealthView
		assert.Equal(t, want, s.engine.Allowed(ctx, "bob", perm.Name), perm.Name)
	}
}

func TestUpdateRolePermissionsErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)
	role := mustCreateRole(t, s.service, "viewer", shared.PermRevenueView)

	_, err := s.service.UpdateRolePermissions(ctx, "missing", []string{shared.PermRevenueView})
	assert.ErrorIs(t, err, ErrRoleNotFound)

	_, err = s.service.UpdateRolePermissions(ctx, role.ID, []string{shared.PermRevenueView, "fly_drones"})
	assert.ErrorIs(t, err, ErrUnknownPermission)

	got, err := s.service.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{shared.PermRevenueView}, got.Permissions)
}

func TestCreateRole(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown permission leaves no role", func(t *testing.T) {
		s := newTestStack(t, nil)
		_, err := s.service.CreateRole(ctx, CreateRoleInput{Name: "X", Permissions: []string{"not_a_real_permission"}})
		require.ErrorIs(t, err, ErrUnknownPermission)
		roles, err := s.service.ListRoles(ctx)
		require.NoError(t, err)
		assert.Empty(t, roles)
	})

	t.Run("duplicate name", func(t *testing.T) {
		s := newTestStack(t, nil)
		mustCreateRole(t, s.service, "analyst")
		_, err := s.service.CreateRole(ctx, CreateRoleInput{Name: "analyst"})
		assert.ErrorIs(t, err, ErrDuplicateRoleName)
	})

	t.Run("blank name", func(t *testing.T) {
		s := newTestStack(t, nil)
		_, err := s.service.CreateRole(ctx, CreateRoleInput{Name: "  "})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("generates id and defaults label", func(t *testing.T) {
		s := newTestStack(t, nil)
		role := mustCreateRole(t, s.service, "analyst", shared.PermRevenueView, "VIEW_REVENUE ")
		assert.NotEmpty(t, role.ID)
		assert.Equal(t, "analyst", role.Label)
		assert.Equal(t, []string{shared.PermRevenueView}, role.Permissions)
	})
}

func TestListRolesInsertionOrder(t *testing.T) {
	s := newTestStack(t, nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		mustCreateRole(t, s.service, name)
	}
	roles, err := s.service.ListRoles(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestAssignRoleIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)
	role := mustCreateRole(t, s.service, "analyst", shared.PermRevenueView)

	_, err := s.service.AssignRole(ctx, "alice", role.ID)
	require.NoError(t, err)
	once, err := s.service.RolesForUser(ctx, "alice")
	require.NoError(t, err)

	_, err = s.service.AssignRole(ctx, "alice", role.ID)
	require.NoError(t, err)
	twice, err := s.service.RolesForUser(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, []string{role.ID}, twice)
}

func TestRevokeRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)
	role := mustCreateRole(t, s.service, "analyst", shared.PermRevenueView)

	revoked, err := s.service.RevokeRole(ctx, "alice", role.ID)
	require.NoError(t, err, "revoking an unheld role")
	assert.False(t, revoked)
	revoked, err = s.service.RevokeRole(ctx, "alice", "ghost")
	require.NoError(t, err, "revoking an unknown role")
	assert.False(t, revoked)

	_, err = s.service.AssignRole(ctx, "alice", role.ID)
	require.NoError(t, err)
	revoked, err = s.service.RevokeRole(ctx, "alice", "analyst")
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = s.service.RevokeRole(ctx, "alice", "analyst")
	require.NoError(t, err)
	assert.False(t, revoked)

	held, err := s.service.RolesForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, held)
	assert.False(t, s.engine.Allowed(ctx, "alice", shared.PermRevenueView))
}

func TestAssignUnknownRole(t *testing.T) {
	s := newTestStack(t, nil)
	_, err := s.service.AssignRole(context.Background(), "alice", "ghost")
	assert.ErrorIs(t, err, ErrRoleNotFound)

	_, err = s.service.AssignRole(context.Background(), " ", "ghost")
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestRolesForUnknownUser(t *testing.T) {
	s := newTestStack(t, nil)
	held, err := s.service.RolesForUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, held)
	assert.Empty(t, held)
}

func TestReplaceUserRoles(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)
	analyst := mustCreateRole(t, s.service, "analyst", shared.PermRevenueView)
	auditor := mustCreateRole(t, s.service, "auditor", shared.PermAuditTrailView)
	ops := mustCreateRole(t, s.service, "ops", shared.PermActivityView)

	_, err := s.service.ReplaceUserRoles(ctx, "carol", []string{analyst.ID, auditor.Name})
	require.NoError(t, err)

	roles, err := s.service.ReplaceUserRoles(ctx, "carol", []string{ops.Name, ops.ID})
	require.NoError(t, err)
	require.Len(t, roles, 1)

	held, err := s.service.RolesForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{ops.ID}, held)

	_, err = s.service.ReplaceUserRoles(ctx, "carol", []string{analyst.ID, "ghost"})
	require.ErrorIs(t, err, ErrRoleNotFound)
	held, err = s.service.RolesForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{ops.ID}, held, "failed replace must not write")

	_, err = s.service.ReplaceUserRoles(ctx, "carol", nil)
	require.NoError(t, err)
	held, err = s.service.RolesForUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestDeleteRole(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)
	role := mustCreateRole(t, s.service, "temp", shared.PermDealsView)
	_, err := s.service.AssignRole(ctx, "dave", role.ID)
	require.NoError(t, err)

	_, err = s.service.DeleteRole(ctx, role.ID)
	require.ErrorIs(t, err, ErrRoleInUse)

	_, err = s.service.RevokeRole(ctx, "dave", role.ID)
	require.NoError(t, err)
	deleted, err := s.service.DeleteRole(ctx, "temp")
	require.NoError(t, err)
	assert.Equal(t, role.ID, deleted.ID)

	_, err = s.service.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrRoleNotFound)
	_, err = s.service.DeleteRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestRoleSummariesVisibility(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t, nil)
	all := make([]string, 0)
	for _, p := range s.registry.Catalog() {
		all = append(all, p.Name)
	}
	mustCreateRole(t, s.service, SuperAdminRole, all...)
	mustCreateRole(t, s.service, "admin", shared.PermRolesManage)
	_, err := s.service.AssignRole(ctx, "root", SuperAdminRole)
	require.NoError(t, err)
	_, err = s.service.AssignRole(ctx, "erin", "admin")
	require.NoError(t, err)

	superView, err := s.service.RoleSummaries(ctx, "root")
	require.NoError(t, err)
	require.Len(t, superView, 2)
	for _, summary := range superView {
		require.NotNil(t, summary.UsersCount)
		assert.Equal(t, 1, *summary.UsersCount)
	}

	adminView, err := s.service.RoleSummaries(ctx, "erin")
	require.NoError(t, err)
	require.Len(t, adminView, 1)
	assert.Equal(t, "admin", adminView[0].Name)
	assert.Nil(t, adminView[0].UsersCount)
}

func TestPermissionMatrix(t *testing.T) {
	s := newTestStack(t, nil)
	analyst := mustCreateRole(t, s.service, "analyst", shared.PermRevenueView)
	mustCreateRole(t, s.service, "auditor", shared.PermAuditTrailView)

	groups, err := s.service.PermissionMatrix(context.Background(), "")
	require.NoError(t, err)

	total := 0
	for _, group := range groups {
		for _, row := range group.Permissions {
			total++
			assert.Equal(t, group.Group, row.Group)
			require.Len(t, row.Roles, 2)
			for _, toggle := range row.Roles {
				want := toggle.RoleID == analyst.ID && row.Name == shared.PermRevenueView ||
					toggle.Name == "auditor" && row.Name == shared.PermAuditTrailView
				assert.Equal(t, want, toggle.Enabled, "%s/%s", row.Name, toggle.Name)
			}
		}
	}
	assert.Equal(t, len(s.registry.Catalog()), total)
}

type failingRepo struct {
	*MemoryRepository
	err error
}

func (f failingRepo) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	return nil, f.err
}

func TestServicePropagatesStoreErrors(t *testing.T) {
	registry := DefaultRegistry()
	boom := errors.New("store down")
	repo := failingRepo{MemoryRepository: NewMemoryRepository(registry.Catalog()), err: boom}
	svc := NewService(repo, registry, nil)

	_, err := svc.RolesForUser(context.Background(), "alice")
	assert.ErrorIs(t, err, boom)
	_, err = svc.RoleSummaries(context.Background(), "alice")
	assert.ErrorIs(t, err, boom)
}
