package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deelflow/deelflow/internal/shared"
)

func TestDefaultRegistryMirrorsCatalog(t *testing.T) {
	registry := DefaultRegistry()
	defs := shared.PermissionCatalog()
	require.Len(t, registry.Catalog(), len(defs))
	for i, def := range defs {
		perm, ok := registry.Lookup(def.Name)
		require.True(t, ok, def.Name)
		assert.Equal(t, def.Label, perm.Label)
		assert.Equal(t, def.Name, registry.Catalog()[i].Name, "catalog order")
	}
}

func TestRegistryValidate(t *testing.T) {
	registry := DefaultRegistry()

	got, err := registry.Validate([]string{shared.PermRevenueView, " MANAGE_ROLES", shared.PermRevenueView})
	require.NoError(t, err)
	assert.Equal(t, []string{shared.PermRolesManage, shared.PermRevenueView}, got)

	got, err = registry.Validate(nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = registry.Validate([]string{"fly", shared.PermRevenueView, "swim"})
	require.ErrorIs(t, err, ErrUnknownPermission)
	assert.Contains(t, err.Error(), "fly, swim")
}

func TestRegistryDeduplicatesAndNormalizes(t *testing.T) {
	registry := NewRegistry([]Permission{
		{Name: " View_Revenue ", Label: "first"},
		{Name: "view_revenue", Label: "second"},
		{Name: ""},
	})
	require.Len(t, registry.Catalog(), 1)
	perm, ok := registry.Lookup("VIEW_REVENUE")
	require.True(t, ok)
	assert.Equal(t, "first", perm.Label)
	assert.False(t, registry.Has(""))
}

type staticSource struct {
	perms []Permission
	err   error
}

func (s staticSource) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.perms, s.err
}

func TestRegistryReload(t *testing.T) {
	ctx := context.Background()
	registry, err := LoadRegistry(ctx, staticSource{perms: []Permission{{Name: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), registry.Version())
	assert.False(t, registry.Has("b"))

	require.NoError(t, registry.Reload(ctx, staticSource{perms: []Permission{{Name: "a"}, {Name: "b"}}}))
	assert.Equal(t, int64(2), registry.Version())
	assert.True(t, registry.Has("b"))

	boom := errors.New("db down")
	require.ErrorIs(t, registry.Reload(ctx, staticSource{err: boom}), boom)
	assert.Equal(t, int64(2), registry.Version(), "failed reload keeps snapshot")

	_, err = LoadRegistry(ctx, staticSource{err: boom})
	assert.ErrorIs(t, err, boom)
}
