package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deelflow/deelflow/internal/shared"
)

func TestManagementOperationsTable(t *testing.T) {
	table, err := NewOperationTable(DefaultRegistry(), ManagementOperations())
	require.NoError(t, err)

	op, ok := table.Lookup(OpCreateRole)
	require.True(t, ok)
	assert.Equal(t, []string{shared.PermRolesManage}, op.Permissions)

	op, ok = table.Lookup(OpGetRoles)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{shared.PermRolesView, shared.PermRolesManage}, op.Permissions)

	_, ok = table.Lookup("drop_tables")
	assert.False(t, ok)
	assert.Len(t, table.Operations(), len(ManagementOperations()))
}

func TestOperationTableRejectsBadEntries(t *testing.T) {
	registry := DefaultRegistry()
	cases := map[string][]Operation{
		"unknown permission": {{Name: "get_x", Permissions: []string{"view_x"}}},
		"no permission":      {{Name: "get_x"}},
		"blank name":         {{Name: " ", Permissions: []string{shared.PermRevenueView}}},
		"duplicate":          {{Name: OpCreateRole, Permissions: []string{shared.PermRolesManage}}},
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewOperationTable(registry, ManagementOperations(), extra)
			assert.Error(t, err)
		})
	}
}

func TestOperationTableLookupReturnsCopy(t *testing.T) {
	table, err := NewOperationTable(DefaultRegistry(), ManagementOperations())
	require.NoError(t, err)
	op, _ := table.Lookup(OpCreateRole)
	op.Permissions[0] = "tampered"
	again, _ := table.Lookup(OpCreateRole)
	assert.Equal(t, shared.PermRolesManage, again.Permissions[0])
}
