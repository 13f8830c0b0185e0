package rbac

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/deelflow/deelflow/internal/shared"
)

// Role management operations.
const (
	OpGetRoles              = "get_roles"
	OpCreateRole            = "create_role"
	OpGetPermissions        = "get_permissions"
	OpUpdateRolePermissions = "update_role_permissions"
	OpDeleteRole            = "delete_role"
	OpGetUserRoles          = "get_user_roles"
	OpUpdateUserRoles       = "update_user_roles"
	OpAssignUserRole        = "assign_user_role"
	OpRevokeUserRole        = "revoke_user_role"
)

// Operation maps a protected operation to the permissions that unlock it.
// Holding any one of Permissions is sufficient.
type Operation struct {
	Name        string
	Permissions []string
}

// ManagementOperations lists the role and binding management operations.
func ManagementOperations() []Operation {
	return []Operation{
		{Name: OpGetRoles, Permissions: []string{shared.PermRolesView, shared.PermRolesManage}},
		{Name: OpCreateRole, Permissions: []string{shared.PermRolesManage}},
		{Name: OpGetPermissions, Permissions: []string{shared.PermPermissionsView, shared.PermRolesManage}},
		{Name: OpUpdateRolePermissions, Permissions: []string{shared.PermRolesManage}},
		{Name: OpDeleteRole, Permissions: []string{shared.PermRolesManage}},
		{Name: OpGetUserRoles, Permissions: []string{shared.PermUsersView, shared.PermUsersManage}},
		{Name: OpUpdateUserRoles, Permissions: []string{shared.PermUsersManage}},
		{Name: OpAssignUserRole, Permissions: []string{shared.PermUsersManage}},
		{Name: OpRevokeUserRole, Permissions: []string{shared.PermUsersManage}},
	}
}

// OperationTable is the static operation to permission mapping, built once
// at startup.
type OperationTable struct {
	ops map[string]Operation
}

// NewOperationTable merges the given operation lists. Every operation must be
// unique and reference only registered permissions.
func NewOperationTable(registry *Registry, lists ...[]Operation) (*OperationTable, error) {
	table := &OperationTable{ops: make(map[string]Operation)}
	for _, list := range lists {
		for _, op := range list {
			name := strings.TrimSpace(op.Name)
			if name == "" {
				return nil, errors.New("rbac: operation without name")
			}
			if _, dup := table.ops[name]; dup {
				return nil, fmt.Errorf("rbac: duplicate operation %q", name)
			}
			if len(op.Permissions) == 0 {
				return nil, fmt.Errorf("rbac: operation %q requires no permission", name)
			}
			perms, err := registry.Validate(op.Permissions)
			if err != nil {
				return nil, fmt.Errorf("rbac: operation %q: %w", name, err)
			}
			table.ops[name] = Operation{Name: name, Permissions: perms}
		}
	}
	return table, nil
}

// Lookup returns the operation registered under name.
func (t *OperationTable) Lookup(name string) (Operation, bool) {
	op, ok := t.ops[name]
	if !ok {
		return Operation{}, false
	}
	op.Permissions = slices.Clone(op.Permissions)
	return op, true
}

// Operations returns every registered operation sorted by name.
func (t *OperationTable) Operations() []Operation {
	out := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		op.Permissions = slices.Clone(op.Permissions)
		out = append(out, op)
	}
	slices.SortFunc(out, func(a, b Operation) int { return strings.Compare(a.Name, b.Name) })
	return out
}
