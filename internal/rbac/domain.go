package rbac

import (
	"errors"
	"slices"
	"time"
)

// SuperAdminRole is the seeded role holding every permission. It is hidden
// from role listings of callers that do not hold it themselves.
const SuperAdminRole = "super_admin"

var (
	// ErrDuplicateRoleName indicates a role with the same name exists.
	ErrDuplicateRoleName = errors.New("rbac: duplicate role name")
	// ErrRoleNotFound indicates the referenced role does not exist.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrUnknownPermission indicates a permission outside the registry.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrRoleInUse indicates a role cannot be deleted while users hold it.
	ErrRoleInUse = errors.New("rbac: role still assigned to users")
	// ErrIdentityUnresolved indicates the caller identity is missing or invalid.
	ErrIdentityUnresolved = errors.New("rbac: identity unresolved")
	// ErrAuthorizationDenied is returned by Gateway.Invoke when the caller
	// lacks the operation permission. HTTP callers never see it as an error.
	ErrAuthorizationDenied = errors.New("rbac: authorization denied")
	// ErrInvalidRole indicates malformed role input.
	ErrInvalidRole = errors.New("rbac: invalid role")
	// ErrInvalidUser indicates an empty user identity in a binding call.
	ErrInvalidUser = errors.New("rbac: invalid user")
)

// Permission represents an atomic capability.
type Permission struct {
	Name  string
	Label string
	Group string
}

// Role represents a named set of permissions.
type Role struct {
	ID          string
	Name        string
	Label       string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Has reports whether the role grants perm.
func (r Role) Has(perm string) bool {
	return slices.Contains(r.Permissions, perm)
}

// RoleSummary is the management view of a role. UsersCount is only populated
// for super admins.
type RoleSummary struct {
	Role
	UsersCount *int
}

// CreateRoleInput carries the fields accepted when creating a role.
type CreateRoleInput struct {
	Name        string
	Label       string
	Permissions []string
}

// RoleToggle reports whether a role currently grants a permission.
type RoleToggle struct {
	RoleID  string
	Name    string
	Label   string
	Enabled bool
}

// PermissionRow is one permission with its per-role assignment state.
type PermissionRow struct {
	Permission
	Roles []RoleToggle
}

// PermissionGroup clusters catalog rows by group.
type PermissionGroup struct {
	Group       string
	Permissions []PermissionRow
}

// Decision is the ephemeral outcome of one authorization check.
type Decision struct {
	UserID    string
	Required  []string
	Granted   string
	Effective []string
	Allowed   bool
	CheckedAt time.Time
}
