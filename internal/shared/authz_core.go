package shared

// Core platform permissions.
const (
	PermUsersView   = "view_users"
	PermUsersManage = "manage_users"

	PermRolesView   = "view_roles"
	PermRolesManage = "manage_roles"

	PermPermissionsView = "view_permissions"
)

// Permission groups as presented by the management UI.
const (
	GroupUserManagement       = "User Management"
	GroupRoleManagement       = "Role Management"
	GroupPermissionManagement = "Permission Management"
)

// PermissionDef describes one entry of the permission catalog.
type PermissionDef struct {
	Name  string
	Label string
	Group string
}

func coreCatalog() []PermissionDef {
	return []PermissionDef{
		{Name: PermUsersView, Label: "View users", Group: GroupUserManagement},
		{Name: PermUsersManage, Label: "Manage user roles", Group: GroupUserManagement},
		{Name: PermRolesView, Label: "View roles", Group: GroupRoleManagement},
		{Name: PermRolesManage, Label: "Manage roles", Group: GroupRoleManagement},
		{Name: PermPermissionsView, Label: "View permissions", Group: GroupPermissionManagement},
	}
}

// PermissionCatalog returns every permission the platform recognises, in
// presentation order. The database seed in migrations/ mirrors this list.
func PermissionCatalog() []PermissionDef {
	catalog := coreCatalog()
	catalog = append(catalog, dashboardCatalog()...)
	return catalog
}
