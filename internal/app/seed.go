package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
)

// Default role names created by Seed, next to rbac.SuperAdminRole.
const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleAnalyst = "analyst"
)

// SeedBinding assigns a seeded role to a user.
type SeedBinding struct {
	UserID string
	Role   string
}

type seedRole struct {
	name  string
	label string
	perms []string
	// sync replaces the permission set instead of adding to it.
	sync bool
}

func defaultSeedRoles(catalog []rbac.Permission) []seedRole {
	all := make([]string, 0, len(catalog))
	for _, p := range catalog {
		all = append(all, p.Name)
	}
	admin := make([]string, 0, len(all))
	for _, name := range all {
		if name != shared.PermSystemHealthView {
			admin = append(admin, name)
		}
	}
	return []seedRole{
		{name: rbac.SuperAdminRole, label: "Super Admin", perms: all, sync: true},
		{name: RoleAdmin, label: "Admin", perms: admin},
		{name: RoleStaff, label: "Staff", perms: []string{
			shared.PermDealsView,
			shared.PermPropertyPredictionsView,
			shared.PermPropertyAnalysisRun,
			shared.PermMarketDataView,
			shared.PermActivityView,
		}},
		{name: RoleAnalyst, label: "Analyst", perms: []string{shared.PermRevenueView}},
	}
}

// Seed creates the default roles and applies the bindings. Running it again
// adds missing permissions to existing roles and never removes any, except
// for super_admin which always holds the full catalog.
func Seed(ctx context.Context, svc *rbac.Service, bindings []SeedBinding) error {
	for _, role := range defaultSeedRoles(svc.PermissionCatalog()) {
		existing, err := svc.GetRole(ctx, role.name)
		switch {
		case errors.Is(err, rbac.ErrRoleNotFound):
			if _, err := svc.CreateRole(ctx, rbac.CreateRoleInput{Name: role.name, Label: role.label, Permissions: role.perms}); err != nil {
				return fmt.Errorf("seed %s: %w", role.name, err)
			}
			continue
		case err != nil:
			return fmt.Errorf("seed %s: %w", role.name, err)
		}
		want := role.perms
		if !role.sync {
			want = union(existing.Permissions, role.perms)
		}
		if slices.Equal(sortedCopy(existing.Permissions), sortedCopy(want)) {
			continue
		}
		if _, err := svc.UpdateRolePermissions(ctx, existing.ID, want); err != nil {
			return fmt.Errorf("seed %s: %w", role.name, err)
		}
	}
	for _, b := range bindings {
		if _, err := svc.AssignRole(ctx, b.UserID, b.Role); err != nil {
			return fmt.Errorf("seed binding %s=%s: %w", b.UserID, b.Role, err)
		}
	}
	return nil
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	slices.Sort(out)
	return out
}
