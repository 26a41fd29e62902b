package domain

import "time"

// PermissionWildcard grants every permission in the catalog.
const PermissionWildcard = "*"

const (
	PermUsersRead      = "users:read"
	PermUsersWrite     = "users:write"
	PermRolesRead      = "roles:read"
	PermRolesWrite     = "roles:write"
	PermEventsRead     = "events:read"
	PermEventsWrite    = "events:write"
	PermCalendarsRead  = "calendars:read"
	PermCalendarsWrite = "calendars:write"
	PermResourcesRead  = "resources:read"
	PermResourcesWrite = "resources:write"
	PermSettingsRead   = "settings:read"
	PermSettingsWrite  = "settings:write"
	PermBillingRead    = "billing:read"
	PermBillingWrite   = "billing:write"
	PermEntitiesRead   = "entities:read"
	PermEntitiesWrite  = "entities:write"
	PermEntitiesDelete = "entities:delete"
)

// PermissionCatalog is the fixed set custom roles are composed from.
var PermissionCatalog = []string{
	PermUsersRead, PermUsersWrite,
	PermRolesRead, PermRolesWrite,
	PermEventsRead, PermEventsWrite,
	PermCalendarsRead, PermCalendarsWrite,
	PermResourcesRead, PermResourcesWrite,
	PermSettingsRead, PermSettingsWrite,
	PermBillingRead, PermBillingWrite,
	PermEntitiesRead, PermEntitiesWrite, PermEntitiesDelete,
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
	RoleMember  = "member"
)

// DefaultRole is assigned on registration.
const DefaultRole = RoleMember

// BuiltInRoles maps each built-in role to its fixed permission set.
var BuiltInRoles = map[string][]string{
	RoleAdmin: {PermissionWildcard},
	RoleManager: {
		PermUsersRead, PermRolesRead,
		PermEventsRead, PermEventsWrite,
		PermCalendarsRead, PermCalendarsWrite,
		PermResourcesRead, PermResourcesWrite,
		PermSettingsRead,
		PermEntitiesRead, PermEntitiesWrite, PermEntitiesDelete,
	},
	RoleStaff: {
		PermEventsRead, PermEventsWrite,
		PermCalendarsRead, PermResourcesRead,
		PermEntitiesRead, PermEntitiesWrite,
	},
	RoleMember: {
		PermEventsRead, PermCalendarsRead, PermEntitiesRead,
	},
}

// BuiltInRoleOrder lists built-in roles from most to least privileged.
var BuiltInRoleOrder = []string{RoleAdmin, RoleManager, RoleStaff, RoleMember}

// IsBuiltInRole reports whether name is one of the fixed roles.
func IsBuiltInRole(name string) bool {
	_, ok := BuiltInRoles[name]
	return ok
}

// IsCatalogPermission reports whether perm is part of the catalog.
func IsCatalogPermission(perm string) bool {
	for _, p := range PermissionCatalog {
		if p == perm {
			return true
		}
	}
	return false
}

// Role is either a built-in role or a tenant-defined custom role.
type Role struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	BuiltIn     bool      `json:"built_in"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Ref returns the snapshot stored on users holding r.
func (r *Role) Ref() RoleRef {
	perms := make([]string, len(r.Permissions))
	copy(perms, r.Permissions)
	return RoleRef{ID: r.ID, Name: r.Name, Permissions: perms}
}

// RoleRef is the name and permission snapshot of a custom role kept on a user.
type RoleRef struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// BuiltInRoleList returns the fixed roles as Role values.
func BuiltInRoleList() []Role {
	roles := make([]Role, 0, len(BuiltInRoleOrder))
	for _, name := range BuiltInRoleOrder {
		perms := make([]string, len(BuiltInRoles[name]))
		copy(perms, BuiltInRoles[name])
		roles = append(roles, Role{ID: name, Name: name, Permissions: perms, BuiltIn: true})
	}
	return roles
}
