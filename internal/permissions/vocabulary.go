package permissions

// Permission vocabulary.
const (
	APIAccess         = "api_access"
	ManageUsers       = "manage_users"
	ManageRoles       = "manage_roles"
	ManageConnections = "manage_connections"
	ExecuteSQLRead    = "execute_sql_read"
	ExecuteSQLWrite   = "execute_sql_write"
	ExecuteSQLDDL     = "execute_sql_ddl"
)

// System role names.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// RoleDefinition describes a seeded role.
type RoleDefinition struct {
	Name        string
	Description string
	Permissions []string
}

func init() {
	for _, perm := range []*Permission{
		{ID: APIAccess, Description: "Use the API"},
		{ID: ManageUsers, Description: "Create, update and delete users"},
		{ID: ManageRoles, Description: "Create, update and delete custom roles"},
		{ID: ManageConnections, Description: "Register and modify connections"},
		{ID: ExecuteSQLRead, Description: "Run read-only statements"},
		{ID: ExecuteSQLWrite, Description: "Run data-modifying statements"},
		{ID: ExecuteSQLDDL, Description: "Run schema-changing statements"},
	} {
		if err := Register(perm); err != nil {
			panic(err)
		}
	}
}

// SystemRoles returns the immutable roles seeded at startup.
func SystemRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        RoleAdmin,
			Description: "Full access to every feature",
			Permissions: All(),
		},
		{
			Name:        RoleEditor,
			Description: "Manage connections and run read/write statements",
			Permissions: []string{APIAccess, ManageConnections, ExecuteSQLRead, ExecuteSQLWrite},
		},
		{
			Name:        RoleViewer,
			Description: "Run read-only statements",
			Permissions: []string{APIAccess, ExecuteSQLRead},
		},
	}
}

// IsSystemRole reports whether name is one of the seeded roles.
func IsSystemRole(name string) bool {
	switch name {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}
