package shared

// Core permissions that are not derived from an entity config.
const (
	PermUsersImpersonate = "users.impersonate"
	PermRolesAssign      = "roles.assign"
	PermAuditView        = "audit.view"
	PermJobsManage       = "jobs.manage"
)

// CoreScopes lists the permissions the admin core checks directly.
func CoreScopes() []string {
	return []string{
		PermUsersImpersonate,
		PermRolesAssign,
		PermAuditView,
		PermJobsManage,
	}
}
