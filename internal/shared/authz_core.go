package shared

// Core platform capabilities. These keys must exist in the capability
// catalog; the seed migration inserts them.
const (
	CapAuthzResolve = "authz.resolve"

	CapRolesView = "roles.view"
	CapRolesEdit = "roles.edit"

	CapAssignmentsView = "assignments.view"
	CapAssignmentsEdit = "assignments.edit"

	CapOverridesView = "overrides.view"
	CapOverridesEdit = "overrides.edit"

	CapAuditView = "audit.view"
)

// CoreCapabilities lists every capability owned by the authorization core
// itself.
func CoreCapabilities() []string {
	return []string{
		CapAuthzResolve,
		CapRolesView,
		CapRolesEdit,
		CapAssignmentsView,
		CapAssignmentsEdit,
		CapOverridesView,
		CapOverridesEdit,
		CapAuditView,
	}
}
