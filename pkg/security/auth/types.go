package auth

import "slices"

// Role is a permission granted to an API key.
type Role string

const (
	// RoleIngest allows registering records and reporting activity and
	// consent withdrawals.
	RoleIngest Role = "ingest"

	// RoleRead allows reading records, certificates, holds, the audit log,
	// the catalog and anomalies.
	RoleRead Role = "read"

	// RoleOperator allows everything, including legal holds and the admin
	// routes.
	RoleOperator Role = "operator"
)

// Principal is an authenticated caller.
type Principal struct {
	// Name identifies the caller and is recorded as the audit actor.
	Name  string
	Roles []Role
}

// HasRole reports whether p was granted role. Operators hold every role.
func (p *Principal) HasRole(role Role) bool {
	return slices.Contains(p.Roles, role) || slices.Contains(p.Roles, RoleOperator)
}
