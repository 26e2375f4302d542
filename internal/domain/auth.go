package domain

// OperatorRole gates access to the HTTP API.
type OperatorRole string

const (
	// RoleViewer may read tickets, alerts, metrics and the active policy.
	RoleViewer OperatorRole = "viewer"
	// RoleOperator may additionally mutate tickets, trigger cycles and reload policy.
	RoleOperator OperatorRole = "operator"
)

// Valid reports whether r is a known role.
func (r OperatorRole) Valid() bool {
	return r == RoleViewer || r == RoleOperator
}
