package models

// OperatorRole is carried in the "role" claim of admin API tokens.
type OperatorRole string

const (
	OperatorViewer OperatorRole = "viewer"
	OperatorAdmin  OperatorRole = "admin"
)

// Operator is the authenticated caller of the admin API.
type Operator struct {
	Subject string       `json:"sub"`
	Role    OperatorRole `json:"role"`
}
