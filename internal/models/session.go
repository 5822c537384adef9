package models

// Session roles
const (
	RoleAdmin    = "ADMIN"
	RoleCoworker = "COWORKER"
)

// Session is the resolved identity for a logged-in phone number. It is
// derived per login and never persisted as its own record.
type Session struct {
	Role string `json:"role"`

	// Admin fields
	AdminID   string `json:"admin_id,omitempty"`
	AdminName string `json:"admin_name,omitempty"`

	// Coworker fields
	RecipientID   string `json:"recipient_id,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`

	// Shared
	LedgerID string `json:"ledger_id"`
}

// IsAdmin reports whether the session may mutate ledger state.
func (s *Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}
