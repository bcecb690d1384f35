package domain

import "time"

// Instruction is a standing natural-language rule evaluated against incoming
// events. The text is immutable once created; deactivation preserves the
// audit trail instead of editing in place.
type Instruction struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Text      string    `json:"text"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
