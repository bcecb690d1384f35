package domain

import "time"

// Event channels delivered by external sources.
const (
	ChannelEmail    = "email"
	ChannelCalendar = "calendar"
	ChannelCRM      = "crm"
)

// InboundEvent is an external occurrence observed by the poller: a new mail,
// a calendar response, a CRM change. The raw payload is carried through to
// the reasoning loop untouched.
type InboundEvent struct {
	Channel          string         `json:"channel"`
	EventID          string         `json:"event_id"`
	SenderIdentity   string         `json:"sender_identity"`
	SubjectOrSummary string         `json:"subject_or_summary"`
	RawPayload       map[string]any `json:"raw_payload,omitempty"`
	ObservedAt       time.Time      `json:"observed_at"`
}
