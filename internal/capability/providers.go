package capability

import (
	"context"
	"time"
)

// Provider contracts. The core depends only on these interfaces; concrete
// network adapters (Gmail, Google Calendar, HubSpot, OpenAI embeddings, ...)
// live outside the core and are injected at wiring time.

// MailMessage is a normalized mail item.
type MailMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
	Snippet string    `json:"snippet,omitempty"`
}

// MailReceipt acknowledges an accepted outbound message.
type MailReceipt struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// MailProvider searches and sends mail for a tenant.
type MailProvider interface {
	Search(ctx context.Context, tenantID, query string, max int) ([]MailMessage, error)
	Send(ctx context.Context, tenantID, to, subject, body string) (*MailReceipt, error)
	// ListSince pages messages observed after cursor, returning the next
	// cursor; used by the ingestion pipeline.
	ListSince(ctx context.Context, tenantID, cursor string, limit int) ([]MailMessage, string, error)
}

// CalendarEvent is a normalized calendar entry.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Attendees []string  `json:"attendees,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// TimeRange bounds a calendar read.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Slot is an open interval suitable for scheduling.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalendarProvider reads and writes a tenant's calendar.
type CalendarProvider interface {
	Events(ctx context.Context, tenantID string, r TimeRange) ([]CalendarEvent, error)
	CreateEvent(ctx context.Context, tenantID string, ev CalendarEvent) (*CalendarEvent, error)
}

// Contact is a normalized CRM contact.
type Contact struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Phone     string `json:"phone,omitempty"`
	JobTitle  string `json:"job_title,omitempty"`
	Lifecycle string `json:"lifecycle,omitempty"`
}

// Note is a timestamped CRM note attached to a contact.
type Note struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CRMProvider reads and writes a tenant's CRM records.
type CRMProvider interface {
	SearchContacts(ctx context.Context, tenantID, query string, max int) ([]Contact, error)
	CreateContact(ctx context.Context, tenantID string, c Contact) (*Contact, error)
	ContactNotes(ctx context.Context, tenantID, contactID string, max int) ([]Note, error)
	CreateNote(ctx context.Context, tenantID, contactID, body string) (*Note, error)
	// ListContactsSince and ListNotesSince page records for ingestion.
	ListContactsSince(ctx context.Context, tenantID, cursor string, limit int) ([]Contact, string, error)
	ListNotesSince(ctx context.Context, tenantID, cursor string, limit int) ([]Note, string, error)
}

// EmbeddingProvider turns text into fixed-dimensionality vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// BatchLimit is the provider's maximum batch size per call.
	BatchLimit() int
}
