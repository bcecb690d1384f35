package domain

import "time"

// Source types recognised by the retrieval index and its normalizers.
const (
	SourceEmail      = "email"
	SourceCRMContact = "crm_contact"
	SourceCRMNote    = "crm_note"
)

// Document is a normalized, embedded piece of content in the retrieval
// index. At most one document exists per (tenant, source type, source id);
// re-ingestion overwrites in place.
type Document struct {
	TenantID   string            `json:"tenant_id"`
	Content    string            `json:"content"`
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RankedDoc is a retrieval hit: a document plus its cosine similarity to the
// query, higher is better.
type RankedDoc struct {
	Document
	Score float32 `json:"score"`
}
