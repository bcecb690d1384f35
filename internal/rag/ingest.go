package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ada/internal/capability"
	"ada/internal/domain"
	"ada/internal/logging"
	"ada/internal/storage"
)

// Ingestion cursor channels. Kept distinct from the event poller's channels
// so a backfill never disturbs reply detection watermarks.
const (
	cursorEmails      = "ingest_email"
	cursorCRMContacts = "ingest_crm_contacts"
	cursorCRMNotes    = "ingest_crm_notes"
)

const defaultPageSize = 100

// Ingestor pulls records from the tenant's providers, normalizes them into
// documents and upserts them into the index. Each page is committed before
// its cursor advances, so a crash re-ingests at most one page; upserts are
// idempotent so the replay is harmless.
type Ingestor struct {
	index    *Index
	cursors  *storage.CursorStore
	mail     capability.MailProvider
	crm      capability.CRMProvider
	logger   logging.Logger
	pageSize int
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	TenantID    string `json:"tenant_id"`
	Emails      int    `json:"emails"`
	CRMContacts int    `json:"crm_contacts"`
	CRMNotes    int    `json:"crm_notes"`
	Pages       int    `json:"pages"`
}

// Total returns the number of documents written across all sources.
func (s IngestStats) Total() int {
	return s.Emails + s.CRMContacts + s.CRMNotes
}

// NewIngestor creates the ingestion pipeline.
func NewIngestor(index *Index, cursors *storage.CursorStore, mail capability.MailProvider, crm capability.CRMProvider, logger logging.Logger) *Ingestor {
	return &Ingestor{
		index:    index,
		cursors:  cursors,
		mail:     mail,
		crm:      crm,
		logger:   logging.OrNop(logger),
		pageSize: defaultPageSize,
	}
}

// SyncAll ingests every source for a tenant, resuming from stored cursors.
func (ig *Ingestor) SyncAll(ctx context.Context, tenantID string) (*IngestStats, error) {
	stats := &IngestStats{TenantID: tenantID}
	if err := ig.SyncEmails(ctx, tenantID, stats); err != nil {
		return stats, err
	}
	if err := ig.SyncCRM(ctx, tenantID, stats); err != nil {
		return stats, err
	}
	ig.logger.Info("Ingestion complete for tenant %s: %d document(s) across %d page(s)", tenantID, stats.Total(), stats.Pages)
	return stats, nil
}

// SyncEmails ingests the tenant's mailbox incrementally.
func (ig *Ingestor) SyncEmails(ctx context.Context, tenantID string, stats *IngestStats) error {
	return ig.syncPaged(ctx, tenantID, cursorEmails, stats, func(ctx context.Context, cursor string) (int, string, error) {
		msgs, next, err := ig.mail.ListSince(ctx, tenantID, cursor, ig.pageSize)
		if err != nil {
			return 0, "", fmt.Errorf("list mail: %w", err)
		}
		docs := make([]domain.Document, len(msgs))
		for i, m := range msgs {
			docs[i] = EmailDocument(tenantID, m)
		}
		if err := ig.index.Upsert(ctx, docs...); err != nil {
			return 0, "", err
		}
		stats.Emails += len(docs)
		return len(docs), next, nil
	})
}

// SyncCRM ingests the tenant's CRM contacts and notes incrementally.
func (ig *Ingestor) SyncCRM(ctx context.Context, tenantID string, stats *IngestStats) error {
	err := ig.syncPaged(ctx, tenantID, cursorCRMContacts, stats, func(ctx context.Context, cursor string) (int, string, error) {
		contacts, next, err := ig.crm.ListContactsSince(ctx, tenantID, cursor, ig.pageSize)
		if err != nil {
			return 0, "", fmt.Errorf("list contacts: %w", err)
		}
		docs := make([]domain.Document, len(contacts))
		for i, c := range contacts {
			docs[i] = ContactDocument(tenantID, c)
		}
		if err := ig.index.Upsert(ctx, docs...); err != nil {
			return 0, "", err
		}
		stats.CRMContacts += len(docs)
		return len(docs), next, nil
	})
	if err != nil {
		return err
	}
	return ig.syncPaged(ctx, tenantID, cursorCRMNotes, stats, func(ctx context.Context, cursor string) (int, string, error) {
		notes, next, err := ig.crm.ListNotesSince(ctx, tenantID, cursor, ig.pageSize)
		if err != nil {
			return 0, "", fmt.Errorf("list notes: %w", err)
		}
		docs := make([]domain.Document, len(notes))
		for i, n := range notes {
			docs[i] = NoteDocument(tenantID, n)
		}
		if err := ig.index.Upsert(ctx, docs...); err != nil {
			return 0, "", err
		}
		stats.CRMNotes += len(docs)
		return len(docs), next, nil
	})
}

// syncPaged drains one paged source. The cursor only advances after the
// page's documents are stored.
func (ig *Ingestor) syncPaged(ctx context.Context, tenantID, channel string, stats *IngestStats, page func(ctx context.Context, cursor string) (int, string, error)) error {
	cursor, err := ig.cursors.Get(ctx, tenantID, channel)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		count, next, err := page(ctx, cursor)
		if err != nil {
			return fmt.Errorf("%s for tenant %s: %w", channel, tenantID, err)
		}
		if count == 0 || next == cursor {
			return nil
		}
		if err := ig.cursors.Advance(ctx, tenantID, channel, next); err != nil {
			return err
		}
		stats.Pages++
		cursor = next
	}
}

// Normalizers. Each source record becomes one flat text document carrying
// enough structure for retrieval without losing the original fields.

// EmailDocument normalizes a mail message into an index document.
func EmailDocument(tenantID string, m capability.MailMessage) domain.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "Email from %s to %s\n", m.From, m.To)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\n\n", m.Date.Format("2006-01-02"))
	b.WriteString(m.Body)
	return domain.Document{
		TenantID:   tenantID,
		Content:    b.String(),
		SourceType: domain.SourceEmail,
		SourceID:   m.ID,
		Metadata: map[string]string{
			"from":    m.From,
			"subject": m.Subject,
		},
		UpdatedAt: m.Date,
	}
}

// ContactDocument normalizes a CRM contact into an index document.
func ContactDocument(tenantID string, c capability.Contact) domain.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "Contact: %s %s\n", c.FirstName, c.LastName)
	fmt.Fprintf(&b, "Email: %s\n", c.Email)
	if c.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", c.Company)
	}
	if c.JobTitle != "" {
		fmt.Fprintf(&b, "Title: %s\n", c.JobTitle)
	}
	if c.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", c.Phone)
	}
	if c.Lifecycle != "" {
		fmt.Fprintf(&b, "Lifecycle stage: %s\n", c.Lifecycle)
	}
	return domain.Document{
		TenantID:   tenantID,
		Content:    b.String(),
		SourceType: domain.SourceCRMContact,
		SourceID:   c.ID,
		Metadata: map[string]string{
			"email":   c.Email,
			"company": c.Company,
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// NoteDocument normalizes a CRM note into an index document.
func NoteDocument(tenantID string, n capability.Note) domain.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "CRM note on contact %s (%s)\n\n", n.ContactID, n.CreatedAt.Format("2006-01-02"))
	b.WriteString(n.Body)
	return domain.Document{
		TenantID:   tenantID,
		Content:    b.String(),
		SourceType: domain.SourceCRMNote,
		SourceID:   n.ID,
		Metadata: map[string]string{
			"contact_id": n.ContactID,
		},
		UpdatedAt: n.CreatedAt,
	}
}
