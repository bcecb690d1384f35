package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ada/internal/capability"
	"ada/internal/storage"
)

func newTestIngestor(t *testing.T) (*Ingestor, *capability.FakeMail, *capability.FakeCRM) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	index, err := NewIndex(IndexConfig{}, capability.NewFakeEmbedder(), nil)
	require.NoError(t, err)

	mail := capability.NewFakeMail()
	crm := capability.NewFakeCRM()
	return NewIngestor(index, storage.NewCursorStore(db), mail, crm, nil), mail, crm
}

func TestSyncAllIngestsEverySource(t *testing.T) {
	ig, mail, crm := newTestIngestor(t)
	ctx := context.Background()
	tenant := "tenant-a"

	mail.Receive(tenant, capability.MailMessage{From: "sara@example.com", Subject: "pricing", Body: "can you send the pricing deck"})
	contact, err := crm.CreateContact(ctx, tenant, capability.Contact{Email: "sara@example.com", FirstName: "Sara"})
	require.NoError(t, err)
	_, err = crm.CreateNote(ctx, tenant, contact.ID, "asked about pricing on the intro call")
	require.NoError(t, err)

	stats, err := ig.SyncAll(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Emails)
	assert.Equal(t, 1, stats.CRMContacts)
	assert.Equal(t, 1, stats.CRMNotes)

	count, err := ig.index.Count(tenant)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSyncAllResumesFromCursor(t *testing.T) {
	ig, mail, _ := newTestIngestor(t)
	ctx := context.Background()
	tenant := "tenant-a"

	mail.Receive(tenant, capability.MailMessage{From: "a@example.com", Subject: "one", Body: "first"})
	_, err := ig.SyncAll(ctx, tenant)
	require.NoError(t, err)

	// A second run with no new records ingests nothing.
	stats, err := ig.SyncAll(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total())

	// New mail after the watermark is picked up incrementally.
	mail.Receive(tenant, capability.MailMessage{From: "b@example.com", Subject: "two", Body: "second"})
	stats, err = ig.SyncAll(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Emails)
}

func TestReingestionIsIdempotent(t *testing.T) {
	ig, mail, _ := newTestIngestor(t)
	ctx := context.Background()
	tenant := "tenant-a"

	msg := mail.Receive(tenant, capability.MailMessage{From: "a@example.com", Subject: "one", Body: "first"})
	_, err := ig.SyncAll(ctx, tenant)
	require.NoError(t, err)

	// Simulate a crash before the cursor advanced: replaying the same page
	// must not duplicate documents.
	require.NoError(t, ig.index.Upsert(ctx, EmailDocument(tenant, msg)))

	count, err := ig.index.Count(tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStatsReportsCountAndCursors(t *testing.T) {
	ig, mail, _ := newTestIngestor(t)
	ctx := context.Background()
	tenant := "tenant-a"

	mail.Receive(tenant, capability.MailMessage{From: "a@example.com", Subject: "one", Body: "first"})
	_, err := ig.SyncAll(ctx, tenant)
	require.NoError(t, err)

	stats, err := ig.Stats(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, "1", stats.Cursors[cursorEmails])
}

func TestEmailDocumentNormalization(t *testing.T) {
	m := capability.MailMessage{
		ID:      "m1",
		From:    "sara@example.com",
		To:      "me@example.com",
		Subject: "renewal terms",
		Body:    "see attached",
		Date:    time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	d := EmailDocument("tenant-a", m)
	assert.Equal(t, "email", d.SourceType)
	assert.Equal(t, "m1", d.SourceID)
	assert.Contains(t, d.Content, "sara@example.com")
	assert.Contains(t, d.Content, "renewal terms")
	assert.Equal(t, "sara@example.com", d.Metadata["from"])
}

// countingEmbedder records how the index reaches the provider: single-text
// calls versus batch calls and their sizes.
type countingEmbedder struct {
	inner *capability.FakeEmbedder

	mu      sync.Mutex
	single  int
	batches []int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.single++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, len(texts))
	c.mu.Unlock()
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEmbedder) BatchLimit() int { return c.inner.BatchLimit() }

func TestIngestionEmbedsInProviderSizedBatches(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	embedder := &countingEmbedder{inner: capability.NewFakeEmbedder()}
	index, err := NewIndex(IndexConfig{}, embedder, nil)
	require.NoError(t, err)

	mail := capability.NewFakeMail()
	ig := NewIngestor(index, storage.NewCursorStore(db), mail, capability.NewFakeCRM(), nil)

	ctx := context.Background()
	tenant := "tenant-a"
	for i := 0; i < 20; i++ {
		mail.Receive(tenant, capability.MailMessage{
			From:    fmt.Sprintf("sender%d@example.com", i),
			Subject: fmt.Sprintf("message %d", i),
			Body:    "body",
		})
	}

	stats, err := ig.SyncAll(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, 20, stats.Emails)

	// A page of documents goes to the provider in batch-limit chunks, never
	// one call per document.
	assert.Zero(t, embedder.single)
	assert.Equal(t, []int{16, 4}, embedder.batches)

	count, err := index.Count(tenant)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}
