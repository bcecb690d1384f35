package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"ada/internal/capability"
	"ada/internal/domain"
	"ada/internal/logging"
)

// IndexConfig holds vector index configuration.
type IndexConfig struct {
	PersistPath string // empty for in-memory
}

// Index is the tenant-isolated vector index. Each tenant gets its own
// collection; a query can only ever touch the collection named by its tenant
// id, so cross-tenant reads are impossible by construction.
type Index struct {
	db       *chromem.DB
	embedder capability.EmbeddingProvider
	logger   logging.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewIndex creates a vector index backed by chromem-go.
func NewIndex(config IndexConfig, embedder capability.EmbeddingProvider, logger logging.Logger) (*Index, error) {
	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		persistFile := filepath.Join(config.PersistPath, "index.gob")
		db, err = chromem.NewPersistentDB(persistFile, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Index{
		db:          db,
		embedder:    embedder,
		logger:      logging.OrNop(logger),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// DocID is the stable identity of a document inside a tenant collection.
// Re-ingesting the same source record overwrites the previous version.
func DocID(sourceType, sourceID string) string {
	return sourceType + ":" + sourceID
}

func (ix *Index) collection(tenantID string) (*chromem.Collection, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[tenantID]; ok {
		return col, nil
	}
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return ix.embedder.Embed(ctx, Truncate(text))
	}
	col, err := ix.db.GetOrCreateCollection("tenant-"+tenantID, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("collection for tenant %s: %w", tenantID, err)
	}
	ix.collections[tenantID] = col
	return col, nil
}

// Upsert writes documents into the owning tenant's collection. Existing
// documents with the same (source type, source id) are overwritten. The
// whole batch is embedded up front in provider-sized chunks, so an
// ingestion page costs a handful of provider round trips rather than one
// per document.
func (ix *Index) Upsert(ctx context.Context, docs ...domain.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if err := domain.ValidateTenantID(doc.TenantID); err != nil {
			return err
		}
		if doc.SourceType == "" || doc.SourceID == "" {
			return &domain.ValidationError{Field: "source", Reason: "source_type and source_id are required"}
		}
		texts[i] = Truncate(doc.Content)
	}
	embeddings, err := EmbedAll(ctx, ix.embedder, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	for i, doc := range docs {
		col, err := ix.collection(doc.TenantID)
		if err != nil {
			return err
		}
		metadata := map[string]string{
			"source_type": doc.SourceType,
			"source_id":   doc.SourceID,
			"updated_at":  doc.UpdatedAt.UTC().Format(time.RFC3339),
		}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		err = col.AddDocument(ctx, chromem.Document{
			ID:        DocID(doc.SourceType, doc.SourceID),
			Content:   texts[i],
			Metadata:  metadata,
			Embedding: embeddings[i],
		})
		if err != nil {
			return fmt.Errorf("upsert %s for tenant %s: %w", DocID(doc.SourceType, doc.SourceID), doc.TenantID, err)
		}
	}
	return nil
}

// Delete removes documents from a tenant's collection by source identity.
func (ix *Index) Delete(ctx context.Context, tenantID string, sourceType, sourceID string) error {
	col, err := ix.collection(tenantID)
	if err != nil {
		return err
	}
	return col.Delete(ctx, nil, nil, DocID(sourceType, sourceID))
}

// Count returns the number of documents indexed for a tenant.
func (ix *Index) Count(tenantID string) (int, error) {
	col, err := ix.collection(tenantID)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Query runs a semantic search inside one tenant's collection. Results come
// back ranked by cosine similarity, ties broken by recency. sourceTypes and
// metadata narrow the candidate set when non-empty.
func (ix *Index) Query(ctx context.Context, tenantID, queryText string, topK int, sourceTypes []string, metadata map[string]string) ([]domain.RankedDoc, error) {
	col, err := ix.collection(tenantID)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	total := col.Count()
	if total == 0 {
		return nil, nil
	}

	// chromem filters are single exact-match maps, so a multi-type filter is
	// applied after an over-fetched query.
	where := map[string]string{}
	for k, v := range metadata {
		where[k] = v
	}
	fetch := topK
	switch len(sourceTypes) {
	case 0:
	case 1:
		where["source_type"] = sourceTypes[0]
	default:
		fetch = topK * len(sourceTypes)
	}
	if fetch > total {
		fetch = total
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := col.Query(ctx, queryText, fetch, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query tenant %s: %w", tenantID, err)
	}

	allowed := map[string]bool{}
	for _, st := range sourceTypes {
		allowed[st] = true
	}

	ranked := make([]domain.RankedDoc, 0, len(results))
	for _, r := range results {
		sourceType := r.Metadata["source_type"]
		if len(allowed) > 0 && !allowed[sourceType] {
			continue
		}
		ranked = append(ranked, domain.RankedDoc{
			Document: domain.Document{
				TenantID:   tenantID,
				Content:    r.Content,
				SourceType: sourceType,
				SourceID:   r.Metadata["source_id"],
				Metadata:   r.Metadata,
				UpdatedAt:  parseUpdatedAt(r.Metadata["updated_at"]),
			},
			Score: r.Similarity,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].UpdatedAt.After(ranked[j].UpdatedAt)
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func parseUpdatedAt(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Searcher adapts the index to the capability layer's search contract.
type Searcher struct {
	Index *Index
}

func (s Searcher) Query(ctx context.Context, tenantID, queryText string, topK int, sourceTypes []string, metadata map[string]string) ([]capability.RankedDocView, error) {
	docs, err := s.Index.Query(ctx, tenantID, queryText, topK, sourceTypes, metadata)
	if err != nil {
		return nil, err
	}
	views := make([]capability.RankedDocView, len(docs))
	for i, d := range docs {
		views[i] = capability.RankedDocView{
			Content:    d.Content,
			SourceType: d.SourceType,
			SourceID:   d.SourceID,
			Metadata:   d.Metadata,
			Score:      d.Score,
		}
	}
	return views, nil
}
