// Package rag is the tenant-scoped retrieval index: embedding generation,
// vector storage and ranked semantic queries over ingested mail, contacts
// and notes.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ada/internal/capability"
	"ada/internal/errors"
)

// maxEmbedChars caps the text sent to the embedding provider. Longer inputs
// are truncated; the head of a document carries the retrieval signal.
const maxEmbedChars = 30000

// EmbedderConfig holds embedding provider configuration.
type EmbedderConfig struct {
	Model     string // default "text-embedding-3-small"
	APIKey    string
	BaseURL   string // default "https://api.openai.com/v1"
	CacheSize int    // LRU cache size, default 10000
}

// openaiEmbedder implements capability.EmbeddingProvider against an
// OpenAI-compatible embeddings endpoint.
type openaiEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
	retry      errors.RetryConfig
}

// NewOpenAIEmbedder creates the production embedding provider.
func NewOpenAIEmbedder(config EmbedderConfig) (capability.EmbeddingProvider, error) {
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.CacheSize == 0 {
		config.CacheSize = 10000
	}

	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &openaiEmbedder{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		cache: cache,
		retry: errors.DefaultRetryConfig(),
	}, nil
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = Truncate(text)
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > e.BatchLimit() {
		return nil, fmt.Errorf("batch size exceeds limit: %d > %d", len(texts), e.BatchLimit())
	}

	// Check cache and collect uncached texts.
	truncated := make([]string, len(texts))
	results := make([][]float32, len(texts))
	uncachedIndices := []int{}
	uncachedTexts := []string{}

	for i, text := range texts {
		truncated[i] = Truncate(text)
		if cached, ok := e.cache.Get(truncated[i]); ok {
			results[i] = cached
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, truncated[i])
		}
	}
	if len(uncachedTexts) == 0 {
		return results, nil
	}

	var embeddings [][]float32
	err := errors.Retry(ctx, e.retry, func(ctx context.Context) error {
		var callErr error
		embeddings, callErr = e.callAPI(ctx, uncachedTexts)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	for i, idx := range uncachedIndices {
		e.cache.Add(truncated[idx], embeddings[i])
		results[idx] = embeddings[i]
	}
	return results, nil
}

// Dimensions returns 1536, the width of text-embedding-3-small vectors.
func (e *openaiEmbedder) Dimensions() int {
	return 1536
}

// BatchLimit matches the OpenAI embeddings endpoint's input cap.
func (e *openaiEmbedder) BatchLimit() int {
	return 2048
}

func (e *openaiEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]any{
		"model": e.config.Model,
		"input": texts,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &errors.TransientError{Err: err, Message: "embeddings endpoint unreachable"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, errors.ClassifyHTTPStatus(resp.StatusCode, fmt.Errorf("embeddings API: %s", string(bodyBytes)))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("invalid embedding index: %d", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	for i, vec := range embeddings {
		if vec == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return embeddings, nil
}

// Truncate clamps text to the embedding input cap.
func Truncate(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	return text[:maxEmbedChars]
}

// EmbedAll chunks texts into provider-sized batches and embeds them all.
func EmbedAll(ctx context.Context, provider capability.EmbeddingProvider, texts []string) ([][]float32, error) {
	limit := provider.BatchLimit()
	if limit <= 0 {
		limit = 1
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += limit {
		end := start + limit
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := provider.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
