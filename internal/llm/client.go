package llm

import "context"

// Client is the reasoning model behind the orchestrator. Implementations
// must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Close() error
}

// Config holds client construction options.
type Config struct {
	Model       string
	APIKey      string
	BaseURL     string // default "https://api.openai.com/v1"
	Timeout     int    // seconds, default 120
	Temperature float64
	MaxTokens   int
}
