// Package llm speaks the chat completions protocol to an OpenAI-compatible
// endpoint and defines the request/response types the reasoning loop uses.
package llm

import "ada/internal/capability"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation as the completion API sees it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that request capability
	// invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and Name are set on tool messages carrying a capability
	// result back to the model.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a model-requested capability invocation. Arguments is the raw
// JSON string exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionRequest is a single round trip to the model.
type CompletionRequest struct {
	Messages    []Message
	Tools       []capability.Definition
	Temperature float64
	MaxTokens   int
}

// TokenUsage reports the token accounting a provider returned.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the model's reply: either final content, or one or
// more tool calls to execute before the next round.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
}

// EstimateTokens approximates the token count of a text. Four characters per
// token is close enough for budget accounting.
func EstimateTokens(text string) int {
	return len(text) / 4
}
