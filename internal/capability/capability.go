// Package capability defines the typed interface between the reasoning loop
// and the outside world. Every external action or query the orchestrator may
// take is a named capability with a declared schema; concrete providers
// (mail, calendar, CRM, embeddings) plug in behind stable contracts.
package capability

import (
	"context"
	"fmt"
)

// Call is a single capability invocation request, as parsed from the
// reasoning loop's tool call.
type Call struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of a capability invocation. Content is the text fed
// back into the reasoning loop; Data carries the structured value for the
// response side-channel.
type Result struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// Definition is the schema surfaced to the reasoning model. Parameters is a
// JSON-schema object describing the arguments.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Executor executes a single capability. Implementations must be safe for
// concurrent use; every call is tenant-scoped.
type Executor interface {
	Definition() Definition
	Execute(ctx context.Context, tenantID string, call Call) (*Result, error)
}

// Error is a structured capability failure the reasoning loop can reason
// about (retry with different parameters, or tell the user) instead of
// crashing the turn. The capability layer has already applied its bounded
// retry by the time one of these surfaces.
type Error struct {
	Capability string
	Err        error
	Retryable  bool
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("capability %s failed: %s", e.Capability, e.Detail)
	}
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Argument accessors tolerant of the loosely typed maps produced by JSON
// decoding of model output.

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, fallback int) int {
	if args == nil {
		return fallback
	}
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func stringSliceArg(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
