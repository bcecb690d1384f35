package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus enumerates the lifecycle states of a multi-step workflow.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskWaiting    TaskStatus = "waiting"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskWaiting, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

// Well-known context keys. The context map is otherwise opaque to the store;
// these keys carry the suspension and bookkeeping metadata the engine reads.
const (
	ContextWaitingFor     = "waiting_for"
	ContextExpectedFrom   = "expected_from"
	ContextConversationID = "conversation_id"
	ContextRetryCount     = "retry_count"
	ContextFailureReason  = "failure_reason"
)

// Task is a persisted multi-step workflow owned by the task store. All
// mutation goes through store transitions; callers treat instances as
// snapshots.
type Task struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Description string         `json:"description"`
	Status      TaskStatus     `json:"status"`
	Context     map[string]any `json:"context"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ContextString returns the string value stored under key, or "".
func (t *Task) ContextString(key string) string {
	if t.Context == nil {
		return ""
	}
	v, _ := t.Context[key].(string)
	return v
}

// ContextInt returns the integer value stored under key. JSON round-trips
// store numbers as float64, so both representations are accepted.
func (t *Task) ContextInt(key string) int {
	if t.Context == nil {
		return 0
	}
	switch v := t.Context[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ValidateTenantID ensures a tenant id is present. Every read and write in
// the core is tenant-scoped; an empty tenant would silently widen a query.
func ValidateTenantID(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return &ValidationError{Field: "tenant_id", Reason: "must not be empty"}
	}
	return nil
}
