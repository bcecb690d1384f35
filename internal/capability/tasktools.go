package capability

import (
	"context"
	"fmt"

	"ada/internal/domain"
)

// TaskLifecycle is the slice of the task store the reasoning loop needs.
// Implemented by task.Store.
type TaskLifecycle interface {
	Create(ctx context.Context, tenantID, description string, initialContext map[string]any) (*domain.Task, error)
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	Transition(ctx context.Context, taskID string, newStatus domain.TaskStatus, contextPatch map[string]any) (*domain.Task, error)
}

// NewCreateWaitingTask returns the create_waiting_task capability. It records
// a commitment that is blocked on an external reply: the task is created and
// immediately driven to the waiting state with the resumption hints the
// matcher will use later.
func NewCreateWaitingTask(tasks TaskLifecycle) Executor {
	return &Func{
		Def: Definition{
			Name:        "create_waiting_task",
			Description: "Record a task that is blocked on an external reply. Use after sending an email or invite whose answer you must act on later.",
			Parameters: objectSchema(map[string]any{
				"description":   strProp("What the task is waiting to do once the reply arrives"),
				"waiting_for":   strProp("What kind of reply unblocks it: email_reply, calendar_reply or crm_update"),
				"expected_from": strProp("Identity the reply is expected from, usually an email address"),
			}, "description", "waiting_for", "expected_from"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			waitingFor := stringArg(call.Arguments, "waiting_for")
			expectedFrom := stringArg(call.Arguments, "expected_from")
			if waitingFor == "" || expectedFrom == "" {
				return nil, &domain.ValidationError{Field: "waiting_for", Reason: "waiting_for and expected_from are required"}
			}
			initial := map[string]any{
				domain.ContextWaitingFor:   waitingFor,
				domain.ContextExpectedFrom: expectedFrom,
			}
			if convID, ok := ctx.Value(conversationIDKey{}).(string); ok && convID != "" {
				initial[domain.ContextConversationID] = convID
			}
			created, err := tasks.Create(ctx, tenantID, stringArg(call.Arguments, "description"), initial)
			if err != nil {
				return nil, err
			}
			if _, err := tasks.Transition(ctx, created.ID, domain.TaskInProgress, nil); err != nil {
				return nil, err
			}
			parked, err := tasks.Transition(ctx, created.ID, domain.TaskWaiting, nil)
			if err != nil {
				return nil, err
			}
			return &Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Task %s is now waiting for %s from %s.", parked.ID, waitingFor, expectedFrom),
				Data:    parked,
			}, nil
		},
	}
}

// NewMarkTaskComplete returns the mark_task_complete capability.
func NewMarkTaskComplete(tasks TaskLifecycle) Executor {
	return &Func{
		Def: Definition{
			Name:        "mark_task_complete",
			Description: "Mark a task as completed, with a short outcome summary.",
			Parameters: objectSchema(map[string]any{
				"task_id": strProp("Id of the task to complete"),
				"outcome": strProp("One-line summary of what was accomplished"),
			}, "task_id"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			taskID := stringArg(call.Arguments, "task_id")
			current, err := tasks.Get(ctx, taskID)
			if err != nil {
				return nil, err
			}
			if current.TenantID != tenantID {
				return nil, &domain.ValidationError{Field: "task_id", Reason: "task belongs to another tenant"}
			}
			var patch map[string]any
			if outcome := stringArg(call.Arguments, "outcome"); outcome != "" {
				patch = map[string]any{"outcome": outcome}
			}
			completed, err := tasks.Transition(ctx, taskID, domain.TaskCompleted, patch)
			if err != nil {
				return nil, err
			}
			return &Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Task %s marked completed.", completed.ID),
				Data:    completed,
			}, nil
		},
	}
}

type conversationIDKey struct{}

// WithConversationID tags the context so create_waiting_task links new tasks
// to the conversation they were created in.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, conversationID)
}
