// Package task owns the durable multi-step workflow records and their state
// machine. All mutation goes through Create and Transition; illegal
// transitions are rejected without partial writes.
package task

import (
	"fmt"

	"ada/internal/domain"
)

// validTransitions is the state graph. Terminal states have no outgoing
// edges; a waiting task must pass through in_progress before finishing so
// every resumption is visible in the status history.
var validTransitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskPending:    {domain.TaskInProgress, domain.TaskCompleted, domain.TaskFailed},
	domain.TaskInProgress: {domain.TaskWaiting, domain.TaskCompleted, domain.TaskFailed},
	domain.TaskWaiting:    {domain.TaskInProgress},
	domain.TaskCompleted:  {},
	domain.TaskFailed:     {},
}

// InvalidTransitionError reports an attempted state change that violates the
// state graph. Nothing is mutated when it is returned.
type InvalidTransitionError struct {
	TaskID string
	From   domain.TaskStatus
	To     domain.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
