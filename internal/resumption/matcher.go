// Package resumption decides which waiting task, if any, an inbound event
// unblocks. Matching is pure: no storage, no clock, no side effects, so the
// rules are trivially testable and the poller owns all consequences.
package resumption

import (
	"fmt"
	"strings"

	"ada/internal/domain"
)

// waitKindToChannel maps a task's waiting_for hint to the event channel that
// can satisfy it.
var waitKindToChannel = map[string]string{
	"email_reply":    domain.ChannelEmail,
	"calendar_reply": domain.ChannelCalendar,
	"crm_update":     domain.ChannelCRM,
}

// AmbiguityError reports that more than one waiting task claims the same
// event. The caller must not guess; the event is parked for an operator.
type AmbiguityError struct {
	EventID      string
	CandidateIDs []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("event %s matches %d waiting tasks: %s",
		e.EventID, len(e.CandidateIDs), strings.Join(e.CandidateIDs, ", "))
}

// Match returns the single waiting task the event resumes, or nil when no
// task matches. Tasks are candidates when the event channel satisfies their
// waiting_for hint and the sender matches expected_from.
func Match(waiting []*domain.Task, event domain.InboundEvent) (*domain.Task, error) {
	var matches []*domain.Task
	for _, task := range waiting {
		if task.Status != domain.TaskWaiting {
			continue
		}
		if Matches(task, event) {
			matches = append(matches, task)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, task := range matches {
			ids[i] = task.ID
		}
		return nil, &AmbiguityError{EventID: event.EventID, CandidateIDs: ids}
	}
}

// Matches reports whether a single waiting task is resumed by the event.
func Matches(task *domain.Task, event domain.InboundEvent) bool {
	waitingFor := task.ContextString(domain.ContextWaitingFor)
	if waitKindToChannel[waitingFor] != event.Channel {
		return false
	}
	expectedFrom := task.ContextString(domain.ContextExpectedFrom)
	if expectedFrom == "" {
		return false
	}
	return senderMatches(expectedFrom, event.SenderIdentity)
}

// senderMatches compares identities case-insensitively. The expected value
// is usually a bare address while the event sender may carry a display name,
// so containment counts as a match.
func senderMatches(expected, sender string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	sender = strings.ToLower(strings.TrimSpace(sender))
	if expected == "" || sender == "" {
		return false
	}
	return sender == expected || strings.Contains(sender, expected)
}
