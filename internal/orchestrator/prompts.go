package orchestrator

import (
	"fmt"
	"strings"

	"ada/internal/domain"
)

const directSystemPrompt = `You are a diligent assistant acting on behalf of one tenant.
You can search and send mail, read and write the calendar, read and write CRM records, and search the tenant's knowledge base.
Work step by step. Invoke exactly one capability per turn; when the goal needs no further action, reply with your final answer.
If you send a message or invite whose reply you must act on later, record it with create_waiting_task before finishing.
Use mark_task_complete when a previously recorded task is done.
Ground claims in retrieved documents when they are provided.`

const resumptionSystemPrompt = `You are resuming a previously suspended task for one tenant.
The awaited external reply has now arrived. Continue the task from its recorded context and drive it to an outcome.
Invoke exactly one capability per turn. When the task is done, call mark_task_complete and then reply with a short summary.
If the reply makes further waiting necessary, record a new expectation with create_waiting_task.`

const proactiveSystemPrompt = `You evaluate an inbound event against the tenant's standing instructions.
Decide whether any instruction obliges you to act on this event. If none applies, reply exactly "no action" and do nothing else.
If an instruction applies, carry it out with capability calls. Every capability call MUST include an "instruction_id" argument naming the instruction that justified it; untagged calls are rejected.
Invoke exactly one capability per turn. Finish with a one-line summary of what you did.`

func retrievedContext(docs []domain.RankedDoc) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant documents from the tenant's knowledge base:\n")
	for _, d := range docs {
		fmt.Fprintf(&b, "\n[%s/%s]\n%s\n", d.SourceType, d.SourceID, d.Content)
	}
	return b.String()
}

func taskContext(task *domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suspended task %s: %s\n", task.ID, task.Description)
	if waitingFor := task.ContextString(domain.ContextWaitingFor); waitingFor != "" {
		fmt.Fprintf(&b, "It was waiting for: %s from %s\n", waitingFor, task.ContextString(domain.ContextExpectedFrom))
	}
	for key, value := range task.Context {
		switch key {
		case domain.ContextWaitingFor, domain.ContextExpectedFrom:
			continue
		}
		fmt.Fprintf(&b, "Context %s: %v\n", key, value)
	}
	return b.String()
}

func eventContext(event domain.InboundEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Inbound %s event %s\n", event.Channel, event.EventID)
	fmt.Fprintf(&b, "From: %s\n", event.SenderIdentity)
	if event.SubjectOrSummary != "" {
		fmt.Fprintf(&b, "Subject: %s\n", event.SubjectOrSummary)
	}
	if body, ok := event.RawPayload["body"].(string); ok && body != "" {
		fmt.Fprintf(&b, "\n%s\n", body)
	}
	return b.String()
}

func instructionList(instructions []*domain.Instruction) string {
	var b strings.Builder
	b.WriteString("Active standing instructions:\n")
	for _, ins := range instructions {
		fmt.Fprintf(&b, "- [%s] %s\n", ins.ID, ins.Text)
	}
	return b.String()
}
