package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ada/internal/capability"
	"ada/internal/llm"
	"ada/internal/logging"
)

// Sub-routine presets. Each preset is a named goal specialist with a scoped
// capability view; the delegate capability never appears inside a preset, so
// delegation cannot nest.
var subagentPresets = map[string]struct {
	description  string
	prompt       string
	capabilities []string
}{
	"email_researcher": {
		description: "Researches a question across the tenant's mailbox and knowledge base.",
		prompt: "You research a question using the tenant's mail and knowledge base. " +
			"Search thoroughly, then reply with a concise findings summary.",
		capabilities: []string{"search_mail", "semantic_query"},
	},
	"calendar_scheduler": {
		description: "Finds open slots and books calendar events.",
		prompt: "You handle scheduling. Check the calendar, find open slots and create events as needed. " +
			"Reply with what you booked or found.",
		capabilities: []string{"get_calendar_events", "find_available_slots", "create_calendar_event"},
	},
	"crm_manager": {
		description: "Looks up and maintains CRM contacts and notes.",
		prompt: "You maintain CRM records. Look up contacts, create or annotate them as the goal requires. " +
			"Reply with what you changed or found.",
		capabilities: []string{"search_crm_contacts", "create_crm_contact", "get_contact_notes", "create_crm_note", "semantic_query"},
	},
}

// NewDelegate returns the delegate capability: it hands a sub-goal to one of
// the named specialists, which runs its own bounded loop against a scoped
// capability view and returns a text summary.
func NewDelegate(client llm.Client, registry *capability.Registry, logger logging.Logger) capability.Executor {
	names := make([]string, 0, len(subagentPresets))
	for name := range subagentPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	var docs strings.Builder
	for _, name := range names {
		fmt.Fprintf(&docs, " %s: %s", name, subagentPresets[name].description)
	}

	return &capability.Func{
		Def: capability.Definition{
			Name:        "delegate",
			Description: "Delegate a self-contained sub-goal to a specialist." + docs.String(),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"specialist": map[string]any{
						"type":        "string",
						"enum":        names,
						"description": "Which specialist to use",
					},
					"goal": map[string]any{
						"type":        "string",
						"description": "The sub-goal, stated completely",
					},
				},
				"required": []string{"specialist", "goal"},
			},
		},
		Fn: func(ctx context.Context, tenantID string, call capability.Call) (*capability.Result, error) {
			specialist, _ := call.Arguments["specialist"].(string)
			goal, _ := call.Arguments["goal"].(string)
			preset, ok := subagentPresets[specialist]
			if !ok {
				return nil, fmt.Errorf("unknown specialist: %q", specialist)
			}
			if strings.TrimSpace(goal) == "" {
				return nil, fmt.Errorf("goal is required")
			}

			sub := NewEngine(client, registry.Subset(preset.capabilities...), logger,
				WithMaxIterations(6),
				WithMaxWallClock(time.Minute),
			)
			outcome, err := sub.Run(ctx, tenantID, []llm.Message{
				{Role: llm.RoleSystem, Content: preset.prompt},
				{Role: llm.RoleUser, Content: goal},
			})
			if err != nil {
				return nil, fmt.Errorf("specialist %s: %w", specialist, err)
			}
			return &capability.Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: outcome.Answer,
				Data:    outcome.Invocations,
			}, nil
		},
	}
}
