package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SemanticSearcher is implemented by the retrieval index; declared here so
// the semantic_query capability does not depend on the rag package.
type SemanticSearcher interface {
	Query(ctx context.Context, tenantID, queryText string, topK int, sourceTypes []string, metadata map[string]string) ([]RankedDocView, error)
}

// RankedDocView is the retrieval hit shape the capability layer exposes to
// the reasoning loop.
type RankedDocView struct {
	Content    string            `json:"content"`
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float32           `json:"score"`
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// NewSearchMail returns the search_mail capability.
func NewSearchMail(mail MailProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "search_mail",
			Description: "Search the tenant's mailbox. Returns matching messages with sender, subject, date and a snippet.",
			Parameters: objectSchema(map[string]any{
				"query": strProp("Free-text search query"),
				"max":   intProp("Maximum results, default 10"),
			}, "query"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			msgs, err := mail.Search(ctx, tenantID, stringArg(call.Arguments, "query"), intArg(call.Arguments, "max", 10))
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Found %d message(s).\n", len(msgs))
			for _, m := range msgs {
				fmt.Fprintf(&b, "- [%s] from %s: %s (%s)\n", m.ID, m.From, m.Subject, m.Date.Format("2006-01-02"))
			}
			return &Result{CallID: call.ID, Name: call.Name, Content: b.String(), Data: msgs}, nil
		},
	}
}

// NewSendMail returns the send_mail capability.
func NewSendMail(mail MailProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "send_mail",
			Description: "Send an email on the tenant's behalf.",
			Parameters: objectSchema(map[string]any{
				"to":      strProp("Recipient address"),
				"subject": strProp("Subject line"),
				"body":    strProp("Plain-text body"),
			}, "to", "subject", "body"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			receipt, err := mail.Send(ctx, tenantID,
				stringArg(call.Arguments, "to"),
				stringArg(call.Arguments, "subject"),
				stringArg(call.Arguments, "body"))
			if err != nil {
				return nil, err
			}
			return &Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Sent. Message id %s.", receipt.MessageID),
				Data:    receipt,
			}, nil
		},
	}
}

// NewGetCalendarEvents returns the get_calendar_events capability.
func NewGetCalendarEvents(cal CalendarProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "get_calendar_events",
			Description: "List calendar events in a time range. Times are RFC 3339.",
			Parameters: objectSchema(map[string]any{
				"from": strProp("Range start, RFC 3339"),
				"to":   strProp("Range end, RFC 3339"),
			}, "from", "to"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			r, err := parseRange(call.Arguments)
			if err != nil {
				return nil, err
			}
			events, err := cal.Events(ctx, tenantID, r)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%d event(s) between %s and %s.\n", len(events), r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
			for _, ev := range events {
				fmt.Fprintf(&b, "- %s: %s - %s\n", ev.Title, ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339))
			}
			return &Result{CallID: call.ID, Name: call.Name, Content: b.String(), Data: events}, nil
		},
	}
}

// NewCreateCalendarEvent returns the create_calendar_event capability.
func NewCreateCalendarEvent(cal CalendarProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "create_calendar_event",
			Description: "Create a calendar event. Times are RFC 3339.",
			Parameters: objectSchema(map[string]any{
				"title":     strProp("Event title"),
				"start":     strProp("Start time, RFC 3339"),
				"end":       strProp("End time, RFC 3339"),
				"attendees": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Attendee email addresses"},
				"location":  strProp("Optional location or video link"),
			}, "title", "start", "end"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			start, err := time.Parse(time.RFC3339, stringArg(call.Arguments, "start"))
			if err != nil {
				return nil, fmt.Errorf("parse start: %w", err)
			}
			end, err := time.Parse(time.RFC3339, stringArg(call.Arguments, "end"))
			if err != nil {
				return nil, fmt.Errorf("parse end: %w", err)
			}
			created, err := cal.CreateEvent(ctx, tenantID, CalendarEvent{
				Title:     stringArg(call.Arguments, "title"),
				Start:     start,
				End:       end,
				Attendees: stringSliceArg(call.Arguments, "attendees"),
				Location:  stringArg(call.Arguments, "location"),
			})
			if err != nil {
				return nil, err
			}
			return &Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Created event %q (%s).", created.Title, created.ID),
				Data:    created,
			}, nil
		},
	}
}

// NewFindAvailableSlots returns the find_available_slots capability: open
// intervals of the requested duration inside business hours, computed from
// the tenant's calendar.
func NewFindAvailableSlots(cal CalendarProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "find_available_slots",
			Description: "Find open time slots of a given duration within a range, honoring existing events and 09:00-17:00 business hours.",
			Parameters: objectSchema(map[string]any{
				"from":             strProp("Range start, RFC 3339"),
				"to":               strProp("Range end, RFC 3339"),
				"duration_minutes": intProp("Slot length in minutes, default 60"),
				"max":              intProp("Maximum slots to return, default 5"),
			}, "from", "to"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			r, err := parseRange(call.Arguments)
			if err != nil {
				return nil, err
			}
			events, err := cal.Events(ctx, tenantID, r)
			if err != nil {
				return nil, err
			}
			duration := time.Duration(intArg(call.Arguments, "duration_minutes", 60)) * time.Minute
			max := intArg(call.Arguments, "max", 5)
			slots := availableSlots(r, events, duration, max)

			var b strings.Builder
			fmt.Fprintf(&b, "%d open slot(s) of %s.\n", len(slots), duration)
			for _, s := range slots {
				fmt.Fprintf(&b, "- %s - %s\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
			}
			return &Result{CallID: call.ID, Name: call.Name, Content: b.String(), Data: slots}, nil
		},
	}
}

// availableSlots walks business-hour windows day by day and emits the first
// max gaps not overlapping any event.
func availableSlots(r TimeRange, events []CalendarEvent, duration time.Duration, max int) []Slot {
	if max <= 0 {
		max = 5
	}
	sorted := make([]CalendarEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var slots []Slot
	for day := r.From.Truncate(24 * time.Hour); day.Before(r.To) && len(slots) < max; day = day.Add(24 * time.Hour) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, day.Location())
		close := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, day.Location())
		if open.Before(r.From) {
			open = r.From
		}
		if close.After(r.To) {
			close = r.To
		}

		cursor := open
		for cursor.Add(duration).Before(close) || cursor.Add(duration).Equal(close) {
			if len(slots) >= max {
				break
			}
			end := cursor.Add(duration)
			if conflict := firstOverlap(sorted, cursor, end); conflict != nil {
				cursor = conflict.End
				continue
			}
			slots = append(slots, Slot{Start: cursor, End: end})
			cursor = end
		}
	}
	return slots
}

func firstOverlap(sorted []CalendarEvent, start, end time.Time) *CalendarEvent {
	for i := range sorted {
		ev := &sorted[i]
		if ev.Start.Before(end) && start.Before(ev.End) {
			return ev
		}
	}
	return nil
}

// NewSearchCRMContacts returns the search_crm_contacts capability.
func NewSearchCRMContacts(crm CRMProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "search_crm_contacts",
			Description: "Search CRM contacts by name, email or company.",
			Parameters: objectSchema(map[string]any{
				"query": strProp("Free-text search query"),
				"max":   intProp("Maximum results, default 10"),
			}, "query"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			contacts, err := crm.SearchContacts(ctx, tenantID, stringArg(call.Arguments, "query"), intArg(call.Arguments, "max", 10))
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Found %d contact(s).\n", len(contacts))
			for _, c := range contacts {
				fmt.Fprintf(&b, "- [%s] %s %s <%s> %s\n", c.ID, c.FirstName, c.LastName, c.Email, c.Company)
			}
			return &Result{CallID: call.ID, Name: call.Name, Content: b.String(), Data: contacts}, nil
		},
	}
}

// NewCreateCRMContact returns the create_crm_contact capability.
func NewCreateCRMContact(crm CRMProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "create_crm_contact",
			Description: "Create a new CRM contact.",
			Parameters: objectSchema(map[string]any{
				"email":      strProp("Contact email address"),
				"first_name": strProp("First name"),
				"last_name":  strProp("Last name"),
				"company":    strProp("Optional company"),
			}, "email"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			created, err := crm.CreateContact(ctx, tenantID, Contact{
				Email:     stringArg(call.Arguments, "email"),
				FirstName: stringArg(call.Arguments, "first_name"),
				LastName:  stringArg(call.Arguments, "last_name"),
				Company:   stringArg(call.Arguments, "company"),
			})
			if err != nil {
				return nil, err
			}
			return &Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Created contact %s (%s).", created.ID, created.Email),
				Data:    created,
			}, nil
		},
	}
}

// NewGetContactNotes returns the get_contact_notes capability.
func NewGetContactNotes(crm CRMProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "get_contact_notes",
			Description: "List the notes attached to a CRM contact, newest first.",
			Parameters: objectSchema(map[string]any{
				"contact_id": strProp("CRM contact id"),
				"max":        intProp("Maximum notes, default 10"),
			}, "contact_id"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			notes, err := crm.ContactNotes(ctx, tenantID, stringArg(call.Arguments, "contact_id"), intArg(call.Arguments, "max", 10))
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%d note(s).\n", len(notes))
			for _, n := range notes {
				fmt.Fprintf(&b, "- [%s] %s: %s\n", n.ID, n.CreatedAt.Format("2006-01-02"), n.Body)
			}
			return &Result{CallID: call.ID, Name: call.Name, Content: b.String(), Data: notes}, nil
		},
	}
}

// NewCreateCRMNote returns the create_crm_note capability.
func NewCreateCRMNote(crm CRMProvider) Executor {
	return &Func{
		Def: Definition{
			Name:        "create_crm_note",
			Description: "Attach a note to a CRM contact.",
			Parameters: objectSchema(map[string]any{
				"contact_id": strProp("CRM contact id"),
				"text":       strProp("Note body"),
			}, "contact_id", "text"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			note, err := crm.CreateNote(ctx, tenantID,
				stringArg(call.Arguments, "contact_id"),
				stringArg(call.Arguments, "text"))
			if err != nil {
				return nil, err
			}
			return &Result{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Created note %s on contact %s.", note.ID, note.ContactID),
				Data:    note,
			}, nil
		},
	}
}

// NewSemanticQuery returns the semantic_query capability over the retrieval
// index.
func NewSemanticQuery(searcher SemanticSearcher) Executor {
	return &Func{
		Def: Definition{
			Name:        "semantic_query",
			Description: "Search the tenant's knowledge base semantically across ingested mail, contacts and notes.",
			Parameters: objectSchema(map[string]any{
				"query":        strProp("Natural-language query"),
				"top_k":        intProp("Maximum results, default 5"),
				"source_types": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Optional filter: email, crm_contact, crm_note"},
			}, "query"),
		},
		Fn: func(ctx context.Context, tenantID string, call Call) (*Result, error) {
			docs, err := searcher.Query(ctx, tenantID,
				stringArg(call.Arguments, "query"),
				intArg(call.Arguments, "top_k", 5),
				stringSliceArg(call.Arguments, "source_types"),
				nil)
			if err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%d document(s).\n", len(docs))
			for _, d := range docs {
				fmt.Fprintf(&b, "--- %s/%s (score %.2f)\n%s\n", d.SourceType, d.SourceID, d.Score, d.Content)
			}
			return &Result{CallID: call.ID, Name: call.Name, Content: b.String(), Data: docs}, nil
		},
	}
}

func parseRange(args map[string]any) (TimeRange, error) {
	from, err := time.Parse(time.RFC3339, stringArg(args, "from"))
	if err != nil {
		return TimeRange{}, fmt.Errorf("parse from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, stringArg(args, "to"))
	if err != nil {
		return TimeRange{}, fmt.Errorf("parse to: %w", err)
	}
	return TimeRange{From: from, To: to}, nil
}
