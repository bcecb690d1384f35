package poller

import (
	"context"
	"strconv"
	"sync"

	"ada/internal/capability"
	"ada/internal/domain"
)

// MailSource adapts a mail provider's paging API into the email event
// channel.
type MailSource struct {
	Mail     capability.MailProvider
	PageSize int
}

func (s *MailSource) FetchSince(ctx context.Context, tenantID, cursor string) ([]domain.InboundEvent, string, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	msgs, next, err := s.Mail.ListSince(ctx, tenantID, cursor, pageSize)
	if err != nil {
		return nil, "", err
	}
	events := make([]domain.InboundEvent, len(msgs))
	for i, m := range msgs {
		events[i] = domain.InboundEvent{
			Channel:          domain.ChannelEmail,
			EventID:          m.ID,
			SenderIdentity:   m.From,
			SubjectOrSummary: m.Subject,
			RawPayload: map[string]any{
				"body": m.Body,
				"to":   m.To,
			},
			ObservedAt: m.Date,
		}
	}
	return events, next, nil
}

// MemorySource is an in-memory event source for tests and the dev profile.
// Cursors are offsets into the per-tenant event log.
type MemorySource struct {
	mu     sync.Mutex
	events map[string][]domain.InboundEvent
}

func NewMemorySource() *MemorySource {
	return &MemorySource{events: make(map[string][]domain.InboundEvent)}
}

// Push appends an event to a tenant's log.
func (s *MemorySource) Push(tenantID string, event domain.InboundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[tenantID] = append(s.events[tenantID], event)
}

func (s *MemorySource) FetchSince(ctx context.Context, tenantID, cursor string) ([]domain.InboundEvent, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", err
		}
		offset = n
	}
	log := s.events[tenantID]
	if offset >= len(log) {
		return nil, cursor, nil
	}
	page := make([]domain.InboundEvent, len(log)-offset)
	copy(page, log[offset:])
	return page, strconv.Itoa(len(log)), nil
}
