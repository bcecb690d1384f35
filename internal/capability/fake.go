package capability

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// In-memory providers. They back the dev profile and the test suites; the
// paging cursors they hand out are plain offsets, opaque to callers.

// FakeMail is an in-memory MailProvider.
type FakeMail struct {
	mu       sync.Mutex
	messages map[string][]MailMessage // tenantID -> inbox, oldest first
	sent     map[string][]MailMessage
	seq      int
}

func NewFakeMail() *FakeMail {
	return &FakeMail{
		messages: make(map[string][]MailMessage),
		sent:     make(map[string][]MailMessage),
	}
}

// Receive appends an inbound message to a tenant's inbox.
func (f *FakeMail) Receive(tenantID string, msg MailMessage) MailMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == "" {
		f.seq++
		msg.ID = fmt.Sprintf("mail-%d", f.seq)
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now().UTC()
	}
	f.messages[tenantID] = append(f.messages[tenantID], msg)
	return msg
}

func (f *FakeMail) Search(ctx context.Context, tenantID, query string, max int) ([]MailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if max <= 0 {
		max = 10
	}
	q := strings.ToLower(query)
	var out []MailMessage
	for _, m := range f.messages[tenantID] {
		if q == "" ||
			strings.Contains(strings.ToLower(m.Subject), q) ||
			strings.Contains(strings.ToLower(m.Body), q) ||
			strings.Contains(strings.ToLower(m.From), q) {
			out = append(out, m)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

func (f *FakeMail) Send(ctx context.Context, tenantID, to, subject, body string) (*MailReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	msg := MailMessage{
		ID:      fmt.Sprintf("sent-%d", f.seq),
		To:      to,
		Subject: subject,
		Body:    body,
		Date:    time.Now().UTC(),
	}
	f.sent[tenantID] = append(f.sent[tenantID], msg)
	return &MailReceipt{MessageID: msg.ID, SentAt: msg.Date}, nil
}

// Sent returns the outbound messages recorded for a tenant.
func (f *FakeMail) Sent(tenantID string) []MailMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MailMessage, len(f.sent[tenantID]))
	copy(out, f.sent[tenantID])
	return out
}

func (f *FakeMail) ListSince(ctx context.Context, tenantID, cursor string, limit int) ([]MailMessage, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageSlice(f.messages[tenantID], cursor, limit)
}

// FakeCalendar is an in-memory CalendarProvider.
type FakeCalendar struct {
	mu     sync.Mutex
	events map[string][]CalendarEvent
	seq    int
}

func NewFakeCalendar() *FakeCalendar {
	return &FakeCalendar{events: make(map[string][]CalendarEvent)}
}

func (f *FakeCalendar) Events(ctx context.Context, tenantID string, r TimeRange) ([]CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []CalendarEvent
	for _, ev := range f.events[tenantID] {
		if ev.Start.Before(r.To) && r.From.Before(ev.End) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *FakeCalendar) CreateEvent(ctx context.Context, tenantID string, ev CalendarEvent) (*CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	ev.ID = fmt.Sprintf("event-%d", f.seq)
	f.events[tenantID] = append(f.events[tenantID], ev)
	return &ev, nil
}

// FakeCRM is an in-memory CRMProvider.
type FakeCRM struct {
	mu       sync.Mutex
	contacts map[string][]Contact
	notes    map[string][]Note
	seq      int
}

func NewFakeCRM() *FakeCRM {
	return &FakeCRM{
		contacts: make(map[string][]Contact),
		notes:    make(map[string][]Note),
	}
}

func (f *FakeCRM) SearchContacts(ctx context.Context, tenantID, query string, max int) ([]Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if max <= 0 {
		max = 10
	}
	q := strings.ToLower(query)
	var out []Contact
	for _, c := range f.contacts[tenantID] {
		haystack := strings.ToLower(c.FirstName + " " + c.LastName + " " + c.Email + " " + c.Company)
		if q == "" || strings.Contains(haystack, q) {
			out = append(out, c)
			if len(out) >= max {
				break
			}
		}
	}
	return out, nil
}

func (f *FakeCRM) CreateContact(ctx context.Context, tenantID string, c Contact) (*Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c.ID = fmt.Sprintf("contact-%d", f.seq)
	f.contacts[tenantID] = append(f.contacts[tenantID], c)
	return &c, nil
}

func (f *FakeCRM) ContactNotes(ctx context.Context, tenantID, contactID string, max int) ([]Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if max <= 0 {
		max = 10
	}
	var out []Note
	for _, n := range f.notes[tenantID] {
		if n.ContactID == contactID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (f *FakeCRM) CreateNote(ctx context.Context, tenantID, contactID, body string) (*Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	n := Note{
		ID:        fmt.Sprintf("note-%d", f.seq),
		ContactID: contactID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	f.notes[tenantID] = append(f.notes[tenantID], n)
	return &n, nil
}

func (f *FakeCRM) ListContactsSince(ctx context.Context, tenantID, cursor string, limit int) ([]Contact, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageSlice(f.contacts[tenantID], cursor, limit)
}

func (f *FakeCRM) ListNotesSince(ctx context.Context, tenantID, cursor string, limit int) ([]Note, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageSlice(f.notes[tenantID], cursor, limit)
}

// pageSlice implements offset paging over an append-only slice. The returned
// cursor equals the old cursor when the page is empty, so callers can detect
// the end of the stream.
func pageSlice[T any](items []T, cursor string, limit int) ([]T, string, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		offset = n
	}
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return nil, cursor, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	page := make([]T, end-offset)
	copy(page, items[offset:end])
	return page, strconv.Itoa(end), nil
}

// FakeEmbedder is a deterministic EmbeddingProvider. Vectors are bag-of-words
// hashes, so texts sharing words score closer under cosine similarity. Good
// enough for tests and the dev profile; never for production relevance.
type FakeEmbedder struct {
	dims  int
	batch int

	mu    sync.Mutex
	calls int
}

func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{dims: 64, batch: 16}
}

func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	vec := make([]float32, f.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(f.dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > f.batch {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(texts), f.batch)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *FakeEmbedder) Dimensions() int { return f.dims }
func (f *FakeEmbedder) BatchLimit() int { return f.batch }

// Calls reports how many embeddings were computed; used to assert caching.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
