package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ada/internal/domain"
)

// AmbiguousEvent is an inbound event that matched more than one waiting
// task. The engine never picks a winner; the event is parked here so an
// operator can resolve it, and the poll cursor can still advance.
type AmbiguousEvent struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenant_id"`
	Event          domain.InboundEvent `json:"event"`
	CandidateTasks []string            `json:"candidate_tasks"`
	RecordedAt     time.Time           `json:"recorded_at"`
	Resolved       bool                `json:"resolved"`
}

// AmbiguityStore is the durable parking lot for ambiguous events.
type AmbiguityStore struct {
	db *sql.DB
}

// NewAmbiguityStore creates an ambiguity store on the shared database.
func NewAmbiguityStore(db *sql.DB) *AmbiguityStore {
	return &AmbiguityStore{db: db}
}

// Park records the event and its candidate task ids.
func (s *AmbiguityStore) Park(ctx context.Context, tenantID string, ev domain.InboundEvent, candidateTasks []string) (*AmbiguousEvent, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	candidates, err := json.Marshal(candidateTasks)
	if err != nil {
		return nil, fmt.Errorf("marshal candidates: %w", err)
	}

	rec := &AmbiguousEvent{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Event:          ev,
		CandidateTasks: candidateTasks,
		RecordedAt:     time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ambiguous_events
			(id, tenant_id, channel, event_id, sender_identity, subject, candidate_ids, observed_at, recorded_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.ID, tenantID, ev.Channel, ev.EventID, ev.SenderIdentity, ev.SubjectOrSummary,
		string(candidates), ev.ObservedAt.UTC().Format(TimeFormat),
		rec.RecordedAt.Format(TimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("park ambiguous event %q: %w", ev.EventID, err)
	}
	return rec, nil
}

// ListUnresolved returns parked events for a tenant, oldest first.
func (s *AmbiguityStore) ListUnresolved(ctx context.Context, tenantID string) ([]*AmbiguousEvent, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, channel, event_id, sender_identity, subject, candidate_ids, observed_at, recorded_at
		FROM ambiguous_events
		WHERE tenant_id = ? AND resolved = 0
		ORDER BY recorded_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ambiguous events: %w", err)
	}
	defer rows.Close()

	var events []*AmbiguousEvent
	for rows.Next() {
		var (
			rec        AmbiguousEvent
			candidates string
			observedAt string
			recordedAt string
		)
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.Event.Channel, &rec.Event.EventID,
			&rec.Event.SenderIdentity, &rec.Event.SubjectOrSummary,
			&candidates, &observedAt, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ambiguous event: %w", err)
		}
		if err := json.Unmarshal([]byte(candidates), &rec.CandidateTasks); err != nil {
			return nil, fmt.Errorf("decode candidates for %s: %w", rec.ID, err)
		}
		rec.Event.ObservedAt, _ = time.Parse(TimeFormat, observedAt)
		rec.RecordedAt, _ = time.Parse(TimeFormat, recordedAt)
		events = append(events, &rec)
	}
	return events, rows.Err()
}

// Resolve marks a parked event as handled by the operator.
func (s *AmbiguityStore) Resolve(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE ambiguous_events SET resolved = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("resolve ambiguous event %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ambiguous event not found: %s", id)
	}
	return nil
}
