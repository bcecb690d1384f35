package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ada/internal/domain"
)

// StoredMessage is one turn of a direct-mode conversation.
type StoredMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore persists direct-mode conversation history. The
// orchestrator reads a bounded recent window from it when assembling the
// working context.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a conversation store on the shared database.
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// EnsureConversation returns conversationID when it exists and belongs to
// the tenant, otherwise creates a fresh conversation and returns its id.
func (s *ConversationStore) EnsureConversation(ctx context.Context, tenantID, conversationID string) (string, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	if conversationID != "" {
		var owner string
		err := s.db.QueryRowContext(ctx,
			"SELECT tenant_id FROM conversations WHERE id = ?", conversationID,
		).Scan(&owner)
		if err == nil && owner == tenantID {
			return conversationID, nil
		}
		if err != nil && err != sql.ErrNoRows {
			return "", fmt.Errorf("lookup conversation %q: %w", conversationID, err)
		}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, tenant_id, title, created_at) VALUES (?, ?, ?, ?)",
		id, tenantID, "Conversation "+now.Format("2006-01-02 15:04"), now.Format(TimeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// Append stores one message at the end of a conversation.
func (s *ConversationStore) Append(ctx context.Context, conversationID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		conversationID, role, content, time.Now().UTC().Format(TimeFormat),
	)
	if err != nil {
		return fmt.Errorf("append message to %q: %w", conversationID, err)
	}
	return nil
}

// RecentWindow returns the last limit messages of a conversation in
// chronological order.
func (s *ConversationStore) RecentWindow(ctx context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent window %q: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var (
			m         StoredMessage
			createdAt string
		)
		if err := rows.Scan(&m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(TimeFormat, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
