package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ada/internal/domain"
	"ada/internal/logging"
	"ada/internal/storage"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = fmt.Errorf("task not found")

// Store persists tasks in the shared SQLite database.
type Store struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// NewStore creates a task store on the shared database.
func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logging.OrNop(logger), now: time.Now}
}

// Create persists a new task in the pending state. The conversation
// reference, when present in the initial context, is additionally indexed
// for thread lookup; the context map stays the single source of truth.
func (s *Store) Create(ctx context.Context, tenantID, description string, initialContext map[string]any) (*domain.Task, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" {
		return nil, &domain.ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if initialContext == nil {
		initialContext = map[string]any{}
	}

	contextJSON, err := json.Marshal(initialContext)
	if err != nil {
		return nil, &domain.ValidationError{Field: "context", Reason: fmt.Sprintf("not serializable: %v", err)}
	}

	now := s.now().UTC()
	t := &domain.Task{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Description: description,
		Status:      domain.TaskPending,
		Context:     initialContext,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	conversationID, _ := initialContext[domain.ContextConversationID].(string)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, tenant_id, description, status, context, conversation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Description, string(t.Status), string(contextJSON),
		conversationID, now.Format(storage.TimeFormat), now.Format(storage.TimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("Created task %s for tenant %s: %s", t.ID, tenantID, description)
	return t, nil
}

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, description, status, context, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, taskID)
	return scanTask(row)
}

// Transition moves a task to newStatus, validating the edge against the
// state graph and merging contextPatch into the context map (last write wins
// per key). The status guard in the UPDATE makes concurrent transitions of
// the same task safe: the loser observes zero affected rows and re-reads.
func (s *Store) Transition(ctx context.Context, taskID string, newStatus domain.TaskStatus, contextPatch map[string]any) (*domain.Task, error) {
	if !newStatus.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}

	for {
		t, err := s.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(t.Status, newStatus) {
			return nil, &InvalidTransitionError{TaskID: taskID, From: t.Status, To: newStatus}
		}

		merged := make(map[string]any, len(t.Context)+len(contextPatch))
		for k, v := range t.Context {
			merged[k] = v
		}
		for k, v := range contextPatch {
			merged[k] = v
		}
		contextJSON, err := json.Marshal(merged)
		if err != nil {
			return nil, &domain.ValidationError{Field: "context", Reason: fmt.Sprintf("patch not serializable: %v", err)}
		}

		now := s.now().UTC()
		var completedAt any
		if newStatus.Terminal() {
			completedAt = now.Format(storage.TimeFormat)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, context = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
			WHERE id = ? AND status = ?`,
			string(newStatus), string(contextJSON), now.Format(storage.TimeFormat), completedAt,
			taskID, string(t.Status),
		)
		if err != nil {
			return nil, fmt.Errorf("transition task %s: %w", taskID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("transition task %s: %w", taskID, err)
		}
		if affected == 0 {
			// Lost a race with a concurrent transition; re-read and
			// re-validate against the fresh status.
			continue
		}

		s.logger.Info("Task %s: %s -> %s", taskID, t.Status, newStatus)

		t.Status = newStatus
		t.Context = merged
		t.UpdatedAt = now
		if newStatus.Terminal() {
			t.CompletedAt = &now
		}
		return t, nil
	}
}

// ListWaiting returns all waiting tasks for a tenant, oldest first, so
// resumption matching is deterministic.
func (s *Store) ListWaiting(ctx context.Context, tenantID string) ([]*domain.Task, error) {
	return s.listByStatus(ctx, tenantID, domain.TaskWaiting)
}

func (s *Store) listByStatus(ctx context.Context, tenantID string, status domain.TaskStatus) ([]*domain.Task, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, description, status, context, created_at, updated_at, completed_at
		FROM tasks WHERE tenant_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC`,
		tenantID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s tasks: %w", status, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListByConversation returns a conversation thread's tasks, oldest first.
// The thread reference lives one-directionally in the task context; the
// conversation_id column only serves lookup.
func (s *Store) ListByConversation(ctx context.Context, tenantID, conversationID string) ([]*domain.Task, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, description, status, context, created_at, updated_at, completed_at
		FROM tasks WHERE tenant_id = ? AND conversation_id = ?
		ORDER BY created_at ASC, id ASC`,
		tenantID, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by conversation: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// List returns all of a tenant's tasks, newest first, for the management
// surface.
func (s *Store) List(ctx context.Context, tenantID string, limit int) ([]*domain.Task, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, description, status, context, created_at, updated_at, completed_at
		FROM tasks WHERE tenant_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t           domain.Task
		status      string
		contextJSON string
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.Description, &status, &contextJSON, &createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Status = domain.TaskStatus(status)
	if err := json.Unmarshal([]byte(contextJSON), &t.Context); err != nil {
		return nil, fmt.Errorf("decode context for task %s: %w", t.ID, err)
	}
	t.CreatedAt, _ = time.Parse(storage.TimeFormat, createdAt)
	t.UpdatedAt, _ = time.Parse(storage.TimeFormat, updatedAt)
	if completedAt.Valid {
		done, _ := time.Parse(storage.TimeFormat, completedAt.String)
		t.CompletedAt = &done
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
