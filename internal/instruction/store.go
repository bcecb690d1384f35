// Package instruction owns standing natural-language instructions. The core
// only reads them; creation and deactivation come from the operator-facing
// management surface. Matching against events is entirely the reasoning
// loop's job — instructions are deliberately unstructured text.
package instruction

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ada/internal/domain"
	"ada/internal/logging"
	"ada/internal/storage"
)

// ErrNotFound is returned when an instruction id does not exist.
var ErrNotFound = fmt.Errorf("instruction not found")

// Store persists instructions in the shared SQLite database.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// NewStore creates an instruction store on the shared database.
func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logging.OrNop(logger)}
}

// Add persists a new active instruction.
func (s *Store) Add(ctx context.Context, tenantID, text string) (*domain.Instruction, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "instruction", Reason: "must not be empty"}
	}

	inst := &domain.Instruction{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Text:      text,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO instructions (id, tenant_id, instruction, active, created_at) VALUES (?, ?, ?, 1, ?)",
		inst.ID, inst.TenantID, inst.Text, inst.CreatedAt.Format(storage.TimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("add instruction: %w", err)
	}

	s.logger.Info("Added instruction %s for tenant %s", inst.ID, tenantID)
	return inst, nil
}

// ListActive returns a tenant's active instructions in creation order.
// Evaluation considers the whole set, but a stable order keeps tests and
// prompts deterministic.
func (s *Store) ListActive(ctx context.Context, tenantID string) ([]*domain.Instruction, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, instruction, active, created_at
		FROM instructions WHERE tenant_id = ? AND active = 1
		ORDER BY created_at ASC, id ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active instructions: %w", err)
	}
	defer rows.Close()

	var instructions []*domain.Instruction
	for rows.Next() {
		inst, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, inst)
	}
	return instructions, rows.Err()
}

// Get returns an instruction by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Instruction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, tenant_id, instruction, active, created_at FROM instructions WHERE id = ?", id)
	inst, err := scanInstruction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return inst, err
}

// Deactivate retires an instruction. The row is kept for the audit trail.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE instructions SET active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deactivate instruction %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Info("Deactivated instruction %s", id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstruction(row rowScanner) (*domain.Instruction, error) {
	var (
		inst      domain.Instruction
		active    int
		createdAt string
	)
	if err := row.Scan(&inst.ID, &inst.TenantID, &inst.Text, &active, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan instruction: %w", err)
	}
	inst.Active = active != 0
	inst.CreatedAt, _ = time.Parse(storage.TimeFormat, createdAt)
	return &inst, nil
}
