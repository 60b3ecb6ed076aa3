// README: Payment ledger store backed by PostgreSQL, plus an in-memory variant.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"movedispatch/internal/modules/move"
	"movedispatch/internal/types"
)

type Ledger interface {
	// Record inserts the move's ledger row; a second call for the same move
	// reports inserted=false and changes nothing.
	Record(ctx context.Context, r Record) (bool, error)
	MarkCompleted(ctx context.Context, moveID types.ID, at time.Time) error
	Get(ctx context.Context, moveID types.ID) (*Record, error)
}

type PGLedger struct {
	db *pgxpool.Pool
}

func NewPGLedger(db *pgxpool.Pool) *PGLedger {
	return &PGLedger{db: db}
}

func (l *PGLedger) Record(ctx context.Context, r Record) (bool, error) {
	tag, err := l.db.Exec(ctx, `
		INSERT INTO payments (move_id, method, amount, currency, status, reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $7)
		ON CONFLICT (move_id) DO NOTHING`,
		string(r.MoveID), string(r.Method), r.Amount.Amount, r.Amount.Currency, string(r.Status), r.Reference, r.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PGLedger) MarkCompleted(ctx context.Context, moveID types.ID, at time.Time) error {
	_, err := l.db.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = $3
		WHERE move_id = $1`, string(moveID), string(move.PaymentCompleted), at)
	return err
}

func (l *PGLedger) Get(ctx context.Context, moveID types.ID) (*Record, error) {
	var r Record
	var ref *string
	err := l.db.QueryRow(ctx, `
		SELECT move_id, method, amount, currency, status, reference, created_at, updated_at
		FROM payments WHERE move_id = $1`, string(moveID),
	).Scan(&r.MoveID, &r.Method, &r.Amount.Amount, &r.Amount.Currency, &r.Status, &ref, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, move.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ref != nil {
		r.Reference = *ref
	}
	return &r, nil
}

type MemoryLedger struct {
	mu      sync.Mutex
	records map[types.ID]Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[types.ID]Record)}
}

func (l *MemoryLedger) Record(_ context.Context, r Record) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[r.MoveID]; ok {
		return false, nil
	}
	r.UpdatedAt = r.CreatedAt
	l.records[r.MoveID] = r
	return true, nil
}

func (l *MemoryLedger) MarkCompleted(_ context.Context, moveID types.ID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[moveID]
	if !ok {
		return nil
	}
	r.Status = move.PaymentCompleted
	r.UpdatedAt = at
	l.records[moveID] = r
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, moveID types.ID) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[moveID]
	if !ok {
		return nil, move.ErrNotFound
	}
	return &r, nil
}
