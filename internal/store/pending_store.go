package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vbonduro/shelflife/internal/domain"
)

// PendingWrite is one queued write to the primary store.
type PendingWrite struct {
	Seq     int64
	TxID    string
	Kind    string
	Payload []byte
	// Stage records the last replay step the primary store accepted.
	Stage     string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// PendingStore is the outbox of writes the primary store has not yet
// accepted. Rows are replayed in Seq order.
type PendingStore struct {
	db DBTX
}

func NewPendingStore(db DBTX) *PendingStore {
	return &PendingStore{db: db}
}

// WithTx returns a copy of the store that runs its statements in tx.
func (s *PendingStore) WithTx(tx *sql.Tx) *PendingStore {
	return &PendingStore{db: tx}
}

func (s *PendingStore) Enqueue(ctx context.Context, txID, kind string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_writes (tx_id, kind, payload) VALUES (?, ?, ?)
	`, txID, kind, string(payload))
	if err != nil {
		return fmt.Errorf("failed to enqueue pending write: %w", err)
	}
	return nil
}

// List returns queued writes in replay order.
func (s *PendingStore) List(ctx context.Context) ([]PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tx_id, kind, payload, stage, attempts, last_error, created_at
		FROM pending_writes ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending writes: %w", err)
	}
	defer closeRows(rows)

	var writes []PendingWrite
	for rows.Next() {
		var (
			w       PendingWrite
			payload string
		)
		if err := rows.Scan(&w.Seq, &w.TxID, &w.Kind, &payload, &w.Stage, &w.Attempts, &w.LastError, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending write: %w", err)
		}
		w.Payload = []byte(payload)
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending writes: %w", err)
	}
	return writes, nil
}

func (s *PendingStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_writes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending writes: %w", err)
	}
	return n, nil
}

// Delete removes a write once the primary store has accepted it.
func (s *PendingStore) Delete(ctx context.Context, seq int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_writes WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to delete pending write: %w", err)
	}
	return nil
}

// SetStage records progress through a multi-step replay so a retry does not
// repeat steps the primary store already accepted.
func (s *PendingStore) SetStage(ctx context.Context, seq int64, stage string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE pending_writes SET stage = ? WHERE seq = ?`, stage, seq); err != nil {
		return fmt.Errorf("failed to set pending write stage: %w", err)
	}
	return nil
}

// MarkFailed records a failed replay attempt. The write stays queued.
func (s *PendingStore) MarkFailed(ctx context.Context, seq int64, cause error) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_writes SET attempts = attempts + 1, last_error = ? WHERE seq = ?
	`, cause.Error(), seq)
	if err != nil {
		return fmt.Errorf("failed to mark pending write: %w", err)
	}
	return nil
}

// DroppedStore keeps writes that replay refused so they can be reviewed.
type DroppedStore struct {
	db DBTX
}

func NewDroppedStore(db DBTX) *DroppedStore {
	return &DroppedStore{db: db}
}

// WithTx returns a copy of the store that runs its statements in tx.
func (s *DroppedStore) WithTx(tx *sql.Tx) *DroppedStore {
	return &DroppedStore{db: tx}
}

func (s *DroppedStore) Record(ctx context.Context, d domain.DroppedWrite, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dropped_writes (tx_id, kind, username, food_name, delta, reason, payload, dropped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.TxID, d.Kind, d.Username, d.FoodName, d.Delta, d.Reason, string(payload), formatTimestamp(d.DroppedAt))
	if err != nil {
		return fmt.Errorf("failed to record dropped write: %w", err)
	}
	return nil
}

// List returns dropped writes oldest first.
func (s *DroppedStore) List(ctx context.Context) ([]domain.DroppedWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_id, kind, username, food_name, delta, reason, dropped_at
		FROM dropped_writes ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dropped writes: %w", err)
	}
	defer closeRows(rows)

	dropped := []domain.DroppedWrite{}
	for rows.Next() {
		var (
			d  domain.DroppedWrite
			at string
		)
		if err := rows.Scan(&d.TxID, &d.Kind, &d.Username, &d.FoodName, &d.Delta, &d.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan dropped write: %w", err)
		}
		if d.DroppedAt, err = parseTimestamp(at); err != nil {
			return nil, fmt.Errorf("failed to scan dropped write %s: %w", d.TxID, err)
		}
		dropped = append(dropped, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dropped writes: %w", err)
	}
	return dropped, nil
}
