package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/shelflife/internal/domain"
)

// EventStore is the local copy of the append-only ledger.
type EventStore struct {
	db DBTX
}

func NewEventStore(db DBTX) *EventStore {
	return &EventStore{db: db}
}

// WithTx returns a copy of the store that runs its statements in tx.
func (s *EventStore) WithTx(tx *sql.Tx) *EventStore {
	return &EventStore{db: tx}
}

// Append stores ev. An event whose ID is already present is ignored, which
// makes Append safe to retry.
func (s *EventStore) Append(ctx context.Context, ev domain.LedgerEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, username, food_name, ts, delta_quantity, action, remark, co2_impact, cost_impact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Username, ev.FoodName, formatTimestamp(ev.Timestamp), ev.DeltaQuantity,
		string(ev.Action), ev.Remark, ev.CO2Impact.String(), ev.CostImpact.String())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Merge appends every event not already stored.
func (s *EventStore) Merge(ctx context.Context, events []domain.LedgerEvent) error {
	for _, ev := range events {
		if err := s.Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// List returns all events oldest first.
func (s *EventStore) List(ctx context.Context) ([]domain.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, food_name, ts, delta_quantity, action, remark, co2_impact, cost_impact
		FROM events ORDER BY ts ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer closeRows(rows)

	events := []domain.LedgerEvent{}
	for rows.Next() {
		var (
			ev         domain.LedgerEvent
			ts, action string
			co2, cost  string
		)
		if err := rows.Scan(&ev.ID, &ev.Username, &ev.FoodName, &ts, &ev.DeltaQuantity,
			&action, &ev.Remark, &co2, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if ev.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("failed to scan event %s: %w", ev.ID, err)
		}
		ev.Action = domain.Action(action)
		ev.CO2Impact = decimalFromText(co2)
		ev.CostImpact = decimalFromText(cost)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// Delete removes the event with the given ID. Deleting a missing event is
// not an error.
func (s *EventStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// Count returns the number of stored events.
func (s *EventStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
