// Package storage reconciles the primary remote store with the local SQLite
// snapshot. Reads prefer the primary and fall back to the snapshot; writes
// land locally first and are replayed to the primary in order.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
	"github.com/vbonduro/shelflife/internal/store"
)

// DefaultPrimaryTimeout bounds each call to the primary store.
const DefaultPrimaryTimeout = 5 * time.Second

// Pending write kinds.
const (
	kindTx    = "tx"
	kindItem  = "item"
	kindEvent = "event"
)

// stageItem marks a transaction whose item row the primary already accepted.
const stageItem = "item"

type Options struct {
	ItemSheet      string
	EventSheet     string
	PrimaryTimeout time.Duration
}

// Status describes the adapter's view of the primary store.
type Status struct {
	Primary   bool      `json:"primary_configured"`
	Degraded  bool      `json:"degraded"`
	LastError string    `json:"last_error,omitempty"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	Pending   int       `json:"pending_writes"`
	Dropped   int       `json:"dropped_writes"`
}

// FlushReport summarises one replay pass over the outbox.
type FlushReport struct {
	Applied   int
	Dropped   []domain.DroppedWrite
	Remaining int
	Err       error
}

type Adapter struct {
	db      *sql.DB
	items   *store.ItemStore
	events  *store.EventStore
	pending *store.PendingStore
	dropped *store.DroppedStore

	primary    remote.Table
	parser     *record.Parser
	itemSheet  remote.Sheet
	eventSheet remote.Sheet
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	// localMu orders local commits against snapshot refreshes.
	localMu    sync.Mutex
	generation atomic.Uint64
	// flushMu serialises outbox replay.
	flushMu sync.Mutex

	statusMu  sync.Mutex
	degraded  bool
	lastError string
	lastSync  time.Time
}

// New returns an adapter over the local database. A nil primary makes the
// local snapshot the only store.
func New(db *sql.DB, primary remote.Table, parser *record.Parser, opts Options, logger *slog.Logger) *Adapter {
	if opts.ItemSheet == "" {
		opts.ItemSheet = "DB"
	}
	if opts.EventSheet == "" {
		opts.EventSheet = "Ledger"
	}
	if opts.PrimaryTimeout <= 0 {
		opts.PrimaryTimeout = DefaultPrimaryTimeout
	}
	return &Adapter{
		db:         db,
		items:      store.NewItemStore(db),
		events:     store.NewEventStore(db),
		pending:    store.NewPendingStore(db),
		dropped:    store.NewDroppedStore(db),
		primary:    primary,
		parser:     parser,
		itemSheet:  remote.Sheet{Name: opts.ItemSheet, Columns: record.ItemColumns, Key: record.ItemKey},
		eventSheet: remote.Sheet{Name: opts.EventSheet, Columns: record.EventColumns, Key: record.EventKey},
		timeout:    opts.PrimaryTimeout,
		logger:     logger,
		now:        time.Now,
	}
}

// ReadAll returns every inventory row. The primary store is preferred; when
// it cannot be reached, or writes are still queued for it, the local snapshot
// is returned instead. Only a failing local store is an error.
func (a *Adapter) ReadAll(ctx context.Context) ([]domain.InventoryItem, error) {
	if a.primary == nil || !a.drain(ctx) {
		return a.localItems(ctx)
	}

	gen := a.generation.Load()
	var rows []record.Row
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		rows, err = a.primary.ReadAll(ctx, a.itemSheet)
		return err
	})
	if err != nil {
		a.markDegraded(err)
		return a.localItems(ctx)
	}
	a.markHealthy()

	items := a.dedupe(a.parser.ParseItems(rows))

	a.localMu.Lock()
	defer a.localMu.Unlock()
	if a.generation.Load() != gen {
		// A local write landed while the primary was being read.
		return a.localItems(ctx)
	}
	if err := store.RunInTx(ctx, a.db, func(tx *sql.Tx) error {
		return a.items.WithTx(tx).ReplaceAll(ctx, items)
	}); err != nil {
		a.logger.Error("failed to refresh local snapshot", "error", err)
	}
	return items, nil
}

// ReadEvents returns the ledger history oldest first, merging in any events
// the primary store has that the local copy lacks.
func (a *Adapter) ReadEvents(ctx context.Context) ([]domain.LedgerEvent, error) {
	if a.primary != nil && a.drain(ctx) {
		var rows []record.Row
		err := a.call(ctx, func(ctx context.Context) error {
			var err error
			rows, err = a.primary.ReadAll(ctx, a.eventSheet)
			return err
		})
		if err != nil {
			a.markDegraded(err)
		} else {
			a.markHealthy()
			if err := a.events.Merge(ctx, a.parser.ParseEvents(rows)); err != nil {
				a.logger.Error("failed to merge primary ledger", "error", err)
			}
		}
	}

	events, err := a.events.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read local ledger: %w", err)
	}
	return events, nil
}

// Commit persists an item update and its ledger event as one local
// transaction, queues it for the primary store and attempts delivery. It
// reports whether the write is still queued. A *domain.DroppedWrite error
// means the primary store refused the write during this call.
func (a *Adapter) Commit(ctx context.Context, tx domain.Transaction) (bool, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return false, fmt.Errorf("failed to encode transaction: %w", err)
	}

	if err := a.commitLocal(ctx, func(sqlTx *sql.Tx) error {
		if err := a.items.WithTx(sqlTx).Upsert(ctx, tx.Item); err != nil {
			return err
		}
		if err := a.events.WithTx(sqlTx).Append(ctx, tx.Event); err != nil {
			return err
		}
		return a.enqueue(ctx, sqlTx, tx.ID, kindTx, payload)
	}); err != nil {
		return false, err
	}

	return a.deliver(ctx, tx.ID)
}

// AppendEvent records ev locally and queues it for the primary store.
func (a *Adapter) AppendEvent(ctx context.Context, ev domain.LedgerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := a.commitLocal(ctx, func(sqlTx *sql.Tx) error {
		if err := a.events.WithTx(sqlTx).Append(ctx, ev); err != nil {
			return err
		}
		return a.enqueue(ctx, sqlTx, uuid.NewString(), kindEvent, payload)
	}); err != nil {
		return err
	}
	_, err = a.deliver(ctx, "")
	return err
}

// WriteSnapshot upserts items locally and queues each row for the primary
// store.
func (a *Adapter) WriteSnapshot(ctx context.Context, items []domain.InventoryItem) error {
	if err := a.commitLocal(ctx, func(sqlTx *sql.Tx) error {
		for _, it := range items {
			if err := a.items.WithTx(sqlTx).Upsert(ctx, it); err != nil {
				return err
			}
			payload, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("failed to encode item: %w", err)
			}
			if err := a.enqueue(ctx, sqlTx, uuid.NewString(), kindItem, payload); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, err := a.deliver(ctx, "")
	return err
}

// Status reports degraded mode and outbox sizes.
func (a *Adapter) Status(ctx context.Context) (Status, error) {
	pending, err := a.pending.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	dropped, err := a.dropped.List(ctx)
	if err != nil {
		return Status{}, err
	}

	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	return Status{
		Primary:   a.primary != nil,
		Degraded:  a.degraded,
		LastError: a.lastError,
		LastSync:  a.lastSync,
		Pending:   pending,
		Dropped:   len(dropped),
	}, nil
}

// Dropped lists writes the primary store refused, oldest first.
func (a *Adapter) Dropped(ctx context.Context) ([]domain.DroppedWrite, error) {
	return a.dropped.List(ctx)
}

func (a *Adapter) commitLocal(ctx context.Context, fn func(*sql.Tx) error) error {
	a.localMu.Lock()
	defer a.localMu.Unlock()
	if err := store.RunInTx(ctx, a.db, fn); err != nil {
		return fmt.Errorf("failed to commit locally: %w", err)
	}
	a.generation.Add(1)
	return nil
}

func (a *Adapter) enqueue(ctx context.Context, sqlTx *sql.Tx, id, kind string, payload []byte) error {
	if a.primary == nil {
		return nil
	}
	return a.pending.WithTx(sqlTx).Enqueue(ctx, id, kind, payload)
}

// deliver flushes the outbox after a local commit. It reports whether writes
// remain queued and returns the drop report for txID if that write was
// refused.
func (a *Adapter) deliver(ctx context.Context, txID string) (bool, error) {
	if a.primary == nil {
		return false, nil
	}
	report := a.Flush(ctx)
	for i := range report.Dropped {
		if txID != "" && report.Dropped[i].TxID == txID {
			return false, &report.Dropped[i]
		}
	}
	return report.Remaining > 0, nil
}

// drain replays queued writes and reports whether the outbox is empty.
func (a *Adapter) drain(ctx context.Context) bool {
	n, err := a.pending.Count(ctx)
	if err != nil {
		a.logger.Error("failed to count pending writes", "error", err)
		return false
	}
	if n == 0 {
		return true
	}
	return a.Flush(ctx).Remaining == 0
}

func (a *Adapter) localItems(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := a.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read local snapshot: %w", err)
	}
	return items, nil
}

// dedupe keeps one row per user and food name, preferring rows that still
// hold stock.
func (a *Adapter) dedupe(items []domain.InventoryItem) []domain.InventoryItem {
	type key struct{ user, food string }
	idx := make(map[key]int, len(items))
	out := make([]domain.InventoryItem, 0, len(items))
	for _, it := range items {
		k := key{it.Username, strings.ToLower(it.FoodName)}
		i, seen := idx[k]
		if !seen {
			idx[k] = len(out)
			out = append(out, it)
			continue
		}
		if out[i].Active() && it.Active() {
			a.logger.Warn("duplicate active inventory rows", "username", it.Username, "food_name", it.FoodName)
		}
		if it.Active() || !out[i].Active() {
			out[i] = it
		}
	}
	return out
}

// call runs fn against the primary store with the per-call timeout.
func (a *Adapter) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return fn(ctx)
}

func (a *Adapter) markDegraded(err error) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	if !a.degraded {
		a.logger.Warn("primary store unavailable, serving local snapshot", "error", err)
	}
	a.degraded = true
	a.lastError = err.Error()
}

func (a *Adapter) markHealthy() {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	if a.degraded {
		a.logger.Info("primary store reachable again")
	}
	a.degraded = false
	a.lastError = ""
	a.lastSync = a.now().UTC()
}
