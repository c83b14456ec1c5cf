package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
	"github.com/vbonduro/shelflife/internal/store"
)

// Flush replays queued writes to the primary store in order. Replay stops at
// the first primary failure, leaving that write and everything after it
// queued. Writes that would break stock invariants on the primary are dropped
// and recorded for review.
func (a *Adapter) Flush(ctx context.Context) FlushReport {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	var report FlushReport
	if a.primary == nil {
		return report
	}

	writes, err := a.pending.List(ctx)
	if err != nil {
		a.logger.Error("failed to list pending writes", "error", err)
		report.Err = err
		return report
	}
	if len(writes) == 0 {
		return report
	}

	view := &primaryView{adapter: a}
	for i, w := range writes {
		err := a.replay(ctx, view, w)

		var drop *domain.DroppedWrite
		switch {
		case errors.As(err, &drop):
			if err := a.recordDrop(ctx, w, drop); err != nil {
				a.logger.Error("failed to record dropped write", "tx_id", w.TxID, "error", err)
				report.Err = err
				report.Remaining = len(writes) - i
				return report
			}
			report.Dropped = append(report.Dropped, *drop)
		case err != nil:
			a.markDegraded(err)
			if merr := a.pending.MarkFailed(ctx, w.Seq, err); merr != nil {
				a.logger.Error("failed to mark pending write", "tx_id", w.TxID, "error", merr)
			}
			report.Err = err
			report.Remaining = len(writes) - i
			a.logger.Warn("replay stopped", "tx_id", w.TxID, "remaining", report.Remaining, "error", err)
			return report
		default:
			if err := a.pending.Delete(ctx, w.Seq); err != nil {
				a.logger.Error("failed to delete replayed write", "tx_id", w.TxID, "error", err)
				report.Err = err
				report.Remaining = len(writes) - i
				return report
			}
			report.Applied++
		}
	}

	a.markHealthy()
	if report.Applied > 0 {
		a.logger.Info("replayed pending writes", "applied", report.Applied, "dropped", len(report.Dropped))
	}
	return report
}

func (a *Adapter) replay(ctx context.Context, view *primaryView, w store.PendingWrite) error {
	switch w.Kind {
	case kindTx:
		var tx domain.Transaction
		if err := json.Unmarshal(w.Payload, &tx); err != nil {
			return a.corrupt(w, err)
		}
		return a.replayTx(ctx, view, w, tx)
	case kindItem:
		var item domain.InventoryItem
		if err := json.Unmarshal(w.Payload, &item); err != nil {
			return a.corrupt(w, err)
		}
		return view.putItem(ctx, item)
	case kindEvent:
		var ev domain.LedgerEvent
		if err := json.Unmarshal(w.Payload, &ev); err != nil {
			return a.corrupt(w, err)
		}
		return view.appendEvent(ctx, ev)
	default:
		return &domain.DroppedWrite{TxID: w.TxID, Kind: w.Kind, Reason: "unknown write kind", DroppedAt: a.now().UTC()}
	}
}

// replayTx rebases the transaction's delta onto the primary's current
// quantity. The item row is written before the event; Stage remembers that
// the item step succeeded so a retry only appends the event.
func (a *Adapter) replayTx(ctx context.Context, view *primaryView, w store.PendingWrite, tx domain.Transaction) error {
	if w.Stage != stageItem {
		item, err := a.rebase(ctx, view, w, tx)
		if err != nil {
			return err
		}
		if err := view.putItem(ctx, item); err != nil {
			return err
		}
		if err := a.pending.SetStage(ctx, w.Seq, stageItem); err != nil {
			return fmt.Errorf("failed to record replay progress: %w", err)
		}
	}
	return view.appendEvent(ctx, tx.Event)
}

func (a *Adapter) rebase(ctx context.Context, view *primaryView, w store.PendingWrite, tx domain.Transaction) (domain.InventoryItem, error) {
	item := tx.Item
	delta := tx.Event.DeltaQuantity

	current, err := view.item(ctx, item.Username, item.FoodName)
	if err != nil {
		return item, err
	}

	drop := func(reason string) error {
		return &domain.DroppedWrite{
			TxID:      w.TxID,
			Kind:      w.Kind,
			Username:  item.Username,
			FoodName:  item.FoodName,
			Delta:     delta,
			Reason:    reason,
			DroppedAt: a.now().UTC(),
		}
	}

	if current == nil {
		if tx.Event.Action.Depleting() {
			return item, drop("item no longer exists in the primary store")
		}
		item.Quantity = delta
		return item, nil
	}

	rebased := current.Quantity + delta
	if rebased < 0 {
		return item, drop(fmt.Sprintf("primary quantity %s cannot absorb delta %s",
			record.FormatNumber(current.Quantity), record.FormatNumber(delta)))
	}
	item.Quantity = rebased
	if tx.Event.Action == domain.ActionRestocked && current.Quantity == 0 {
		item.DateOfEntry = domain.DatePtr(tx.Event.Timestamp)
	}
	return item, nil
}

func (a *Adapter) corrupt(w store.PendingWrite, err error) error {
	return &domain.DroppedWrite{
		TxID:      w.TxID,
		Kind:      w.Kind,
		Reason:    "undecodable payload: " + err.Error(),
		DroppedAt: a.now().UTC(),
	}
}

func (a *Adapter) recordDrop(ctx context.Context, w store.PendingWrite, drop *domain.DroppedWrite) error {
	a.logger.Error("PendingWriteDropped",
		"tx_id", drop.TxID,
		"kind", drop.Kind,
		"username", drop.Username,
		"food_name", drop.FoodName,
		"delta", drop.Delta,
		"reason", drop.Reason)

	return store.RunInTx(ctx, a.db, func(tx *sql.Tx) error {
		if err := a.dropped.WithTx(tx).Record(ctx, *drop, w.Payload); err != nil {
			return err
		}
		// The dropped event never reached the primary; keep it out of the
		// local history as well.
		if id := droppedEventID(w); id != "" {
			if err := a.events.WithTx(tx).Delete(ctx, id); err != nil {
				return err
			}
		}
		return a.pending.WithTx(tx).Delete(ctx, w.Seq)
	})
}

func droppedEventID(w store.PendingWrite) string {
	switch w.Kind {
	case kindTx:
		var tx domain.Transaction
		if json.Unmarshal(w.Payload, &tx) == nil {
			return tx.Event.ID
		}
	case kindEvent:
		var ev domain.LedgerEvent
		if json.Unmarshal(w.Payload, &ev) == nil {
			return ev.ID
		}
	}
	return ""
}

// primaryView caches what one flush has read from the primary store so each
// pass reads each sheet at most once.
type primaryView struct {
	adapter  *Adapter
	rows     []record.Row
	loaded   bool
	eventIDs map[string]bool
}

func (v *primaryView) item(ctx context.Context, username, foodName string) (*domain.InventoryItem, error) {
	if err := v.loadItems(ctx); err != nil {
		return nil, err
	}
	key := record.Row{record.ColUsername: username, record.ColFoodName: foodName}
	for i, r := range v.rows {
		if !r.Matches(key, record.ItemKey) {
			continue
		}
		it, err := v.adapter.parser.ParseItem(r, i)
		if err != nil {
			// An unreadable row is treated as absent; the write will
			// replace it.
			v.adapter.logger.Warn("malformed primary row during replay", "row", i, "error", err)
			return nil, nil
		}
		return &it, nil
	}
	return nil, nil
}

func (v *primaryView) loadItems(ctx context.Context) error {
	if v.loaded {
		return nil
	}
	a := v.adapter
	return a.call(ctx, func(ctx context.Context) error {
		rows, err := a.primary.ReadAll(ctx, a.itemSheet)
		if err != nil {
			return err
		}
		v.rows = rows
		v.loaded = true
		return nil
	})
}

// putItem updates the item's row, appending it when the primary has none.
func (v *primaryView) putItem(ctx context.Context, item domain.InventoryItem) error {
	a := v.adapter
	row := record.ItemRow(item)
	err := a.call(ctx, func(ctx context.Context) error {
		return a.primary.UpdateRow(ctx, a.itemSheet, row)
	})
	if errors.Is(err, remote.ErrRowNotFound) {
		err = a.call(ctx, func(ctx context.Context) error {
			return a.primary.Append(ctx, a.itemSheet, []record.Row{row})
		})
		if err == nil && v.loaded {
			v.rows = append(v.rows, row)
		}
		return err
	}
	if err != nil {
		return err
	}
	if v.loaded {
		for i := range v.rows {
			if v.rows[i].Matches(row, record.ItemKey) {
				v.rows[i] = row
				break
			}
		}
	}
	return nil
}

// appendEvent appends ev unless its Event_ID is already present.
func (v *primaryView) appendEvent(ctx context.Context, ev domain.LedgerEvent) error {
	a := v.adapter
	if v.eventIDs == nil {
		err := a.call(ctx, func(ctx context.Context) error {
			rows, err := a.primary.ReadAll(ctx, a.eventSheet)
			if err != nil {
				return err
			}
			ids := make(map[string]bool, len(rows))
			for _, r := range rows {
				if id := r.Get(record.ColEventID); id != "" {
					ids[id] = true
				}
			}
			v.eventIDs = ids
			return nil
		})
		if err != nil {
			return err
		}
	}
	if v.eventIDs[ev.ID] {
		return nil
	}
	err := a.call(ctx, func(ctx context.Context) error {
		return a.primary.Append(ctx, a.eventSheet, []record.Row{record.EventRow(ev)})
	})
	if err != nil {
		return err
	}
	v.eventIDs[ev.ID] = true
	return nil
}
