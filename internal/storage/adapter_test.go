package storage

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/shelflife/internal/db"
	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
	"github.com/vbonduro/shelflife/internal/remote/memtable"
)

var testNow = time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, primary remote.Table) *Adapter {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	parser := record.NewParser(record.CO2Estimator{DefaultPerKg: record.DefaultCO2PerKg}, slog.Default())
	a := New(d, primary, parser, Options{PrimaryTimeout: time.Second}, slog.Default())
	a.now = func() time.Time { return testNow }
	return a
}

func itemRow(user, food, qty string) record.Row {
	return record.Row{
		record.ColUsername: user,
		record.ColFoodName: food,
		record.ColQuantity: qty,
		record.ColPrice:    "0.5",
	}
}

// consume builds the transaction the ledger would produce for a depletion.
func consume(id string, prior, amount float64) domain.Transaction {
	item := domain.InventoryItem{
		Username:     "u",
		FoodName:     "Tomatoes",
		Quantity:     prior - amount,
		PricePerUnit: decimal.RequireFromString("0.5"),
		CO2PerUnit:   decimal.RequireFromString("0.7"),
	}
	return domain.Transaction{
		ID:            id,
		Item:          item,
		Event:         domain.NewEvent("ev-"+id, item, domain.ActionConsumed, -amount, "", testNow),
		PriorQuantity: prior,
	}
}

func remoteQuantity(t *testing.T, tbl *memtable.Table, food string) string {
	t.Helper()
	for _, r := range tbl.Rows("DB") {
		if r.Get(record.ColFoodName) == food {
			return r.Get(record.ColQuantity)
		}
	}
	t.Fatalf("no remote row for %s", food)
	return ""
}

func TestReadAll_PrimaryRefreshesLocal(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Milk", "2"), itemRow("u", "", "1"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	items, err := a.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "malformed rows are skipped")
	assert.Equal(t, "Milk", items[0].FoodName)

	local, err := a.items.List(ctx)
	require.NoError(t, err)
	assert.Len(t, local, 1)
}

func TestReadAll_FallsBackToLocal(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Milk", "2"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	_, err := a.ReadAll(ctx)
	require.NoError(t, err)

	tbl.SetOffline(true)
	items, err := a.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2.0, items[0].Quantity)

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Degraded)
	assert.NotEmpty(t, status.LastError)
}

func TestReadAll_EmptyEverywhere(t *testing.T) {
	tbl := memtable.New()
	tbl.SetOffline(true)
	a := newTestAdapter(t, tbl)

	items, err := a.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCommit_Online(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	queued, err := a.Commit(ctx, consume("t1", 5, 2))
	require.NoError(t, err)
	assert.False(t, queued)

	assert.Equal(t, "3", remoteQuantity(t, tbl, "Tomatoes"))
	events := tbl.Rows("Ledger")
	require.Len(t, events, 1)
	assert.Equal(t, "ev-t1", events[0].Get(record.ColEventID))
	assert.Equal(t, "-2", events[0].Get(record.ColDelta))

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
}

// The primary goes down: reads serve the snapshot, the write is queued, and
// the next read after recovery replays it exactly once.
func TestCommit_QueuedWhilePrimaryDown(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	_, err := a.ReadAll(ctx)
	require.NoError(t, err)

	tbl.SetOffline(true)
	queued, err := a.Commit(ctx, consume("t1", 5, 2))
	require.NoError(t, err)
	assert.True(t, queued)

	items, err := a.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3.0, items[0].Quantity, "local snapshot carries the queued write")
	assert.Equal(t, "5", remoteQuantity(t, tbl, "Tomatoes"))

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
	assert.True(t, status.Degraded)

	tbl.SetOffline(false)
	items, err = a.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3.0, items[0].Quantity)
	assert.Equal(t, "3", remoteQuantity(t, tbl, "Tomatoes"))
	assert.Len(t, tbl.Rows("Ledger"), 1)

	_, err = a.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, tbl.Rows("Ledger"), 1, "replay is not repeated")

	status, err = a.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
	assert.False(t, status.Degraded)
}

func TestFlush_FIFOAndStopsOnFailure(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	tbl.SetOffline(true)
	_, err := a.Commit(ctx, consume("t1", 5, 1))
	require.NoError(t, err)
	_, err = a.Commit(ctx, consume("t2", 4, 1))
	require.NoError(t, err)

	report := a.Flush(ctx)
	assert.Equal(t, 2, report.Remaining)
	assert.Error(t, report.Err)

	tbl.SetOffline(false)
	report = a.Flush(ctx)
	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, "3", remoteQuantity(t, tbl, "Tomatoes"))

	events := tbl.Rows("Ledger")
	require.Len(t, events, 2)
	assert.Equal(t, "ev-t1", events[0].Get(record.ColEventID))
	assert.Equal(t, "ev-t2", events[1].Get(record.ColEventID))
}

func TestFlush_RebasesOnPrimaryQuantity(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	tbl.SetOffline(true)
	_, err := a.Commit(ctx, consume("t1", 5, 2))
	require.NoError(t, err)

	// Someone else restocked in the primary while we were offline.
	tbl.Seed("DB", itemRow("u", "Tomatoes", "8"))
	tbl.SetOffline(false)

	report := a.Flush(ctx)
	require.NoError(t, report.Err)
	assert.Equal(t, "6", remoteQuantity(t, tbl, "Tomatoes"))
}

func TestFlush_DropsWriteThatWouldGoNegative(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	tbl.SetOffline(true)
	_, err := a.Commit(ctx, consume("t1", 5, 3))
	require.NoError(t, err)

	tbl.Seed("DB", itemRow("u", "Tomatoes", "1"))
	tbl.SetOffline(false)

	report := a.Flush(ctx)
	require.NoError(t, report.Err)
	require.Len(t, report.Dropped, 1)
	assert.Equal(t, "t1", report.Dropped[0].TxID)
	assert.Equal(t, "1", remoteQuantity(t, tbl, "Tomatoes"))
	assert.Empty(t, tbl.Rows("Ledger"))

	dropped, err := a.Dropped(ctx)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, -3.0, dropped[0].Delta)
	assert.ErrorIs(t, &dropped[0], domain.ErrPendingWriteDropped)

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
	assert.Equal(t, 1, status.Dropped)

	events, err := a.ReadEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events, "a dropped consumption stays out of the history")

	items, err := a.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1.0, items[0].Quantity)
}

func TestFlush_DropsDepletionOfVanishedRow(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	tbl.SetOffline(true)
	_, err := a.Commit(ctx, consume("t1", 5, 1))
	require.NoError(t, err)
	tbl.Seed("DB")
	tbl.SetOffline(false)

	report := a.Flush(ctx)
	require.Len(t, report.Dropped, 1)
	assert.Empty(t, tbl.Rows("DB"))
}

func TestCommit_ReportsOwnDrop(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "1"))
	a := newTestAdapter(t, tbl)

	// The local snapshot believes there are 5; the primary has 1.
	_, err := a.Commit(context.Background(), consume("t1", 5, 3))
	var drop *domain.DroppedWrite
	require.ErrorAs(t, err, &drop)
	assert.Equal(t, "t1", drop.TxID)

	events, err := a.ReadEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFlush_EventAppendIsIdempotent(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	tbl.Seed("Ledger", record.EventRow(consume("t1", 5, 2).Event))
	a := newTestAdapter(t, tbl)

	_, err := a.Commit(context.Background(), consume("t1", 5, 2))
	require.NoError(t, err)
	assert.Len(t, tbl.Rows("Ledger"), 1)
}

func TestFlush_RetryDoesNotReapplyItem(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	tbl.FailSheet("Ledger", memtable.ErrOffline)
	queued, err := a.Commit(ctx, consume("t1", 5, 2))
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, "3", remoteQuantity(t, tbl, "Tomatoes"))

	tbl.FailSheet("Ledger", nil)
	report := a.Flush(ctx)
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, "3", remoteQuantity(t, tbl, "Tomatoes"))
	assert.Len(t, tbl.Rows("Ledger"), 1)
}

func TestCommit_RestockAppendsMissingRow(t *testing.T) {
	tbl := memtable.New()
	a := newTestAdapter(t, tbl)

	item := domain.InventoryItem{Username: "u", FoodName: "Rice", Quantity: 2}
	tx := domain.Transaction{
		ID:    "t1",
		Item:  item,
		Event: domain.NewEvent("ev-t1", item, domain.ActionRestocked, 2, "", testNow),
	}
	_, err := a.Commit(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "2", remoteQuantity(t, tbl, "Rice"))
}

func TestNoPrimary(t *testing.T) {
	a := newTestAdapter(t, nil)
	ctx := context.Background()

	queued, err := a.Commit(ctx, consume("t1", 5, 2))
	require.NoError(t, err)
	assert.False(t, queued)

	items, err := a.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3.0, items[0].Quantity)

	events, err := a.ReadEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	status, err := a.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Primary)
	assert.Zero(t, status.Pending)
}

func TestReadEvents_MergesPrimary(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("Ledger", record.Row{
		record.ColEventID:   "remote-1",
		record.ColUsername:  "u",
		record.ColFoodName:  "Milk",
		record.ColTimestamp: "2025-05-01T08:00:00Z",
		record.ColDelta:     "-1",
		record.ColAction:    "consumed",
	})
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	require.NoError(t, a.AppendEvent(ctx, consume("t1", 5, 2).Event))

	events, err := a.ReadEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "remote-1", events[0].ID)
	assert.Equal(t, "ev-t1", events[1].ID)
	assert.Len(t, tbl.Rows("Ledger"), 2)
}

func TestWriteSnapshot(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Milk", "1"))
	a := newTestAdapter(t, tbl)
	ctx := context.Background()

	err := a.WriteSnapshot(ctx, []domain.InventoryItem{
		{Username: "u", FoodName: "Milk", Quantity: 4},
		{Username: "u", FoodName: "Bread", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", remoteQuantity(t, tbl, "Milk"))
	assert.Equal(t, "1", remoteQuantity(t, tbl, "Bread"))
}

func TestDedupe_PrefersActiveRow(t *testing.T) {
	a := newTestAdapter(t, nil)
	out := a.dedupe([]domain.InventoryItem{
		{Username: "u", FoodName: "Milk", Quantity: 2},
		{Username: "u", FoodName: "milk", Quantity: 0},
		{Username: "v", FoodName: "Milk", Quantity: 0},
	})
	require.Len(t, out, 2)
	assert.Equal(t, 2.0, out[0].Quantity)
}

// blockingTable holds the first item read until released.
type blockingTable struct {
	*memtable.Table
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingTable) ReadAll(ctx context.Context, sheet remote.Sheet) ([]record.Row, error) {
	rows, err := b.Table.ReadAll(ctx, sheet)
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.started)
		<-b.release
	}
	return rows, err
}

func TestReadAll_DoesNotClobberConcurrentWrite(t *testing.T) {
	tbl := memtable.New()
	tbl.Seed("DB", itemRow("u", "Tomatoes", "5"))
	bt := &blockingTable{Table: tbl, started: make(chan struct{}), release: make(chan struct{})}
	a := newTestAdapter(t, bt)
	ctx := context.Background()

	type result struct {
		items []domain.InventoryItem
		err   error
	}
	done := make(chan result)
	go func() {
		items, err := a.ReadAll(ctx)
		done <- result{items, err}
	}()

	<-bt.started
	_, err := a.Commit(ctx, consume("t1", 5, 2))
	require.NoError(t, err)
	close(bt.release)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.items, 1)
	assert.Equal(t, 3.0, res.items[0].Quantity)
}
