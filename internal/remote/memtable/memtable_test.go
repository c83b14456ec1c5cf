package memtable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
)

var items = remote.Sheet{Name: "DB", Columns: record.ItemColumns, Key: record.ItemKey}

func TestTable_AppendReadUpdate(t *testing.T) {
	tbl := New()
	ctx := context.Background()

	require.NoError(t, tbl.Append(ctx, items, []record.Row{
		{record.ColUsername: "u", record.ColFoodName: "Milk", record.ColQuantity: "1"},
	}))
	require.NoError(t, tbl.UpdateRow(ctx, items, record.Row{record.ColUsername: "u", record.ColFoodName: "Milk", record.ColQuantity: "3"}))

	rows, err := tbl.ReadAll(ctx, items)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0][record.ColQuantity])

	appends, updates := tbl.Writes()
	assert.Equal(t, 1, appends)
	assert.Equal(t, 1, updates)
}

func TestTable_UpdateMissingRow(t *testing.T) {
	err := New().UpdateRow(context.Background(), items, record.Row{record.ColUsername: "u", record.ColFoodName: "Milk"})
	assert.ErrorIs(t, err, remote.ErrRowNotFound)
}

func TestTable_Offline(t *testing.T) {
	tbl := New()
	tbl.SetOffline(true)

	_, err := tbl.ReadAll(context.Background(), items)
	assert.ErrorIs(t, err, ErrOffline)

	tbl.SetOffline(false)
	_, err = tbl.ReadAll(context.Background(), items)
	assert.NoError(t, err)
	assert.Equal(t, 2, tbl.Calls())
}

func TestTable_ReturnsCopies(t *testing.T) {
	tbl := New()
	tbl.Seed("DB", record.Row{record.ColFoodName: "Milk"})

	rows, err := tbl.ReadAll(context.Background(), items)
	require.NoError(t, err)
	rows[0][record.ColFoodName] = "changed"

	assert.Equal(t, "Milk", tbl.Rows("DB")[0][record.ColFoodName])
}

func TestTable_FailSheet(t *testing.T) {
	tbl := New()
	ctx := context.Background()
	tbl.FailSheet("Ledger", ErrOffline)

	_, err := tbl.ReadAll(ctx, remote.Sheet{Name: "Ledger"})
	assert.ErrorIs(t, err, ErrOffline)
	_, err = tbl.ReadAll(ctx, items)
	assert.NoError(t, err)

	tbl.FailSheet("Ledger", nil)
	_, err = tbl.ReadAll(ctx, remote.Sheet{Name: "Ledger"})
	assert.NoError(t, err)
}
