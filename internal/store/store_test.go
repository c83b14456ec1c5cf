package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/shelflife/internal/db"
	"github.com/vbonduro/shelflife/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	return d
}

func testItem(user, name string, qty float64) domain.InventoryItem {
	return domain.InventoryItem{
		Username:     user,
		FoodName:     name,
		Quantity:     qty,
		QuantityUnit: "pcs",
		PricePerUnit: decimal.RequireFromString("1.25"),
		CO2PerUnit:   decimal.RequireFromString("0.5"),
		DateOfEntry:  domain.DatePtr(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func testEvent(id, user, name string, delta float64, action domain.Action, at time.Time) domain.LedgerEvent {
	return domain.NewEvent(id, testItem(user, name, 0), action, delta, "", at)
}
