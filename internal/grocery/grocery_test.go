package grocery

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/shelflife/internal/domain"
)

var now = time.Date(2025, 5, 2, 12, 0, 0, 0, time.UTC)

func item(name string, qty float64) domain.InventoryItem {
	return domain.InventoryItem{Username: "u", FoodName: name, Quantity: qty, QuantityUnit: "pcs", PricePerUnit: decimal.RequireFromString("0.45")}
}

func used(name string, amount float64, daysAgo int, action domain.Action) domain.LedgerEvent {
	return domain.LedgerEvent{
		ID:            name + time.Duration(daysAgo).String(),
		Username:      "u",
		FoodName:      name,
		Timestamp:     now.AddDate(0, 0, -daysAgo),
		DeltaQuantity: -amount,
		Action:        action,
	}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.FoodName
	}
	return out
}

func TestRecommend_Tomatoes(t *testing.T) {
	// 30 tomatoes used over the last month is one a day; three left is
	// exactly three days, so a fourth consumption tips it under.
	var events []domain.LedgerEvent
	for i := 0; i < 10; i++ {
		events = append(events, used("Tomatoes", 3, i*3+1, domain.ActionConsumed))
	}
	events = append(events, used("Tomatoes", 2, 0, domain.ActionConsumed))

	got := Recommend([]domain.InventoryItem{item("Tomatoes", 3)}, events, now, Options{})
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, "Tomatoes", e.FoodName)
	assert.InDelta(t, 32.0/30, e.DepletionRate, 1e-9)
	assert.Less(t, e.DaysUntilZero, DefaultThresholdDays)
	// mean per occurrence is 32/11 ≈ 2.9, rounded up.
	assert.Equal(t, 3, e.RecommendedQuantity)
	assert.Equal(t, "1.35", e.EstimatedCost.String())
	assert.Equal(t, "pcs", e.Unit)
}

func TestRecommend_NeverConsumedIsNeverListed(t *testing.T) {
	items := []domain.InventoryItem{item("Saffron", 0), item("Salt", 0.1)}
	events := []domain.LedgerEvent{
		{FoodName: "Saffron", Action: domain.ActionRestocked, DeltaQuantity: 1, Timestamp: now.AddDate(0, 0, -2)},
	}
	assert.Empty(t, Recommend(items, events, now, Options{}))
}

func TestRecommend_OnlyPositiveRates(t *testing.T) {
	items := []domain.InventoryItem{item("Milk", 0), item("Eggs", 0), item("Flour", 0)}
	events := []domain.LedgerEvent{
		used("Milk", 1, 2, domain.ActionConsumed),
		used("Eggs", 2, 90, domain.ActionConsumed),
		used("Flour", 0, 1, domain.ActionConsumed),
	}
	for _, e := range Recommend(items, events, now, Options{}) {
		assert.Greater(t, e.DepletionRate, 0.0, e.FoodName)
	}
	assert.Equal(t, []string{"Milk"}, names(Recommend(items, events, now, Options{})))
}

func TestRecommend_PlentyOfStockIsSkipped(t *testing.T) {
	events := []domain.LedgerEvent{used("Rice", 1, 5, domain.ActionConsumed)}
	assert.Empty(t, Recommend([]domain.InventoryItem{item("Rice", 10)}, events, now, Options{}))
}

func TestRecommend_OrderAndZeroStockFirst(t *testing.T) {
	items := []domain.InventoryItem{item("Bread", 0), item("Butter", 0.5), item("Jam", 0.1), item("Apples", 0)}
	events := []domain.LedgerEvent{
		used("Bread", 6, 3, domain.ActionConsumed),
		used("Butter", 6, 3, domain.ActionConsumed),
		used("Jam", 6, 3, domain.ActionConsumed),
		used("Apples", 3, 10, domain.ActionTrashed),
	}

	got := Recommend(items, events, now, Options{})
	assert.Equal(t, []string{"Apples", "Bread", "Jam", "Butter"}, names(got))
}

func TestRecommend_HistoryWithoutRowCountsAsEmpty(t *testing.T) {
	got := Recommend(nil, []domain.LedgerEvent{used("Yogurt", 2, 1, domain.ActionDonated)}, now, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "Yogurt", got[0].FoodName)
	assert.Equal(t, 0.0, got[0].CurrentQuantity)
	assert.True(t, got[0].EstimatedCost.IsZero())
}

func TestRecommend_IncomingExcludes(t *testing.T) {
	items := []domain.InventoryItem{item("Milk", 0), item("Eggs", 0)}
	events := []domain.LedgerEvent{
		used("Milk", 2, 1, domain.ActionConsumed),
		used("Eggs", 6, 1, domain.ActionConsumed),
	}

	got := Recommend(items, events, now, Options{Incoming: map[string]float64{"milk": 2, "Eggs": 4}})
	assert.Equal(t, []string{"Eggs"}, names(got))
}

func TestRecommend_RecommendedQuantityFloor(t *testing.T) {
	events := []domain.LedgerEvent{used("Spice", 0.1, 1, domain.ActionConsumed)}
	got := Recommend([]domain.InventoryItem{item("Spice", 0)}, events, now, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].RecommendedQuantity)
}

func TestRecommend_DeduplicatesByName(t *testing.T) {
	items := []domain.InventoryItem{item("Milk", 0), item("milk", 0)}
	events := []domain.LedgerEvent{used("Milk", 1, 1, domain.ActionConsumed), used("MILK", 1, 2, domain.ActionConsumed)}
	assert.Len(t, Recommend(items, events, now, Options{}), 1)
}

func TestRecommend_CustomWindow(t *testing.T) {
	events := []domain.LedgerEvent{used("Tea", 7, 6, domain.ActionConsumed)}
	items := []domain.InventoryItem{item("Tea", 5)}

	assert.Empty(t, Recommend(items, events, now, Options{}))
	got := Recommend(items, events, now, Options{WindowDays: 7, ThresholdDays: 6})
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].DepletionRate, 1e-9)
}
