package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the kind of quantity change recorded by a LedgerEvent.
type Action string

const (
	ActionConsumed  Action = "consumed"
	ActionTrashed   Action = "trashed"
	ActionDonated   Action = "donated"
	ActionRestocked Action = "restocked"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionConsumed, ActionTrashed, ActionDonated, ActionRestocked:
		return true
	}
	return false
}

// Depleting reports whether the action removes stock.
func (a Action) Depleting() bool {
	return a == ActionConsumed || a == ActionTrashed || a == ActionDonated
}

// InventoryItem is one row of current stock for one user.
type InventoryItem struct {
	Username     string
	FoodName     string
	FoodType     string
	DateOfEntry  *time.Time
	ExpiryDate   *time.Time
	Quantity     float64
	QuantityUnit string
	Weight       float64
	WeightUnit   string
	PricePerUnit decimal.Decimal
	Brand        string
	// CO2PerUnit is always populated after ingest; CO2Estimated marks values
	// derived from category and weight rather than read from the row.
	CO2PerUnit   decimal.Decimal
	CO2Estimated bool
	Remark       string
}

// Active reports whether the row counts as on-hand stock.
func (it InventoryItem) Active() bool {
	return it.Quantity > 0
}

// LedgerEvent is an append-only record of one quantity change.
type LedgerEvent struct {
	ID            string
	Username      string
	FoodName      string
	Timestamp     time.Time
	DeltaQuantity float64
	Action        Action
	Remark        string
	CO2Impact     decimal.Decimal
	CostImpact    decimal.Decimal
}

// NewEvent derives the impact fields of an event from the item it changes.
func NewEvent(id string, item InventoryItem, action Action, delta float64, remark string, at time.Time) LedgerEvent {
	d := decimal.NewFromFloat(delta)
	return LedgerEvent{
		ID:            id,
		Username:      item.Username,
		FoodName:      item.FoodName,
		Timestamp:     at,
		DeltaQuantity: delta,
		Action:        action,
		Remark:        remark,
		CO2Impact:     d.Mul(item.CO2PerUnit),
		CostImpact:    d.Mul(item.PricePerUnit),
	}
}

// Transaction pairs an updated item with the event that produced it. It is
// persisted as a single unit.
type Transaction struct {
	ID            string
	Item          InventoryItem
	Event         LedgerEvent
	PriorQuantity float64
}

// Clamp reports that a depleting amount was reduced to the available stock.
type Clamp struct {
	Requested float64
	Applied   float64
}

// ZeroStockPolicy decides whether zero-quantity rows stay visible.
type ZeroStockPolicy string

const (
	ZeroStockRetain ZeroStockPolicy = "retain"
	ZeroStockRemove ZeroStockPolicy = "remove"
)

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr returns a pointer to Day(t).
func DatePtr(t time.Time) *time.Time {
	d := Day(t)
	return &d
}
