// Package grocery builds a shopping list from stock levels and how fast each
// food has been used up recently.
package grocery

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vbonduro/shelflife/internal/domain"
)

const (
	// DefaultWindowDays is the trailing history used for depletion rates.
	DefaultWindowDays = 30
	// DefaultThresholdDays flags foods projected to run out sooner than this.
	DefaultThresholdDays = 3.0
)

type Options struct {
	WindowDays    int
	ThresholdDays float64
	// Incoming maps a food name to a quantity already on order. Matching is
	// case-insensitive.
	Incoming map[string]float64
}

func (o Options) window() int {
	if o.WindowDays <= 0 {
		return DefaultWindowDays
	}
	return o.WindowDays
}

func (o Options) threshold() float64 {
	if o.ThresholdDays <= 0 {
		return DefaultThresholdDays
	}
	return o.ThresholdDays
}

type Entry struct {
	FoodName            string          `json:"food_name"`
	Brand               string          `json:"brand,omitempty"`
	Unit                string          `json:"unit,omitempty"`
	CurrentQuantity     float64         `json:"current_quantity"`
	DepletionRate       float64         `json:"depletion_rate_per_day"`
	DaysUntilZero       float64         `json:"days_until_zero"`
	RecommendedQuantity int             `json:"recommended_quantity"`
	PricePerUnit        decimal.Decimal `json:"price_per_unit"`
	EstimatedCost       decimal.Decimal `json:"estimated_cost"`
}

type usage struct {
	name        string
	windowTotal float64
	allTotal    float64
	occurrences int
}

// Recommend returns the foods worth buying, most urgent first. items and
// events must belong to a single user.
func Recommend(items []domain.InventoryItem, events []domain.LedgerEvent, now time.Time, opts Options) []Entry {
	window := opts.window()
	since := now.AddDate(0, 0, -window)

	uses := make(map[string]*usage)
	for _, ev := range events {
		if !ev.Action.Depleting() || ev.DeltaQuantity == 0 {
			continue
		}
		key := normalize(ev.FoodName)
		u, ok := uses[key]
		if !ok {
			u = &usage{name: strings.TrimSpace(ev.FoodName)}
			uses[key] = u
		}
		amount := math.Abs(ev.DeltaQuantity)
		u.allTotal += amount
		u.occurrences++
		if !ev.Timestamp.Before(since) && !ev.Timestamp.After(now) {
			u.windowTotal += amount
		}
	}

	stock := make(map[string]domain.InventoryItem)
	for _, it := range items {
		key := normalize(it.FoodName)
		prev, seen := stock[key]
		if !seen || (it.Active() && !prev.Active()) {
			stock[key] = it
		} else if it.Active() && prev.Active() {
			prev.Quantity += it.Quantity
			stock[key] = prev
		}
	}

	incoming := make(map[string]float64, len(opts.Incoming))
	for name, q := range opts.Incoming {
		incoming[normalize(name)] += q
	}

	var out []Entry
	for key, u := range uses {
		rate := u.windowTotal / float64(window)
		if rate <= 0 {
			continue
		}

		it, hasRow := stock[key]
		qty := 0.0
		if hasRow {
			qty = it.Quantity
		}
		daysLeft := qty / rate
		if qty > 0 && daysLeft >= opts.threshold() {
			continue
		}

		recommended := int(math.Ceil(u.allTotal / float64(u.occurrences)))
		if recommended < 1 {
			recommended = 1
		}
		if incoming[key] >= float64(recommended) {
			continue
		}

		e := Entry{
			FoodName:            u.name,
			CurrentQuantity:     qty,
			DepletionRate:       rate,
			DaysUntilZero:       daysLeft,
			RecommendedQuantity: recommended,
			PricePerUnit:        decimal.Zero,
			EstimatedCost:       decimal.Zero,
		}
		if hasRow {
			e.FoodName = it.FoodName
			e.Brand = it.Brand
			e.Unit = it.QuantityUnit
			e.PricePerUnit = it.PricePerUnit
			e.EstimatedCost = it.PricePerUnit.Mul(decimal.NewFromInt(int64(recommended)))
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		az, bz := a.CurrentQuantity == 0, b.CurrentQuantity == 0
		if az != bz {
			return az
		}
		if a.DaysUntilZero != b.DaysUntilZero {
			return a.DaysUntilZero < b.DaysUntilZero
		}
		return strings.ToLower(a.FoodName) < strings.ToLower(b.FoodName)
	})
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
