// Package metrics rolls stock and ledger history up into dashboard figures.
package metrics

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/expiry"
)

// DefaultWasteBreakpoints are the waste ratios at which the sustainability
// level drops by one: at or below the first the level is 4, above the last it
// is 0.
var DefaultWasteBreakpoints = []float64{0.05, 0.1667, 0.2833, 0.40}

const (
	DefaultTopN      = 5
	DefaultTopCO2N   = 10
	DefaultTrendDays = 30
)

// Level is the 0-4 sustainability score. LevelUnknown means there is no
// depleting history to judge.
type Level int

const LevelUnknown Level = -1

func (l Level) MarshalJSON() ([]byte, error) {
	if l == LevelUnknown {
		return []byte(`"unknown"`), nil
	}
	return json.Marshal(int(l))
}

func (l Level) String() string {
	if l == LevelUnknown {
		return "unknown"
	}
	return strconv.Itoa(int(l))
}

// LevelFor maps a waste ratio onto the breakpoints.
func LevelFor(ratio float64, breakpoints []float64) Level {
	if len(breakpoints) == 0 {
		breakpoints = DefaultWasteBreakpoints
	}
	level := len(breakpoints)
	for _, bp := range breakpoints {
		if ratio > bp {
			level--
		}
	}
	return Level(level)
}

type Options struct {
	SoonDays    int
	Breakpoints []float64
	TopN        int
	// TrendFrom and TrendTo bound the usage trend, inclusive. Zero values
	// mean the DefaultTrendDays ending today.
	TrendFrom time.Time
	TrendTo   time.Time
}

type FoodQuantity struct {
	FoodName string  `json:"food_name"`
	Quantity float64 `json:"quantity"`
}

type FoodCO2 struct {
	FoodName string          `json:"food_name"`
	CO2      decimal.Decimal `json:"co2_kg"`
}

type DayUsage struct {
	Date     time.Time `json:"date"`
	Quantity float64   `json:"quantity"`
}

type Dashboard struct {
	ActiveItems      int             `json:"active_items"`
	TotalEntries     int             `json:"total_entries"`
	Expired          int             `json:"expired"`
	ExpiringSoon     int             `json:"expiring_soon"`
	CostSaved        decimal.Decimal `json:"cost_saved"`
	CO2Saved         decimal.Decimal `json:"co2_saved"`
	CostLost         decimal.Decimal `json:"cost_lost"`
	CO2Lost          decimal.Decimal `json:"co2_lost"`
	ConsumedQuantity float64         `json:"consumed_quantity"`
	DonatedQuantity  float64         `json:"donated_quantity"`
	TrashedQuantity  float64         `json:"trashed_quantity"`
	WasteRatio       *float64        `json:"waste_ratio"`
	Level            Level           `json:"sustainability_level"`
	LastShopping     *time.Time      `json:"last_shopping_date"`
	TopWasted        []FoodQuantity  `json:"top_wasted"`
	TopUsed          []FoodQuantity  `json:"top_used"`
	UsageTrend       []DayUsage      `json:"usage_trend"`
	TopCO2           []FoodCO2       `json:"top_co2"`
}

// Compute builds the dashboard. Callers pass one user's rows for a personal
// view or everyone's for the global one.
func Compute(items []domain.InventoryItem, events []domain.LedgerEvent, today time.Time, opts Options) Dashboard {
	today = domain.Day(today)
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	d := Dashboard{
		TotalEntries: len(events),
		CostSaved:    decimal.Zero,
		CO2Saved:     decimal.Zero,
		CostLost:     decimal.Zero,
		CO2Lost:      decimal.Zero,
		Level:        LevelUnknown,
	}

	active := make(map[string]bool)
	var stock []domain.InventoryItem
	for _, it := range items {
		if it.Active() {
			active[strings.ToLower(it.Username)+"\x00"+strings.ToLower(it.FoodName)] = true
			stock = append(stock, it)
		}
		if it.DateOfEntry != nil && (d.LastShopping == nil || it.DateOfEntry.After(*d.LastShopping)) {
			t := *it.DateOfEntry
			d.LastShopping = &t
		}
	}
	d.ActiveItems = len(active)

	counts := expiry.Count(stock, today, expiry.Options{SoonDays: opts.SoonDays})
	d.Expired = counts.Expired
	d.ExpiringSoon = counts.ExpiringSoon

	wasted := newTally()
	used := newTally()
	for _, ev := range events {
		q := -ev.DeltaQuantity
		switch ev.Action {
		case domain.ActionConsumed, domain.ActionDonated:
			d.CostSaved = d.CostSaved.Sub(ev.CostImpact)
			d.CO2Saved = d.CO2Saved.Sub(ev.CO2Impact)
			if ev.Action == domain.ActionConsumed {
				d.ConsumedQuantity += q
			} else {
				d.DonatedQuantity += q
			}
			used.add(ev.FoodName, q)
		case domain.ActionTrashed:
			d.CostLost = d.CostLost.Sub(ev.CostImpact)
			d.CO2Lost = d.CO2Lost.Sub(ev.CO2Impact)
			d.TrashedQuantity += q
			wasted.add(ev.FoodName, q)
		}
	}

	if total := d.ConsumedQuantity + d.DonatedQuantity + d.TrashedQuantity; total > 0 {
		ratio := d.TrashedQuantity / total
		d.WasteRatio = &ratio
		d.Level = LevelFor(ratio, opts.Breakpoints)
	}

	d.TopWasted = wasted.top(topN)
	d.TopUsed = used.top(topN)
	d.UsageTrend = UsageTrend(events, trendRange(today, opts))
	d.TopCO2 = TopCO2(stock, DefaultTopCO2N)
	return d
}

// Range is an inclusive span of calendar days.
type Range struct {
	From time.Time
	To   time.Time
}

func trendRange(today time.Time, opts Options) Range {
	r := Range{From: opts.TrendFrom, To: opts.TrendTo}
	if r.To.IsZero() {
		r.To = today
	}
	if r.From.IsZero() {
		r.From = r.To.AddDate(0, 0, -DefaultTrendDays)
	}
	return Range{From: domain.Day(r.From), To: domain.Day(r.To)}
}

// UsageTrend sums depleted quantity per day within r. Days without activity
// are omitted.
func UsageTrend(events []domain.LedgerEvent, r Range) []DayUsage {
	byDay := make(map[time.Time]float64)
	for _, ev := range events {
		if !ev.Action.Depleting() {
			continue
		}
		day := domain.Day(ev.Timestamp)
		if day.Before(r.From) || day.After(r.To) {
			continue
		}
		byDay[day] += -ev.DeltaQuantity
	}

	out := make([]DayUsage, 0, len(byDay))
	for day, q := range byDay {
		out = append(out, DayUsage{Date: day, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// TopCO2 ranks foods by the emissions embodied in their current stock.
func TopCO2(items []domain.InventoryItem, n int) []FoodCO2 {
	totals := make(map[string]decimal.Decimal)
	names := make(map[string]string)
	for _, it := range items {
		if !it.Active() {
			continue
		}
		key := strings.ToLower(it.FoodName)
		if _, ok := names[key]; !ok {
			names[key] = it.FoodName
			totals[key] = decimal.Zero
		}
		totals[key] = totals[key].Add(it.CO2PerUnit.Mul(decimal.NewFromFloat(it.Quantity)))
	}

	out := make([]FoodCO2, 0, len(totals))
	for key, total := range totals {
		out = append(out, FoodCO2{FoodName: names[key], CO2: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].CO2.Cmp(out[j].CO2); c != 0 {
			return c > 0
		}
		return out[i].FoodName < out[j].FoodName
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type tally struct {
	totals map[string]float64
	names  map[string]string
}

func newTally() *tally {
	return &tally{totals: make(map[string]float64), names: make(map[string]string)}
}

func (t *tally) add(name string, q float64) {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := t.names[key]; !ok {
		t.names[key] = strings.TrimSpace(name)
	}
	t.totals[key] += q
}

func (t *tally) top(n int) []FoodQuantity {
	out := make([]FoodQuantity, 0, len(t.totals))
	for key, q := range t.totals {
		out = append(out, FoodQuantity{FoodName: t.names[key], Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].FoodName < out[j].FoodName
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
