// Package expiry classifies items by how close they are to their expiry date.
package expiry

import (
	"sort"
	"strings"
	"time"

	"github.com/vbonduro/shelflife/internal/domain"
)

// DefaultSoonDays is how many days ahead, inclusive, count as expiring soon.
const DefaultSoonDays = 7

type Status string

const (
	StatusExpired      Status = "expired"
	StatusExpiringSoon Status = "expiring_soon"
	StatusFresh        Status = "fresh"
	StatusUnknown      Status = "unknown"
)

// rank is the display order of each status.
var rank = map[Status]int{
	StatusExpired:      0,
	StatusExpiringSoon: 1,
	StatusFresh:        2,
	StatusUnknown:      3,
}

type Options struct {
	SoonDays int
}

func (o Options) soonDays() int {
	if o.SoonDays <= 0 {
		return DefaultSoonDays
	}
	return o.SoonDays
}

// Classified pairs an item with its status.
type Classified struct {
	Item     domain.InventoryItem
	Status   Status
	DaysLeft *int
}

// Classify returns the status of item as of today. Dates compare by calendar
// day; the time of day in today is ignored.
func Classify(item domain.InventoryItem, today time.Time, opts Options) Status {
	if item.ExpiryDate == nil {
		return StatusUnknown
	}
	days := daysBetween(today, *item.ExpiryDate)
	switch {
	case days < 0:
		return StatusExpired
	case days <= opts.soonDays():
		return StatusExpiringSoon
	default:
		return StatusFresh
	}
}

// Sort classifies items and orders them expired, expiring soon, fresh, then
// unknown; within a status by ascending expiry date, then by food name.
func Sort(items []domain.InventoryItem, today time.Time, opts Options) []Classified {
	out := make([]Classified, 0, len(items))
	for _, it := range items {
		c := Classified{Item: it, Status: Classify(it, today, opts)}
		if it.ExpiryDate != nil {
			d := daysBetween(today, *it.ExpiryDate)
			c.DaysLeft = &d
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if rank[a.Status] != rank[b.Status] {
			return rank[a.Status] < rank[b.Status]
		}
		ae, be := a.Item.ExpiryDate, b.Item.ExpiryDate
		switch {
		case ae != nil && be != nil && !ae.Equal(*be):
			return ae.Before(*be)
		case ae != nil && be == nil:
			return true
		case ae == nil && be != nil:
			return false
		}
		return strings.ToLower(a.Item.FoodName) < strings.ToLower(b.Item.FoodName)
	})
	return out
}

// ExpiringWithin returns items whose expiry falls between today and today
// plus days, inclusive, soonest first.
func ExpiringWithin(items []domain.InventoryItem, today time.Time, days int) []Classified {
	var within []domain.InventoryItem
	for _, it := range items {
		if it.ExpiryDate == nil {
			continue
		}
		d := daysBetween(today, *it.ExpiryDate)
		if d >= 0 && d <= days {
			within = append(within, it)
		}
	}
	return Sort(within, today, Options{SoonDays: days})
}

// Counts tallies items per status.
type Counts struct {
	Expired      int `json:"expired"`
	ExpiringSoon int `json:"expiring_soon"`
	Fresh        int `json:"fresh"`
	Unknown      int `json:"unknown"`
}

func (c *Counts) add(s Status) {
	switch s {
	case StatusExpired:
		c.Expired++
	case StatusExpiringSoon:
		c.ExpiringSoon++
	case StatusFresh:
		c.Fresh++
	default:
		c.Unknown++
	}
}

// Count tallies the status of every item.
func Count(items []domain.InventoryItem, today time.Time, opts Options) Counts {
	var c Counts
	for _, it := range items {
		c.add(Classify(it, today, opts))
	}
	return c
}

// Breakdown tallies statuses per food type. Items without a type are grouped
// under "Other".
func Breakdown(items []domain.InventoryItem, today time.Time, opts Options) map[string]Counts {
	out := make(map[string]Counts)
	for _, it := range items {
		ft := strings.TrimSpace(it.FoodType)
		if ft == "" {
			ft = "Other"
		}
		c := out[ft]
		c.add(Classify(it, today, opts))
		out[ft] = c
	}
	return out
}

func daysBetween(today, date time.Time) int {
	return int(domain.Day(date).Sub(domain.Day(today)).Hours() / 24)
}
