package ledger

import (
	"strings"
	"time"

	"github.com/vbonduro/shelflife/internal/domain"
)

// Snapshot is an immutable view of one user's inventory. Every load or
// applied action produces a new Snapshot with a higher version; readers keep
// whichever one they were handed.
type Snapshot struct {
	username string
	version  uint64
	loadedAt time.Time
	policy   domain.ZeroStockPolicy
	rows     []domain.InventoryItem
}

func newSnapshot(username string, version uint64, at time.Time, policy domain.ZeroStockPolicy, rows []domain.InventoryItem) *Snapshot {
	return &Snapshot{
		username: username,
		version:  version,
		loadedAt: at,
		policy:   policy,
		rows:     rows,
	}
}

func (s *Snapshot) Username() string    { return s.username }
func (s *Snapshot) Version() uint64     { return s.version }
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Items returns the rows visible under the zero-stock policy.
func (s *Snapshot) Items() []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0, len(s.rows))
	for _, it := range s.rows {
		if s.visible(it) {
			out = append(out, it)
		}
	}
	return out
}

// Active returns only rows with stock on hand.
func (s *Snapshot) Active() []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0, len(s.rows))
	for _, it := range s.rows {
		if it.Active() {
			out = append(out, it)
		}
	}
	return out
}

// Find looks a food up by name, ignoring case. Rows hidden by the zero-stock
// policy are not found.
func (s *Snapshot) Find(foodName string) (domain.InventoryItem, bool) {
	it, ok := s.lookup(foodName)
	if !ok || !s.visible(it) {
		return domain.InventoryItem{}, false
	}
	return it, true
}

// lookup finds any row for foodName, preferring one with stock.
func (s *Snapshot) lookup(foodName string) (domain.InventoryItem, bool) {
	name := strings.TrimSpace(foodName)
	var (
		found domain.InventoryItem
		ok    bool
	)
	for _, it := range s.rows {
		if !strings.EqualFold(it.FoodName, name) {
			continue
		}
		if !ok || (it.Active() && !found.Active()) {
			found, ok = it, true
		}
	}
	return found, ok
}

func (s *Snapshot) visible(it domain.InventoryItem) bool {
	return it.Active() || s.policy != domain.ZeroStockRemove
}

// with returns the next version with item replacing its row.
func (s *Snapshot) with(item domain.InventoryItem, at time.Time) *Snapshot {
	rows := make([]domain.InventoryItem, 0, len(s.rows)+1)
	replaced := false
	for _, it := range s.rows {
		if !replaced && it.FoodName == item.FoodName {
			rows = append(rows, item)
			replaced = true
			continue
		}
		rows = append(rows, it)
	}
	if !replaced {
		rows = append(rows, item)
	}
	return newSnapshot(s.username, s.version+1, at, s.policy, rows)
}
