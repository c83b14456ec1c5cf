// Package ledger is the only writer of stock. Every quantity change goes
// through Apply or AddItem, which update the item and record exactly one
// ledger event as a single transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/record"
)

// Store is the persistence the ledger needs.
type Store interface {
	ReadAll(ctx context.Context) ([]domain.InventoryItem, error)
	Commit(ctx context.Context, tx domain.Transaction) (bool, error)
	WriteSnapshot(ctx context.Context, items []domain.InventoryItem) error
}

type ActionRequest struct {
	Username string
	FoodName string
	Action   domain.Action
	Amount   float64
	Remark   string
}

// NewItem describes a purchase.
type NewItem struct {
	Username     string
	FoodName     string
	FoodType     string
	Quantity     float64
	QuantityUnit string
	Weight       float64
	WeightUnit   string
	PricePerUnit decimal.Decimal
	Brand        string
	ExpiryDate   *time.Time
	// CO2PerUnit is estimated when nil.
	CO2PerUnit *decimal.Decimal
	Remark     string
}

type Result struct {
	Item  domain.InventoryItem
	Event domain.LedgerEvent
	// Clamp is set when a depleting amount exceeded the stock on hand.
	Clamp *domain.Clamp
	// Queued reports that the primary store has not yet accepted the write.
	Queued bool
}

type Options struct {
	ZeroStock domain.ZeroStockPolicy
	Now       func() time.Time
	NewID     func() string
}

type userState struct {
	mu   sync.Mutex
	snap *Snapshot
}

type Ledger struct {
	store  Store
	parser *record.Parser
	policy domain.ZeroStockPolicy
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	mu    sync.Mutex
	users map[string]*userState
}

func New(store Store, parser *record.Parser, opts Options, logger *slog.Logger) *Ledger {
	if opts.ZeroStock == "" {
		opts.ZeroStock = domain.ZeroStockRetain
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Ledger{
		store:  store,
		parser: parser,
		policy: opts.ZeroStock,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: logger,
		users:  make(map[string]*userState),
	}
}

// Policy returns the zero-stock policy snapshots are built with.
func (l *Ledger) Policy() domain.ZeroStockPolicy {
	return l.policy
}

// Snapshot loads the user's current inventory.
func (l *Ledger) Snapshot(ctx context.Context, username string) (*Snapshot, error) {
	us := l.user(username)
	us.mu.Lock()
	defer us.mu.Unlock()
	return l.load(ctx, username, us)
}

// All returns every user's rows visible under the zero-stock policy.
func (l *Ledger) All(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	out := make([]domain.InventoryItem, 0, len(items))
	for _, it := range items {
		if it.Active() || l.policy != domain.ZeroStockRemove {
			out = append(out, it)
		}
	}
	return out, nil
}

// Apply records one consumed, trashed, donated or restocked action.
func (l *Ledger) Apply(ctx context.Context, req ActionRequest) (*Result, error) {
	action := domain.Action(strings.ToLower(strings.TrimSpace(string(req.Action))))
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAction, req.Action)
	}
	if !validAmount(req.Amount) {
		return nil, fmt.Errorf("%w: got %v", domain.ErrInvalidAmount, req.Amount)
	}

	us := l.user(req.Username)
	us.mu.Lock()
	defer us.mu.Unlock()

	snap, err := l.load(ctx, req.Username, us)
	if err != nil {
		return nil, err
	}

	item, ok := snap.Find(req.FoodName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, req.FoodName)
	}

	now := l.now()
	prior := item.Quantity
	var (
		delta float64
		clamp *domain.Clamp
	)
	if action.Depleting() {
		applied := math.Min(req.Amount, prior)
		if applied < req.Amount {
			clamp = &domain.Clamp{Requested: req.Amount, Applied: applied}
		}
		if applied > 0 {
			delta = -applied
		}
	} else {
		delta = req.Amount
		if prior == 0 {
			item.DateOfEntry = domain.DatePtr(now)
		}
	}
	item.Quantity = math.Max(prior+delta, 0)
	if req.Remark != "" {
		item.Remark = req.Remark
	}

	res, err := l.commit(ctx, us, snap, item, action, delta, prior, req.Remark, now)
	if err != nil {
		return nil, err
	}
	res.Clamp = clamp

	attrs := []any{"username", req.Username, "food_name", item.FoodName, "action", action, "delta", delta, "queued", res.Queued}
	if clamp != nil {
		l.logger.Info("QuantityClamped", append(attrs, "requested", clamp.Requested, "applied", clamp.Applied)...)
	} else {
		l.logger.Info("action applied", attrs...)
	}
	return res, nil
}

// AddItem records a purchase. An existing row for the food is restocked and
// refreshed with any details given; otherwise a new row is created.
func (l *Ledger) AddItem(ctx context.Context, in NewItem) (*Result, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.FoodName = strings.TrimSpace(in.FoodName)
	if in.Username == "" || in.FoodName == "" {
		return nil, fmt.Errorf("%w: username and food name are required", domain.ErrMalformedRecord)
	}
	if !validAmount(in.Quantity) {
		return nil, fmt.Errorf("%w: got %v", domain.ErrInvalidAmount, in.Quantity)
	}
	if in.PricePerUnit.IsNegative() || in.Weight < 0 {
		return nil, fmt.Errorf("%w: price and weight must not be negative", domain.ErrMalformedRecord)
	}

	us := l.user(in.Username)
	us.mu.Lock()
	defer us.mu.Unlock()

	snap, err := l.load(ctx, in.Username, us)
	if err != nil {
		return nil, err
	}

	now := l.now()
	item, exists := snap.lookup(in.FoodName)
	prior := 0.0
	if exists {
		prior = item.Quantity
	} else {
		item = domain.InventoryItem{Username: in.Username, FoodName: in.FoodName}
	}
	if prior == 0 {
		item.DateOfEntry = domain.DatePtr(now)
	}
	mergeDetails(&item, in)
	if in.CO2PerUnit != nil {
		item.CO2PerUnit = *in.CO2PerUnit
		item.CO2Estimated = false
	} else if !exists || item.CO2Estimated {
		l.parser.EstimateCO2(&item)
	}
	item.Quantity = prior + in.Quantity

	res, err := l.commit(ctx, us, snap, item, domain.ActionRestocked, in.Quantity, prior, in.Remark, now)
	if err != nil {
		return nil, err
	}
	l.logger.Info("item purchased", "username", in.Username, "food_name", item.FoodName, "quantity", in.Quantity, "new", !exists)
	return res, nil
}

// Import writes rows for username as they are, without ledger events. It is
// meant for seeding from a spreadsheet export.
func (l *Ledger) Import(ctx context.Context, username string, items []domain.InventoryItem) (*Snapshot, error) {
	us := l.user(username)
	us.mu.Lock()
	defer us.mu.Unlock()

	current, err := l.load(ctx, username, us)
	if err != nil {
		return nil, err
	}

	// Food names match case-insensitively; imported rows take the spelling
	// already on file so each food keeps a single row.
	names := make(map[string]string)
	rows := make([]domain.InventoryItem, 0, len(items))
	for _, it := range items {
		it.Username = username
		it.FoodName = strings.TrimSpace(it.FoodName)
		if it.FoodName == "" {
			return nil, fmt.Errorf("%w: food name is required", domain.ErrMalformedRecord)
		}
		key := strings.ToLower(it.FoodName)
		if name, ok := names[key]; ok {
			it.FoodName = name
		} else if existing, ok := current.lookup(it.FoodName); ok {
			it.FoodName = existing.FoodName
		}
		names[key] = it.FoodName
		if it.Quantity < 0 || math.IsNaN(it.Quantity) {
			return nil, fmt.Errorf("%w: %s has a negative quantity", domain.ErrMalformedRecord, it.FoodName)
		}
		if it.CO2PerUnit.IsZero() {
			l.parser.EstimateCO2(&it)
		}
		rows = append(rows, it)
	}
	if err := l.store.WriteSnapshot(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to import items: %w", err)
	}
	l.logger.Info("items imported", "username", username, "count", len(rows))
	return l.load(ctx, username, us)
}

func (l *Ledger) commit(ctx context.Context, us *userState, snap *Snapshot, item domain.InventoryItem,
	action domain.Action, delta, prior float64, remark string, now time.Time) (*Result, error) {
	ev := domain.NewEvent(l.newID(), item, action, delta, remark, now)
	tx := domain.Transaction{ID: l.newID(), Item: item, Event: ev, PriorQuantity: prior}

	queued, err := l.store.Commit(ctx, tx)
	if err != nil {
		// The local copy may now disagree with the primary; force a reload.
		us.snap = nil
		var drop *domain.DroppedWrite
		if errors.As(err, &drop) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to commit %s of %s: %w", action, item.FoodName, err)
	}
	us.snap = snap.with(item, now)
	return &Result{Item: item, Event: ev, Queued: queued}, nil
}

// load reads the user's rows and installs them as the next snapshot version.
// The caller holds us.mu.
func (l *Ledger) load(ctx context.Context, username string, us *userState) (*Snapshot, error) {
	all, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	rows := make([]domain.InventoryItem, 0)
	for _, it := range all {
		if it.Username == username {
			rows = append(rows, it)
		}
	}

	var version uint64 = 1
	if us.snap != nil {
		version = us.snap.version + 1
	}
	us.snap = newSnapshot(username, version, l.now(), l.policy, rows)
	return us.snap, nil
}

func (l *Ledger) user(username string) *userState {
	l.mu.Lock()
	defer l.mu.Unlock()
	us, ok := l.users[username]
	if !ok {
		us = &userState{}
		l.users[username] = us
	}
	return us
}

func mergeDetails(item *domain.InventoryItem, in NewItem) {
	if in.FoodType != "" {
		item.FoodType = in.FoodType
	}
	if in.QuantityUnit != "" {
		item.QuantityUnit = in.QuantityUnit
	}
	if in.Weight > 0 {
		item.Weight = in.Weight
		item.WeightUnit = in.WeightUnit
	}
	if !in.PricePerUnit.IsZero() {
		item.PricePerUnit = in.PricePerUnit
	}
	if in.Brand != "" {
		item.Brand = in.Brand
	}
	if in.ExpiryDate != nil {
		item.ExpiryDate = domain.DatePtr(*in.ExpiryDate)
	}
	if in.Remark != "" {
		item.Remark = in.Remark
	}
}

func validAmount(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
