package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/shelflife/internal/assistant"
	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/expiry"
	"github.com/vbonduro/shelflife/internal/grocery"
	"github.com/vbonduro/shelflife/internal/ledger"
	"github.com/vbonduro/shelflife/internal/metrics"
	"github.com/vbonduro/shelflife/internal/storage"
)

var ErrAssistantUnavailable = errors.New("no assistant configured")

// inventoryLedger is the subset of ledger.Ledger that PantryService requires.
type inventoryLedger interface {
	Snapshot(ctx context.Context, username string) (*ledger.Snapshot, error)
	All(ctx context.Context) ([]domain.InventoryItem, error)
	Apply(ctx context.Context, req ledger.ActionRequest) (*ledger.Result, error)
	AddItem(ctx context.Context, in ledger.NewItem) (*ledger.Result, error)
	Import(ctx context.Context, username string, items []domain.InventoryItem) (*ledger.Snapshot, error)
}

// history is the subset of storage.Adapter that PantryService requires.
type history interface {
	ReadEvents(ctx context.Context) ([]domain.LedgerEvent, error)
	Status(ctx context.Context) (storage.Status, error)
	Dropped(ctx context.Context) ([]domain.DroppedWrite, error)
}

type Options struct {
	SoonDays             int
	GroceryWindowDays    int
	GroceryThresholdDays float64
	WasteBreakpoints     []float64
	Now                  func() time.Time
}

type PantryService struct {
	ledger    inventoryLedger
	history   history
	assistant assistant.Assistant
	opts      Options
	logger    *slog.Logger
}

func NewPantryService(
	l inventoryLedger,
	h history,
	a assistant.Assistant,
	opts Options,
	logger *slog.Logger,
) *PantryService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &PantryService{
		ledger:    l,
		history:   h,
		assistant: a,
		opts:      opts,
		logger:    logger,
	}
}

// Inventory returns the user's items in display order.
func (s *PantryService) Inventory(ctx context.Context, username string) ([]expiry.Classified, error) {
	snap, err := s.ledger.Snapshot(ctx, username)
	if err != nil {
		return nil, err
	}
	return expiry.Sort(snap.Items(), s.today(), s.expiryOptions()), nil
}

// Expiring lists in-stock items whose expiry falls within days of today.
func (s *PantryService) Expiring(ctx context.Context, username string, days int) ([]expiry.Classified, error) {
	snap, err := s.ledger.Snapshot(ctx, username)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = s.expiryOptions().SoonDays
		if days <= 0 {
			days = expiry.DefaultSoonDays
		}
	}
	return expiry.ExpiringWithin(snap.Active(), s.today(), days), nil
}

func (s *PantryService) Apply(ctx context.Context, req ledger.ActionRequest) (*ledger.Result, error) {
	return s.ledger.Apply(ctx, req)
}

func (s *PantryService) AddItem(ctx context.Context, in ledger.NewItem) (*ledger.Result, error) {
	return s.ledger.AddItem(ctx, in)
}

func (s *PantryService) Import(ctx context.Context, username string, items []domain.InventoryItem) ([]expiry.Classified, error) {
	snap, err := s.ledger.Import(ctx, username, items)
	if err != nil {
		return nil, err
	}
	return expiry.Sort(snap.Items(), s.today(), s.expiryOptions()), nil
}

// GroceryList recommends what the user should buy. incoming holds quantities
// already on order.
func (s *PantryService) GroceryList(ctx context.Context, username string, incoming map[string]float64) ([]grocery.Entry, error) {
	snap, events, err := s.load(ctx, username)
	if err != nil {
		return nil, err
	}
	return grocery.Recommend(snap.Items(), events, s.opts.Now(), grocery.Options{
		WindowDays:    s.opts.GroceryWindowDays,
		ThresholdDays: s.opts.GroceryThresholdDays,
		Incoming:      incoming,
	}), nil
}

// Dashboard bundles the KPI set with the expiry breakdown by food type.
type Dashboard struct {
	metrics.Dashboard
	ExpiryBreakdown map[string]expiry.Counts `json:"expiry_breakdown"`
}

// TrendRange optionally bounds the usage trend; zero values use the default.
type TrendRange struct {
	From time.Time
	To   time.Time
}

func (s *PantryService) Dashboard(ctx context.Context, username string, trend TrendRange) (*Dashboard, error) {
	snap, events, err := s.load(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.dashboard(snap.Items(), events, trend), nil
}

// GlobalDashboard aggregates every user's stock and history.
func (s *PantryService) GlobalDashboard(ctx context.Context, trend TrendRange) (*Dashboard, error) {
	var (
		items  []domain.InventoryItem
		events []domain.LedgerEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.ledger.All(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = s.history.ReadEvents(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load dashboard data: %w", err)
	}
	return s.dashboard(items, events, trend), nil
}

// AvailableIngredients names the user's in-stock items that have not expired,
// most urgent first. It is all the recipe assistant ever sees.
func (s *PantryService) AvailableIngredients(ctx context.Context, username string) ([]string, error) {
	ingredients, err := s.ingredients(ctx, username)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ingredients))
	for i, ing := range ingredients {
		names[i] = ing.Name
	}
	return names, nil
}

// Ask sends the user's available ingredients to the configured assistant.
func (s *PantryService) Ask(ctx context.Context, username string, intent assistant.Intent, question string) (string, error) {
	if s.assistant == nil {
		return "", ErrAssistantUnavailable
	}
	ingredients, err := s.ingredients(ctx, username)
	if err != nil {
		return "", err
	}
	prompt, err := assistant.BuildPrompt(username, ingredients, intent, question)
	if err != nil {
		return "", err
	}

	answer, err := s.assistant.Suggest(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to get assistant response: %w", err)
	}
	s.logger.Info("assistant answered", "username", username, "intent", intent, "ingredients", len(ingredients))
	return answer, nil
}

func (s *PantryService) Status(ctx context.Context) (storage.Status, error) {
	return s.history.Status(ctx)
}

func (s *PantryService) Dropped(ctx context.Context) ([]domain.DroppedWrite, error) {
	return s.history.Dropped(ctx)
}

func (s *PantryService) ingredients(ctx context.Context, username string) ([]assistant.Ingredient, error) {
	snap, err := s.ledger.Snapshot(ctx, username)
	if err != nil {
		return nil, err
	}
	var out []assistant.Ingredient
	for _, c := range expiry.Sort(snap.Active(), s.today(), s.expiryOptions()) {
		if c.Status == expiry.StatusExpired {
			continue
		}
		out = append(out, assistant.Ingredient{Name: c.Item.FoodName, ExpiryDate: c.Item.ExpiryDate})
	}
	return out, nil
}

// load fetches the user's snapshot and ledger history concurrently.
func (s *PantryService) load(ctx context.Context, username string) (*ledger.Snapshot, []domain.LedgerEvent, error) {
	var (
		snap   *ledger.Snapshot
		events []domain.LedgerEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.ledger.Snapshot(gctx, username)
		return err
	})
	g.Go(func() error {
		all, err := s.history.ReadEvents(gctx)
		if err != nil {
			return err
		}
		for _, ev := range all {
			if ev.Username == username {
				events = append(events, ev)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("failed to load data for %s: %w", username, err)
	}
	return snap, events, nil
}

func (s *PantryService) dashboard(items []domain.InventoryItem, events []domain.LedgerEvent, trend TrendRange) *Dashboard {
	today := s.today()
	var active []domain.InventoryItem
	for _, it := range items {
		if it.Active() {
			active = append(active, it)
		}
	}
	return &Dashboard{
		Dashboard: metrics.Compute(items, events, today, metrics.Options{
			SoonDays:    s.opts.SoonDays,
			Breakpoints: s.opts.WasteBreakpoints,
			TrendFrom:   trend.From,
			TrendTo:     trend.To,
		}),
		ExpiryBreakdown: expiry.Breakdown(active, today, s.expiryOptions()),
	}
}

func (s *PantryService) expiryOptions() expiry.Options {
	return expiry.Options{SoonDays: s.opts.SoonDays}
}

func (s *PantryService) today() time.Time {
	return domain.Day(s.opts.Now())
}
