package record

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vbonduro/shelflife/internal/domain"
)

// DateLayout is the layout used when writing dates.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	DateLayout,
}

// eventNamespace seeds deterministic IDs for legacy ledger rows written
// before Event_ID existed.
var eventNamespace = uuid.MustParse("5b0c4a5e-7c1e-4d51-9a55-3f1f0d6f7a10")

type itemFields struct {
	Username string `validate:"required"`
	FoodName string `validate:"required"`
	Quantity string `validate:"omitempty,numeric"`
	Weight   string `validate:"omitempty,numeric"`
	Price    string `validate:"omitempty,numeric"`
	CO2      string `validate:"omitempty,numeric"`
}

type itemAmounts struct {
	Quantity float64 `validate:"gte=0"`
	Weight   float64 `validate:"gte=0"`
	Price    float64 `validate:"gte=0"`
	CO2      float64 `validate:"gte=0"`
}

type eventFields struct {
	Username   string `validate:"required"`
	FoodName   string `validate:"required"`
	Timestamp  string `validate:"required"`
	Delta      string `validate:"required,numeric"`
	Action     string `validate:"required,oneof=consumed trashed donated restocked"`
	CO2Impact  string `validate:"omitempty,numeric"`
	CostImpact string `validate:"omitempty,numeric"`
}

// Parser validates raw rows into typed records.
type Parser struct {
	validate *validator.Validate
	co2      CO2Estimator
	logger   *slog.Logger
}

func NewParser(co2 CO2Estimator, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		co2:      co2,
		logger:   logger,
	}
}

// ParseItem converts one row. index is used only for error reporting.
func (p *Parser) ParseItem(row Row, index int) (domain.InventoryItem, error) {
	f := itemFields{
		Username: strings.TrimSpace(row.Get(ColUsername)),
		FoodName: strings.TrimSpace(row.Get(ColFoodName)),
		Quantity: row.Get(ColQuantity),
		Weight:   row.Get(ColWeight),
		Price:    row.Get(ColPrice),
		CO2:      row.Get(ColCO2),
	}
	if err := p.validate.Struct(f); err != nil {
		return domain.InventoryItem{}, malformed(index, err)
	}

	amounts := itemAmounts{
		Quantity: parseNumber(f.Quantity),
		Weight:   parseNumber(f.Weight),
		Price:    parseNumber(f.Price),
		CO2:      parseNumber(f.CO2),
	}
	if err := p.validate.Struct(amounts); err != nil {
		return domain.InventoryItem{}, malformed(index, err)
	}

	item := domain.InventoryItem{
		Username:     f.Username,
		FoodName:     f.FoodName,
		FoodType:     row.Get(ColFoodType),
		DateOfEntry:  ParseDate(row.Get(ColDateOfEntry)),
		ExpiryDate:   ParseDate(row.Get(ColExpiryDate)),
		Quantity:     amounts.Quantity,
		QuantityUnit: row.Get(ColQUnit),
		Weight:       amounts.Weight,
		WeightUnit:   row.Get(ColWUnit),
		PricePerUnit: parseDecimal(f.Price),
		Brand:        row.Get(ColBrand),
		Remark:       row.Get(ColRemarks),
	}
	if f.CO2 != "" {
		item.CO2PerUnit = parseDecimal(f.CO2)
	} else {
		p.EstimateCO2(&item)
	}
	return item, nil
}

// EstimateCO2 fills CO2PerUnit from the item's category and weight.
func (p *Parser) EstimateCO2(item *domain.InventoryItem) {
	est := p.co2.PerUnit(item.FoodType, item.FoodName, item.Weight, item.WeightUnit)
	item.CO2PerUnit = decimal.NewFromFloat(est).Round(6)
	item.CO2Estimated = true
}

// ParseItems converts every row it can. Malformed rows are logged and skipped.
func (p *Parser) ParseItems(rows []Row) []domain.InventoryItem {
	items := make([]domain.InventoryItem, 0, len(rows))
	for i, row := range rows {
		item, err := p.ParseItem(row, i)
		if err != nil {
			p.logger.Warn("skipping malformed inventory row", "row", i, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items
}

// ParseEvent converts one ledger row. Unlike inventory dates, an unreadable
// timestamp makes the row malformed: history without a time cannot be
// windowed.
func (p *Parser) ParseEvent(row Row, index int) (domain.LedgerEvent, error) {
	f := eventFields{
		Username:   strings.TrimSpace(row.Get(ColUsername)),
		FoodName:   strings.TrimSpace(row.Get(ColFoodName)),
		Timestamp:  row.Get(ColTimestamp),
		Delta:      row.Get(ColDelta),
		Action:     strings.ToLower(row.Get(ColAction)),
		CO2Impact:  row.Get(ColCO2Impact),
		CostImpact: row.Get(ColCostImpact),
	}
	if err := p.validate.Struct(f); err != nil {
		return domain.LedgerEvent{}, malformed(index, err)
	}

	ts, ok := ParseTimestamp(f.Timestamp)
	if !ok {
		return domain.LedgerEvent{}, &domain.MalformedRecordError{Row: index, Reason: "unparseable timestamp " + strconv.Quote(f.Timestamp)}
	}

	action := domain.Action(f.Action)
	delta := parseNumber(f.Delta)
	if (action.Depleting() && delta > 0) || (action == domain.ActionRestocked && delta < 0) {
		return domain.LedgerEvent{}, &domain.MalformedRecordError{Row: index, Reason: fmt.Sprintf("delta %v has the wrong sign for %s", delta, action)}
	}

	id := row.Get(ColEventID)
	if id == "" {
		key := strings.Join([]string{f.Username, f.FoodName, f.Timestamp, f.Delta, f.Action}, "|")
		id = uuid.NewSHA1(eventNamespace, []byte(key)).String()
	}

	return domain.LedgerEvent{
		ID:            id,
		Username:      f.Username,
		FoodName:      f.FoodName,
		Timestamp:     ts,
		DeltaQuantity: delta,
		Action:        action,
		Remark:        row.Get(ColRemarks),
		CO2Impact:     parseDecimal(f.CO2Impact),
		CostImpact:    parseDecimal(f.CostImpact),
	}, nil
}

// ParseEvents converts every ledger row it can. Malformed rows are logged and
// skipped.
func (p *Parser) ParseEvents(rows []Row) []domain.LedgerEvent {
	events := make([]domain.LedgerEvent, 0, len(rows))
	for i, row := range rows {
		ev, err := p.ParseEvent(row, i)
		if err != nil {
			p.logger.Warn("skipping malformed ledger row", "row", i, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// ParseDate returns nil for empty or unrecognised input.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.DatePtr(t)
		}
	}
	return nil
}

// ParseTimestamp parses a ledger timestamp into UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ItemRow serializes an item. Estimated CO2 figures are not written back so
// they keep tracking the estimator.
func ItemRow(it domain.InventoryItem) Row {
	r := Row{
		ColUsername:    it.Username,
		ColFoodName:    it.FoodName,
		ColFoodType:    it.FoodType,
		ColDateOfEntry: FormatDate(it.DateOfEntry),
		ColExpiryDate:  FormatDate(it.ExpiryDate),
		ColQuantity:    FormatNumber(it.Quantity),
		ColQUnit:       it.QuantityUnit,
		ColWeight:      "",
		ColWUnit:       it.WeightUnit,
		ColPrice:       it.PricePerUnit.String(),
		ColBrand:       it.Brand,
		ColRemarks:     it.Remark,
		ColCO2:         "",
	}
	if it.Weight > 0 {
		r[ColWeight] = FormatNumber(it.Weight)
	}
	if !it.CO2Estimated {
		r[ColCO2] = it.CO2PerUnit.String()
	}
	return r
}

// EventRow serializes a ledger event.
func EventRow(ev domain.LedgerEvent) Row {
	return Row{
		ColEventID:    ev.ID,
		ColUsername:   ev.Username,
		ColFoodName:   ev.FoodName,
		ColTimestamp:  ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ColDelta:      FormatNumber(ev.DeltaQuantity),
		ColAction:     string(ev.Action),
		ColRemarks:    ev.Remark,
		ColCO2Impact:  ev.CO2Impact.String(),
		ColCostImpact: ev.CostImpact.String(),
	}
}

// FormatDate renders a nullable date; nil becomes the empty string.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// FormatNumber renders f without trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseNumber expects input already checked by the numeric validator.
func parseNumber(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func malformed(index int, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
		return &domain.MalformedRecordError{Row: index, Reason: strings.Join(parts, "; ")}
	}
	return &domain.MalformedRecordError{Row: index, Reason: err.Error()}
}
