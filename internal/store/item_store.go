package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vbonduro/shelflife/internal/domain"
	"github.com/vbonduro/shelflife/internal/record"
)

const itemColumns = `username, food_name, food_type, date_of_entry, expiry_date, quantity, quantity_unit,
	weight, weight_unit, price_per_unit, brand, co2_per_unit, co2_estimated, remark`

// ItemStore is the local fallback snapshot of inventory rows.
type ItemStore struct {
	db DBTX
}

func NewItemStore(db DBTX) *ItemStore {
	return &ItemStore{db: db}
}

// WithTx returns a copy of the store that runs its statements in tx.
func (s *ItemStore) WithTx(tx *sql.Tx) *ItemStore {
	return &ItemStore{db: tx}
}

// Get returns the row for username and foodName, matching the name without
// regard to case. It returns nil, nil when there is no such row.
func (s *ItemStore) Get(ctx context.Context, username, foodName string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE username = ? AND food_name = ? COLLATE NOCASE
	`, username, foodName)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// List returns every row, zero-quantity rows included.
func (s *ItemStore) List(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items ORDER BY username ASC, food_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer closeRows(rows)

	items := []domain.InventoryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// Upsert inserts item or replaces the row with the same username and food name.
func (s *ItemStore) Upsert(ctx context.Context, item domain.InventoryItem) error {
	estimated := 0
	if item.CO2Estimated {
		estimated = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (username, food_name) DO UPDATE SET
			food_type = excluded.food_type,
			date_of_entry = excluded.date_of_entry,
			expiry_date = excluded.expiry_date,
			quantity = excluded.quantity,
			quantity_unit = excluded.quantity_unit,
			weight = excluded.weight,
			weight_unit = excluded.weight_unit,
			price_per_unit = excluded.price_per_unit,
			brand = excluded.brand,
			co2_per_unit = excluded.co2_per_unit,
			co2_estimated = excluded.co2_estimated,
			remark = excluded.remark,
			updated_at = CURRENT_TIMESTAMP
	`, item.Username, item.FoodName, item.FoodType,
		record.FormatDate(item.DateOfEntry), record.FormatDate(item.ExpiryDate),
		item.Quantity, item.QuantityUnit, item.Weight, item.WeightUnit,
		item.PricePerUnit.String(), item.Brand, item.CO2PerUnit.String(), estimated, item.Remark)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole snapshot for items.
func (s *ItemStore) ReplaceAll(ctx context.Context, items []domain.InventoryItem) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	for _, item := range items {
		if err := s.Upsert(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (*domain.InventoryItem, error) {
	var (
		item          domain.InventoryItem
		entry, expiry string
		price, co2    string
		estimated     int
	)
	if err := sc.Scan(&item.Username, &item.FoodName, &item.FoodType, &entry, &expiry,
		&item.Quantity, &item.QuantityUnit, &item.Weight, &item.WeightUnit,
		&price, &item.Brand, &co2, &estimated, &item.Remark); err != nil {
		return nil, err
	}
	item.DateOfEntry = parseDate(entry)
	item.ExpiryDate = parseDate(expiry)
	item.PricePerUnit = decimalFromText(price)
	item.CO2PerUnit = decimalFromText(co2)
	item.CO2Estimated = estimated != 0
	return &item, nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	return record.ParseDate(s)
}
