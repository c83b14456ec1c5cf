// Package postgres stores tables in PostgreSQL. Each sheet maps to a table of
// TEXT columns so rows keep the same loose shape they have in a spreadsheet.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
)

const rowIDColumn = "row_id"

type Table struct {
	db *gorm.DB

	mu      sync.Mutex
	created map[string]bool
}

// Open prepares a connection pool for dsn. The server is not contacted
// until the first read or write, so an unreachable database surfaces as a
// store failure rather than a startup error.
func Open(dsn string) (*Table, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Table {
	return &Table{db: db, created: make(map[string]bool)}
}

func (t *Table) ReadAll(ctx context.Context, sheet remote.Sheet) ([]record.Row, error) {
	if err := t.ensure(ctx, sheet); err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	err := t.db.WithContext(ctx).Table(tableName(sheet.Name)).Order(rowIDColumn).Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet.Name, err)
	}

	rows := make([]record.Row, 0, len(results))
	for _, res := range results {
		rows = append(rows, fromColumns(sheet.Columns, res))
	}
	return rows, nil
}

func (t *Table) Append(ctx context.Context, sheet remote.Sheet, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := t.ensure(ctx, sheet); err != nil {
		return err
	}

	values := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		values = append(values, toColumns(sheet.Columns, r))
	}
	if err := t.db.WithContext(ctx).Table(tableName(sheet.Name)).Create(&values).Error; err != nil {
		return fmt.Errorf("failed to append to %s: %w", sheet.Name, err)
	}
	return nil
}

func (t *Table) UpdateRow(ctx context.Context, sheet remote.Sheet, row record.Row) error {
	if err := t.ensure(ctx, sheet); err != nil {
		return err
	}

	where := make(map[string]interface{}, len(sheet.Key))
	for _, k := range sheet.Key {
		where[columnName(k)] = row.Get(k)
	}

	// Only the first matching row is updated, as in a spreadsheet.
	sub := t.db.Table(tableName(sheet.Name)).Select(rowIDColumn).Where(where).Order(rowIDColumn).Limit(1)
	res := t.db.WithContext(ctx).Table(tableName(sheet.Name)).
		Where(rowIDColumn+" IN (?)", sub).
		Updates(toColumns(sheet.Columns, row))
	if res.Error != nil {
		return fmt.Errorf("failed to update %s: %w", sheet.Name, res.Error)
	}
	if res.RowsAffected == 0 {
		return remote.ErrRowNotFound
	}
	return nil
}

// ensure creates the sheet's table on first use.
func (t *Table) ensure(ctx context.Context, sheet remote.Sheet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.created[sheet.Name] {
		return nil
	}
	if err := t.db.WithContext(ctx).Exec(createTableSQL(sheet)).Error; err != nil {
		return fmt.Errorf("failed to create table for %s: %w", sheet.Name, err)
	}
	t.created[sheet.Name] = true
	return nil
}

func createTableSQL(sheet remote.Sheet) string {
	cols := make([]string, 0, len(sheet.Columns)+1)
	cols = append(cols, rowIDColumn+" BIGSERIAL PRIMARY KEY")
	for _, c := range sheet.Columns {
		cols = append(cols, fmt.Sprintf("%q TEXT NOT NULL DEFAULT ''", columnName(c)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)", tableName(sheet.Name), strings.Join(cols, ", "))
}

// tableName maps a sheet name such as "DB" or "Ledger" to "shelflife_db".
func tableName(sheet string) string {
	return "shelflife_" + columnName(sheet)
}

func columnName(c string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(c)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func toColumns(columns []string, r record.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(columns))
	for _, c := range columns {
		out[columnName(c)] = r.Get(c)
	}
	return out
}

func fromColumns(columns []string, m map[string]interface{}) record.Row {
	r := make(record.Row, len(columns))
	for _, c := range columns {
		v, ok := m[columnName(c)]
		if !ok || v == nil {
			r[c] = ""
			continue
		}
		r[c] = fmt.Sprint(v)
	}
	return r
}
