// Package memtable is an in-process primary store. It backs
// PRIMARY_BACKEND=memory and lets tests take the primary offline.
package memtable

import (
	"context"
	"errors"
	"sync"

	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
)

// ErrOffline is returned while the table is taken offline.
var ErrOffline = errors.New("memtable: primary offline")

type Table struct {
	mu        sync.Mutex
	sheets    map[string][]record.Row
	fail      error
	sheetFail map[string]error
	calls     int
	updates   int
	appends   int
}

func New() *Table {
	return &Table{sheets: make(map[string][]record.Row), sheetFail: make(map[string]error)}
}

// SetOffline makes every call fail with ErrOffline until called with false.
func (t *Table) SetOffline(offline bool) {
	if offline {
		t.FailWith(ErrOffline)
		return
	}
	t.FailWith(nil)
}

// FailWith makes every call return err. A nil err restores normal service.
func (t *Table) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

// FailSheet makes calls against one sheet return err. A nil err restores it.
func (t *Table) FailSheet(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.sheetFail, name)
		return
	}
	t.sheetFail[name] = err
}

// Seed replaces a sheet's rows without counting as a write.
func (t *Table) Seed(name string, rows ...record.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sheets[name] = copyRows(rows)
}

// Rows returns a copy of a sheet's rows.
func (t *Table) Rows(name string) []record.Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyRows(t.sheets[name])
}

// Writes reports how many appends and updates succeeded.
func (t *Table) Writes() (appends, updates int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appends, t.updates
}

// Calls reports how many calls were made, failed ones included.
func (t *Table) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Table) ReadAll(ctx context.Context, sheet remote.Sheet) ([]record.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(ctx, sheet.Name); err != nil {
		return nil, err
	}
	return copyRows(t.sheets[sheet.Name]), nil
}

func (t *Table) Append(ctx context.Context, sheet remote.Sheet, rows []record.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(ctx, sheet.Name); err != nil {
		return err
	}
	t.sheets[sheet.Name] = append(t.sheets[sheet.Name], copyRows(rows)...)
	t.appends++
	return nil
}

func (t *Table) UpdateRow(ctx context.Context, sheet remote.Sheet, row record.Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(ctx, sheet.Name); err != nil {
		return err
	}
	rows := t.sheets[sheet.Name]
	for i := range rows {
		if rows[i].Matches(row, sheet.Key) {
			rows[i] = copyRow(row)
			t.updates++
			return nil
		}
	}
	return remote.ErrRowNotFound
}

func (t *Table) check(ctx context.Context, sheet string) error {
	t.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.fail != nil {
		return t.fail
	}
	return t.sheetFail[sheet]
}

func copyRows(rows []record.Row) []record.Row {
	out := make([]record.Row, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out
}

func copyRow(r record.Row) record.Row {
	c := make(record.Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
