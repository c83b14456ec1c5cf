// Package remote defines the primary store boundary: a set of named tables of
// text rows that can be read in full, appended to, and updated by key.
package remote

import (
	"context"
	"errors"

	"github.com/vbonduro/shelflife/internal/record"
)

// ErrRowNotFound is returned by UpdateRow when no row matches the key.
var ErrRowNotFound = errors.New("row not found")

// Sheet names a table and the layout used when it has to be created.
type Sheet struct {
	Name    string
	Columns []string
	Key     []string
}

// Table is implemented by every primary store backend. Any call may fail
// transiently; callers treat errors as "primary unavailable".
type Table interface {
	ReadAll(ctx context.Context, sheet Sheet) ([]record.Row, error)
	Append(ctx context.Context, sheet Sheet, rows []record.Row) error
	// UpdateRow overwrites the first row agreeing with row on sheet.Key.
	UpdateRow(ctx context.Context, sheet Sheet, row record.Row) error
}
