package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedRecord     = errors.New("malformed record")
	ErrItemNotFound        = errors.New("item not found")
	ErrInvalidAmount       = errors.New("amount must be a positive number")
	ErrInvalidAction       = errors.New("unknown action")
	ErrStoreUnavailable    = errors.New("primary store unavailable")
	ErrPendingWriteDropped = errors.New("pending write dropped")
)

// MalformedRecordError describes a row rejected at ingest.
type MalformedRecordError struct {
	Row    int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}

// DroppedWrite is a queued write that could not be replayed without breaking
// stock invariants. It needs manual review.
type DroppedWrite struct {
	TxID      string
	Kind      string
	Username  string
	FoodName  string
	Delta     float64
	Reason    string
	DroppedAt time.Time
}

func (d *DroppedWrite) Error() string {
	return fmt.Sprintf("pending write %s for %s/%s dropped: %s", d.TxID, d.Username, d.FoodName, d.Reason)
}

func (d *DroppedWrite) Unwrap() error {
	return ErrPendingWriteDropped
}
