// Package record converts between raw store rows and the typed inventory
// model. Rows come from spreadsheets and SQL tables alike, so headers are
// matched loosely and every cell is text.
package record

import "strings"

// Inventory sheet columns.
const (
	ColUsername    = "Username"
	ColFoodName    = "Food_Name"
	ColFoodType    = "Food_Type"
	ColDateOfEntry = "Date_of_Entry"
	ColExpiryDate  = "Expiry_Date"
	ColQuantity    = "Quantity"
	ColQUnit       = "QUnit"
	ColWeight      = "Weight"
	ColWUnit       = "WUnit"
	ColPrice       = "Price"
	ColBrand       = "Brand"
	ColRemarks     = "Remarks"
	ColCO2         = "CO2_Emitted"
)

// Ledger sheet columns. Username, Food_Name and Remarks are shared.
const (
	ColEventID    = "Event_ID"
	ColTimestamp  = "Timestamp"
	ColDelta      = "Delta_Quantity"
	ColAction     = "Action"
	ColCO2Impact  = "CO2_Impact"
	ColCostImpact = "Cost_Impact"
)

// ItemColumns is the header order used when writing inventory rows.
var ItemColumns = []string{
	ColUsername, ColFoodName, ColDateOfEntry, ColExpiryDate, ColQuantity, ColQUnit,
	ColWeight, ColWUnit, ColPrice, ColBrand, ColRemarks, ColCO2, ColFoodType,
}

// EventColumns is the header order used when writing ledger rows.
var EventColumns = []string{
	ColEventID, ColUsername, ColFoodName, ColTimestamp, ColDelta, ColAction,
	ColRemarks, ColCO2Impact, ColCostImpact,
}

// ItemKey identifies an inventory row.
var ItemKey = []string{ColUsername, ColFoodName}

// EventKey identifies a ledger row.
var EventKey = []string{ColEventID}

var canonical = func() map[string]string {
	m := make(map[string]string)
	for _, c := range append(append([]string{}, ItemColumns...), EventColumns...) {
		m[normalize(c)] = c
	}
	// Aliases seen in hand-edited sheets.
	m["user"] = ColUsername
	m["food"] = ColFoodName
	m["name"] = ColFoodName
	m["price"] = ColPrice
	m["priceperunit"] = ColPrice
	m["co2"] = ColCO2
	m["co2perunit"] = ColCO2
	m["quantityunit"] = ColQUnit
	m["weightunit"] = ColWUnit
	m["remark"] = ColRemarks
	return m
}()

// Canonical maps a header as found in a store to the column name used by
// this package. Unknown headers are returned trimmed but otherwise unchanged.
func Canonical(header string) string {
	if c, ok := canonical[normalize(header)]; ok {
		return c
	}
	return strings.TrimSpace(header)
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case '_', '-', ' ', '.', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Row is one store row keyed by canonical column name.
type Row map[string]string

// NewRow zips a header with a value slice. Short value slices leave the
// trailing columns empty; extra values without a header are ignored.
func NewRow(header, values []string) Row {
	r := make(Row, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		v := ""
		if i < len(values) {
			v = values[i]
		}
		r[Canonical(h)] = strings.TrimSpace(v)
	}
	return r
}

// Get returns the value for column, tolerating rows built with non-canonical
// keys.
func (r Row) Get(column string) string {
	if v, ok := r[column]; ok {
		return v
	}
	for k, v := range r {
		if Canonical(k) == column {
			return v
		}
	}
	return ""
}

// Values lays the row out in the given column order.
func (r Row) Values(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = r.Get(c)
	}
	return out
}

// Matches reports whether r and other agree on every key column.
func (r Row) Matches(other Row, key []string) bool {
	for _, k := range key {
		if r.Get(k) != other.Get(k) {
			return false
		}
	}
	return true
}
