package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
)

// fakeSheets serves the subset of the Sheets values API the table uses.
type fakeSheets struct {
	mu   sync.Mutex
	tabs map[string][][]string
	fail bool
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		http.Error(w, `{"error":{"code":429,"message":"quota"}}`, http.StatusTooManyRequests)
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, "/v4/spreadsheets/sheet-id/values/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	rng, isAppend := strings.CutSuffix(rest, ":append")
	tab, cellRef, _ := strings.Cut(rng, "!")

	switch {
	case r.Method == http.MethodGet:
		rows := f.tabs[tab]
		if cellRef == "1:1" && len(rows) > 0 {
			rows = rows[:1]
		}
		writeValues(w, rows)
	case r.Method == http.MethodPost && isAppend:
		var body struct{ Values [][]string }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.tabs[tab] = append(f.tabs[tab], body.Values...)
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		var body struct{ Values [][]string }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n, err := strconv.Atoi(strings.TrimPrefix(cellRef, "A"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for len(f.tabs[tab]) < n {
			f.tabs[tab] = append(f.tabs[tab], nil)
		}
		f.tabs[tab][n-1] = body.Values[0]
		_, _ = w.Write([]byte(`{}`))
	default:
		http.Error(w, "unexpected request", http.StatusMethodNotAllowed)
	}
}

func writeValues(w http.ResponseWriter, rows [][]string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"majorDimension": "ROWS", "values": rows})
}

var itemSheet = remote.Sheet{Name: "DB", Columns: record.ItemColumns, Key: record.ItemKey}

func newTestTable(t *testing.T, fake *fakeSheets) *Table {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	tbl, err := New(context.Background(), Config{
		SpreadsheetID:     "sheet-id",
		Endpoint:          server.URL + "/",
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return tbl
}

func TestReadAll(t *testing.T) {
	fake := &fakeSheets{tabs: map[string][][]string{
		"DB": {
			{"Food Name", "Username", "Quantity"},
			{"Milk", "u", "2"},
			{"", "", ""},
			{"Eggs", "u", "12"},
		},
	}}
	tbl := newTestTable(t, fake)

	rows, err := tbl.ReadAll(context.Background(), itemSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Milk", rows[0].Get(record.ColFoodName))
	assert.Equal(t, "12", rows[1].Get(record.ColQuantity))
}

func TestReadAll_EmptyTab(t *testing.T) {
	tbl := newTestTable(t, &fakeSheets{tabs: map[string][][]string{}})

	rows, err := tbl.ReadAll(context.Background(), itemSheet)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAppend_WritesHeaderOnce(t *testing.T) {
	fake := &fakeSheets{tabs: map[string][][]string{}}
	tbl := newTestTable(t, fake)
	ctx := context.Background()

	row := record.Row{record.ColUsername: "u", record.ColFoodName: "Milk", record.ColQuantity: "1"}
	require.NoError(t, tbl.Append(ctx, itemSheet, []record.Row{row}))
	require.NoError(t, tbl.Append(ctx, itemSheet, []record.Row{row}))

	tab := fake.tabs["DB"]
	require.Len(t, tab, 3)
	assert.Equal(t, record.ItemColumns, tab[0])

	rows, err := tbl.ReadAll(ctx, itemSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Milk", rows[1].Get(record.ColFoodName))
}

func TestAppend_UsesExistingColumnOrder(t *testing.T) {
	fake := &fakeSheets{tabs: map[string][][]string{
		"DB": {{"Quantity", "Food_Name", "Username"}},
	}}
	tbl := newTestTable(t, fake)

	err := tbl.Append(context.Background(), itemSheet, []record.Row{
		{record.ColUsername: "u", record.ColFoodName: "Rice", record.ColQuantity: "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "Rice", "u"}, fake.tabs["DB"][1])
}

func TestUpdateRow(t *testing.T) {
	fake := &fakeSheets{tabs: map[string][][]string{
		"DB": {
			{"Username", "Food_Name", "Quantity", "Brand"},
			{"u", "Milk", "2", "Acme"},
			{"u", "Eggs", "12", ""},
		},
	}}
	tbl := newTestTable(t, fake)

	err := tbl.UpdateRow(context.Background(), itemSheet, record.Row{
		record.ColUsername: "u", record.ColFoodName: "Eggs", record.ColQuantity: "10",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u", "Eggs", "10", ""}, fake.tabs["DB"][2])
	assert.Equal(t, []string{"u", "Milk", "2", "Acme"}, fake.tabs["DB"][1])
}

func TestUpdateRow_NotFound(t *testing.T) {
	fake := &fakeSheets{tabs: map[string][][]string{
		"DB": {{"Username", "Food_Name", "Quantity"}},
	}}
	tbl := newTestTable(t, fake)

	err := tbl.UpdateRow(context.Background(), itemSheet, record.Row{record.ColUsername: "u", record.ColFoodName: "Ghost"})
	assert.ErrorIs(t, err, remote.ErrRowNotFound)
}

func TestAPIError(t *testing.T) {
	tbl := newTestTable(t, &fakeSheets{fail: true})

	_, err := tbl.ReadAll(context.Background(), itemSheet)
	assert.Error(t, err)
}

func TestNew_RequiresSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestCell(t *testing.T) {
	assert.Equal(t, "", cell(nil))
	assert.Equal(t, "2.5", cell(2.5))
	assert.Equal(t, "12", cell(float64(12)))
	assert.Equal(t, "true", cell(true))
	assert.Equal(t, "Milk", cell("Milk"))
}
