// Package sheets stores tables in a Google Sheets spreadsheet, one tab per
// table with a header row.
package sheets

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
)

// The Sheets API allows 60 requests per minute per user by default.
const defaultRequestsPerSecond = 1.0

type Config struct {
	SpreadsheetID   string
	CredentialsFile string
	// RequestsPerSecond caps the client request rate. Zero selects the
	// default quota.
	RequestsPerSecond float64

	// Endpoint and HTTPClient override the API location, for tests.
	Endpoint   string
	HTTPClient *http.Client
}

type Table struct {
	svc           *gsheets.Service
	spreadsheetID string
	limiter       *rate.Limiter
}

func New(ctx context.Context, cfg Config) (*Table, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Table{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (t *Table) ReadAll(ctx context.Context, sheet remote.Sheet) ([]record.Row, error) {
	values, err := t.values(ctx, sheet.Name)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []record.Row{}, nil
	}

	header := cells(values[0])
	rows := make([]record.Row, 0, len(values)-1)
	for _, v := range values[1:] {
		if blank(v) {
			continue
		}
		rows = append(rows, record.NewRow(header, cells(v)))
	}
	return rows, nil
}

func (t *Table) Append(ctx context.Context, sheet remote.Sheet, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}

	header, err := t.header(ctx, sheet)
	if err != nil {
		return err
	}

	vr := &gsheets.ValueRange{}
	for _, r := range rows {
		vr.Values = append(vr.Values, toInterfaces(r.Values(header)))
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = t.svc.Spreadsheets.Values.Append(t.spreadsheetID, sheet.Name, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", sheet.Name, err)
	}
	return nil
}

func (t *Table) UpdateRow(ctx context.Context, sheet remote.Sheet, row record.Row) error {
	values, err := t.values(ctx, sheet.Name)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return remote.ErrRowNotFound
	}

	header := cells(values[0])
	for i, v := range values[1:] {
		existing := record.NewRow(header, cells(v))
		if !existing.Matches(row, sheet.Key) {
			continue
		}
		for k, val := range row {
			existing[record.Canonical(k)] = val
		}

		// Sheet rows are 1-based and row 1 is the header.
		rng := fmt.Sprintf("%s!A%d", sheet.Name, i+2)
		vr := &gsheets.ValueRange{Values: [][]interface{}{toInterfaces(existing.Values(canonicalHeader(header)))}}
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := t.svc.Spreadsheets.Values.Update(t.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", rng, err)
		}
		return nil
	}
	return remote.ErrRowNotFound
}

func (t *Table) values(ctx context.Context, rng string) ([][]interface{}, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// header returns the sheet's header in canonical form, writing sheet.Columns
// as the header first when the tab is empty.
func (t *Table) header(ctx context.Context, sheet remote.Sheet) ([]string, error) {
	values, err := t.values(ctx, sheet.Name+"!1:1")
	if err != nil {
		return nil, err
	}
	if len(values) > 0 && !blank(values[0]) {
		return canonicalHeader(cells(values[0])), nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vr := &gsheets.ValueRange{Values: [][]interface{}{toInterfaces(sheet.Columns)}}
	_, err = t.svc.Spreadsheets.Values.Update(t.spreadsheetID, sheet.Name+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to write header for %s: %w", sheet.Name, err)
	}
	return sheet.Columns, nil
}

func canonicalHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = record.Canonical(h)
	}
	return out
}

func cells(v []interface{}) []string {
	out := make([]string, len(v))
	for i, c := range v {
		out[i] = cell(c)
	}
	return out
}

// cell renders an unformatted cell value as text.
func cell(c interface{}) string {
	switch v := c.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func blank(v []interface{}) bool {
	for _, c := range v {
		if strings.TrimSpace(cell(c)) != "" {
			return false
		}
	}
	return true
}

func toInterfaces(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
