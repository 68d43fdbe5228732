// Package sheets reads the externally maintained stock spreadsheet through
// its published-CSV endpoint.
package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gco-platform/ledgersync/internal/metrics"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// Row is one spreadsheet line keyed by SKU: the month's opening balance and
// the entries booked by hand outside the ledger.
type Row struct {
	SKU            string  `json:"sku"`
	InitialBalance float64 `json:"initialBalance"`
	Entries        float64 `json:"entries"`
}

// Expected (normalized) column headers.
const (
	headerSKU     = "SKU"
	headerInitial = "SALDO INICIAL"
	headerEntries = "INGRESO"
)

// Feed fetches and parses the spreadsheet.
type Feed struct {
	url       string
	headerRow int
	httpc     *http.Client
	logger    *slog.Logger
}

// Option configures a Feed.
type Option func(*Feed)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Feed) { f.httpc = hc }
}

// WithLogger sets the feed logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Feed for the configured spreadsheet. The config URL may be
// the human-facing edit URL; it is rewritten to the CSV export endpoint.
func New(cfg types.SheetConfig, opts ...Option) *Feed {
	f := &Feed{
		url:       ExportURL(cfg.URL),
		headerRow: cfg.HeaderRow,
		logger:    slog.Default(),
	}
	if f.headerRow < 1 {
		f.headerRow = 1
	}
	for _, o := range opts {
		o(f)
	}
	if f.httpc == nil {
		f.httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return f
}

// ExportURL rewrites a spreadsheet edit URL to its CSV export form. URLs
// already pointing at an export or publish endpoint pass through unchanged.
func ExportURL(raw string) string {
	if i := strings.Index(raw, "/edit"); i >= 0 {
		return raw[:i] + "/export?format=csv"
	}
	return raw
}

// Fetch downloads the sheet and returns its rows keyed by SKU. Rows with an
// empty SKU are skipped; duplicate SKUs keep the last occurrence.
func (f *Feed) Fetch(ctx context.Context) (map[string]Row, error) {
	metrics.SheetFetches.Add(1)
	rows, err := f.fetch(ctx)
	if err != nil {
		metrics.SheetFetchFailures.Add(1)
		return nil, err
	}
	return rows, nil
}

func (f *Feed) fetch(ctx context.Context) (map[string]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building sheet request: %w", err)
	}
	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching sheet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet fetch returned status %d", resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing sheet CSV: %w", err)
	}
	if len(records) < f.headerRow {
		return nil, fmt.Errorf("sheet has %d rows, header expected on row %d", len(records), f.headerRow)
	}

	columns := map[string]int{}
	for i, h := range records[f.headerRow-1] {
		columns[normalizeHeader(h)] = i
	}
	skuCol, ok := columns[headerSKU]
	if !ok {
		return nil, fmt.Errorf("sheet header row %d has no %s column", f.headerRow, headerSKU)
	}
	initialCol, hasInitial := columns[headerInitial]
	entriesCol, hasEntries := columns[headerEntries]

	rows := make(map[string]Row)
	for _, record := range records[f.headerRow:] {
		sku := strings.TrimSpace(cell(record, skuCol))
		if sku == "" {
			continue
		}
		row := Row{SKU: sku}
		if hasInitial {
			row.InitialBalance = ParseDecimal(cell(record, initialCol))
		}
		if hasEntries {
			row.Entries = ParseDecimal(cell(record, entriesCol))
		}
		rows[sku] = row
	}
	f.logger.Info("sheet fetched", "rows", len(rows))
	return rows, nil
}

// normalizeHeader uppercases, trims, and strips the leading "#" marker some
// sheet columns carry ("# SKU" -> "SKU").
func normalizeHeader(h string) string {
	h = strings.ToUpper(strings.TrimSpace(h))
	h = strings.TrimSpace(strings.TrimPrefix(h, "#"))
	return h
}

func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

// ParseDecimal parses a sheet number that may use European formatting
// ("1.234,56") or plain formatting ("1,234.56" / "1234.56"). Unparseable
// values yield 0.
func ParseDecimal(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			// 1.234,56 -> dots are thousands separators
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			// 1,234.56 -> commas are thousands separators
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		// 1.234,56 without dots, or plain 12,5
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
