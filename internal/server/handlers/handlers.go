// Package handlers implements HTTP request handlers for the LedgerSync API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gco-platform/ledgersync/internal/inventory"
	"github.com/gco-platform/ledgersync/internal/sheets"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// SyncRunner runs sync requests. *syncer.Syncer implements it.
type SyncRunner interface {
	Sync(ctx context.Context, req types.SyncRequest) (types.SyncResult, error)
}

// StockFetcher fetches the consolidated stock snapshot.
// *inventory.Consolidator implements it.
type StockFetcher interface {
	Fetch(ctx context.Context) inventory.Result
}

// SheetFetcher fetches the external spreadsheet. *sheets.Feed implements it.
type SheetFetcher interface {
	Fetch(ctx context.Context) (map[string]sheets.Row, error)
}

// Handlers contains all HTTP handler dependencies. The sheet fetcher may be
// nil when no spreadsheet is configured; reconciliation then reports 503.
type Handlers struct {
	syncer     SyncRunner
	stock      StockFetcher
	sheet      SheetFetcher
	warehouses []string
	logger     *slog.Logger
}

// New creates a new Handlers instance.
func New(syncer SyncRunner, stock StockFetcher, sheet SheetFetcher, targetWarehouses []string) *Handlers {
	return &Handlers{
		syncer:     syncer,
		stock:      stock,
		sheet:      sheet,
		warehouses: targetWarehouses,
		logger:     slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}
