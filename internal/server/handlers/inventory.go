package handlers

import (
	"net/http"

	"github.com/gco-platform/ledgersync/internal/inventory"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// Inventory returns the consolidated stock snapshot across all partitions.
// Partition failures are annotated in the body alongside whatever stock
// could be fetched.
func (h *Handlers) Inventory(w http.ResponseWriter, r *http.Request) {
	result := h.stock.Fetch(r.Context())
	h.writeJSON(w, map[string]any{
		"count":  len(result.Items),
		"items":  result.Items,
		"errors": result.Errors,
	})
}

// Reconciliation joins the spreadsheet balances, the current month's synced
// ledger, and live stock into the per-SKU reconciliation report.
func (h *Handlers) Reconciliation(w http.ResponseWriter, r *http.Request) {
	if h.sheet == nil {
		h.writeError(w, http.StatusServiceUnavailable, "no spreadsheet feed configured", nil)
		return
	}

	sheet, err := h.sheet.Fetch(r.Context())
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "fetching spreadsheet: "+err.Error(), err)
		return
	}

	// Outbound stock this month: sales net of credit notes.
	syncRes, err := h.syncer.Sync(r.Context(), types.SyncRequest{
		Start: types.Today().FirstOfMonth(),
		End:   types.Today(),
		Types: []types.TypeCode{types.TypeSale, types.TypeCredit},
	})
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "syncing ledger: "+err.Error(), err)
		return
	}

	stock := h.stock.Fetch(r.Context())
	rows := inventory.Reconcile(sheet, syncRes.Records, stock.Items, h.warehouses)

	errs := append([]types.PartitionError{}, syncRes.Errors...)
	errs = append(errs, stock.Errors...)
	h.writeJSON(w, map[string]any{
		"count":  len(rows),
		"rows":   rows,
		"errors": errs,
	})
}
