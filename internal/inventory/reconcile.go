package inventory

import (
	"math"
	"sort"
	"strings"

	"github.com/gco-platform/ledgersync/internal/sheets"
	"github.com/gco-platform/ledgersync/pkg/types"
)

// differenceTolerance separates rounding noise from a real stock mismatch.
const differenceTolerance = 0.01

// ReconcileRow is one SKU's ledger-vs-stock comparison:
// initial + entries - outbound should equal the live stock.
type ReconcileRow struct {
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	InitialBalance float64 `json:"initialBalance"`
	Entries        float64 `json:"entries"`
	Outbound       float64 `json:"outbound"`
	FinalBalance   float64 `json:"finalBalance"`
	CurrentStock   float64 `json:"currentStock"`
	Difference     float64 `json:"difference"`
	Alert          bool    `json:"alert"`
}

// Reconcile joins the spreadsheet balances, the synced ledger records, and
// the live stock snapshot per SKU. Live stock counts only warehouses whose
// name contains one of targetWarehouses (case-insensitive); an empty target
// list counts every warehouse. The SKU scope is the union of all three
// sources; rows with a difference sort first.
func Reconcile(sheet map[string]sheets.Row, records []types.Record, stock []Item, targetWarehouses []string) []ReconcileRow {
	outbound := netOutbound(records)

	names := map[string]string{}
	currentStock := map[string]float64{}
	for _, item := range stock {
		if item.Code == "" {
			continue
		}
		if item.Name != "" {
			names[item.Code] = item.Name
		}
		if warehouseMatches(item.Warehouse, targetWarehouses) {
			currentStock[item.Code] += item.Quantity
		}
	}

	skus := map[string]bool{}
	for sku := range sheet {
		skus[sku] = true
	}
	for sku := range outbound {
		skus[sku] = true
	}
	for sku := range currentStock {
		skus[sku] = true
	}

	rows := make([]ReconcileRow, 0, len(skus))
	for sku := range skus {
		row := ReconcileRow{
			SKU:          sku,
			Name:         names[sku],
			Outbound:     outbound[sku],
			CurrentStock: currentStock[sku],
		}
		if entry, ok := sheet[sku]; ok {
			row.InitialBalance = entry.InitialBalance
			row.Entries = entry.Entries
		}
		row.FinalBalance = row.InitialBalance + row.Entries - row.Outbound
		row.Difference = row.FinalBalance - row.CurrentStock
		row.Alert = math.Abs(row.Difference) > differenceTolerance
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Alert != rows[j].Alert {
			return rows[i].Alert
		}
		return rows[i].SKU < rows[j].SKU
	})
	return rows
}

// netOutbound aggregates the ledger per SKU: outbound classes add stock
// leaving, inbound classes give it back, adjustments stay out of the
// reconciliation.
func netOutbound(records []types.Record) map[string]float64 {
	out := map[string]float64{}
	for _, rec := range records {
		code, _ := rec.Attributes[types.AttrProductCode].(string)
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		switch rec.Type.Direction() {
		case types.DirectionOut:
			out[code] += math.Abs(rec.Quantity)
		case types.DirectionIn:
			out[code] -= math.Abs(rec.Quantity)
		}
	}
	return out
}

func warehouseMatches(name string, targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, target := range targets {
		if strings.Contains(lower, strings.ToLower(target)) {
			return true
		}
	}
	return false
}
