package upstream

import "github.com/gco-platform/ledgersync/pkg/types"

// endpointSpec maps a document class to its upstream list endpoint. Journal
// entries are filtered by creation date upstream; everything else by
// accounting date.
type endpointSpec struct {
	path       string
	startParam string
	endParam   string
}

var endpoints = map[types.TypeCode]endpointSpec{
	types.TypeSale:       {path: "/invoices", startParam: "date_start", endParam: "date_end"},
	types.TypeCredit:     {path: "/credit-notes", startParam: "date_start", endParam: "date_end"},
	types.TypeDebit:      {path: "/debit-notes", startParam: "date_start", endParam: "date_end"},
	types.TypePurchase:   {path: "/purchases", startParam: "date_start", endParam: "date_end"},
	types.TypeAdjustment: {path: "/journals", startParam: "created_start", endParam: "created_end"},
}

// productsPath is the paginated product catalog endpoint (no date window).
const productsPath = "/products"
