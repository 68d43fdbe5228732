// Package types defines the public domain types for the ledgersync engine.
package types

import (
	"math"
	"time"
)

// TypeCode identifies one of the closed set of upstream document classes.
type TypeCode string

// TypeCode values enumerate the supported document classes.
const (
	TypeSale       TypeCode = "SALE"       // sales invoice
	TypePurchase   TypeCode = "PURCHASE"   // purchase invoice
	TypeCredit     TypeCode = "CREDIT"     // sales credit note (return)
	TypeDebit      TypeCode = "DEBIT"      // debit note
	TypeAdjustment TypeCode = "ADJUSTMENT" // accounting journal entry
)

// AllTypeCodes returns the full closed type set in stable order.
func AllTypeCodes() []TypeCode {
	return []TypeCode{TypeSale, TypePurchase, TypeCredit, TypeDebit, TypeAdjustment}
}

// ValidTypeCode reports whether tc belongs to the closed set.
func ValidTypeCode(tc TypeCode) bool {
	for _, known := range AllTypeCodes() {
		if tc == known {
			return true
		}
	}
	return false
}

// Direction classifies how a document class moves stock.
type Direction string

const (
	DirectionIn     Direction = "IN"
	DirectionOut    Direction = "OUT"
	DirectionAdjust Direction = "ADJUST"
)

// Direction returns the stock direction for the document class.
func (t TypeCode) Direction() Direction {
	switch t {
	case TypePurchase, TypeCredit:
		return DirectionIn
	case TypeSale, TypeDebit:
		return DirectionOut
	default:
		return DirectionAdjust
	}
}

// Well-known attribute keys carried on records. The attributes map is an open
// payload; these are the keys the extractor populates.
const (
	AttrProductCode       = "productCode"
	AttrDescription       = "description"
	AttrWarehouse         = "warehouse"
	AttrCounterparty      = "counterparty"
	AttrCounterpartyTaxID = "counterpartyTaxId"
	AttrUnitPrice         = "unitPrice"
	AttrLineTotal         = "lineTotal"
	AttrDocumentNumber    = "documentNumber"
	AttrObservations      = "observations"
)

// Record is one dated business event line extracted from an upstream document.
// Records are immutable once fetched; a re-fetch of a date range replaces all
// prior records inside that range.
type Record struct {
	Date       Date           `json:"date"`
	Partition  string         `json:"partition"`
	Type       TypeCode       `json:"type"`
	NaturalKey string         `json:"naturalKey"`
	Quantity   float64        `json:"quantity"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// PartitionRef identifies one independently synchronized upstream tenant.
type PartitionRef struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// RetryPolicy configures backoff behavior for transient upstream failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// maxBackoff caps any single wait regardless of attempt count.
const maxBackoff = time.Hour

// DefaultRetryPolicy returns the retry configuration used when none is set.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
	}
}

// Backoff returns the wait duration before the given attempt (1-based).
// Uses exponential backoff: base * multiplier^(attempt-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// SyncRequest describes one consolidated query across partitions,
// addressed by partition ID. An empty Partitions list means all configured
// partitions.
type SyncRequest struct {
	Partitions   []string
	Start        Date
	End          Date
	Types        []TypeCode // empty = all types
	ForceRefresh bool
}

// Window returns the requested closed date interval.
func (r SyncRequest) Window() DateRange {
	return DateRange{Start: r.Start, End: r.End}
}

// PartitionError is a human-readable failure annotation for one partition.
// A partition error never fails the whole call; other partitions' results
// are returned alongside it.
type PartitionError struct {
	Partition string `json:"partition"`
	Message   string `json:"message"`
}

// IntegrityWarning signals that a fetch returned fewer documents than the
// upstream-reported total. The data is returned anyway; callers can decide
// to force-refresh the range.
type IntegrityWarning struct {
	Partition string    `json:"partition"`
	Type      TypeCode  `json:"type"`
	Range     DateRange `json:"range"`
	Expected  int       `json:"expected"`
	Received  int       `json:"received"`
}

// SyncResult is the merged outcome of one sync invocation.
type SyncResult struct {
	RunID    string             `json:"runId"`
	Records  []Record           `json:"records"`
	Errors   []PartitionError   `json:"errors,omitempty"`
	Warnings []IntegrityWarning `json:"warnings,omitempty"`
}
