package upstream

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gco-platform/ledgersync/pkg/types"
)

// document is the subset of an upstream document the extractor reads. The
// counterparty lives under a different key per document class (and sometimes
// arrives as a one-element array), so those fields stay raw until resolution.
type document struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Number       json.Number     `json:"number"`
	Date         string          `json:"date"`
	Observations string          `json:"observations"`
	Customer     json.RawMessage `json:"customer"`
	Provider     json.RawMessage `json:"provider"`
	Company      json.RawMessage `json:"company"`
	Contact      json.RawMessage `json:"contact"`
	CostCenter   json.RawMessage `json:"cost_center"`
	Items        []lineItem      `json:"items"`
}

type lineItem struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	Product     *struct {
		Code string `json:"code"`
	} `json:"product"`
	Warehouse *struct {
		Name string `json:"name"`
	} `json:"warehouse"`
}

// zeroQuantityEpsilon filters lines that move no stock.
const zeroQuantityEpsilon = 1e-4

// extractRecords flattens one upstream document into records, one per
// product line. Lines without a product code are financial/service lines
// and are skipped, as are zero-quantity lines. Documents dated outside the
// window are discarded entirely: the fetch window intentionally over-reaches
// one day past the requested end, and upstream may also return stragglers.
func extractRecords(raw json.RawMessage, partition types.PartitionRef, tc types.TypeCode, window types.DateRange) []types.Record {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	date, err := types.ParseDate(doc.Date)
	if err != nil || !window.Contains(date) {
		return nil
	}

	docNumber := doc.Name
	if docNumber == "" {
		docNumber = doc.Number.String()
	}
	docRef := doc.ID
	if docRef == "" {
		docRef = docNumber
	}

	name, taxID := resolveCounterparty(doc)

	var records []types.Record
	for i, item := range doc.Items {
		code := item.Code
		if code == "" && item.Product != nil {
			code = item.Product.Code
		}
		if code == "" {
			continue
		}
		if math.Abs(item.Quantity) < zeroQuantityEpsilon {
			continue
		}

		warehouse := ""
		if item.Warehouse != nil {
			warehouse = item.Warehouse.Name
		}

		records = append(records, types.Record{
			Date:       date,
			Partition:  partition.ID,
			Type:       tc,
			NaturalKey: fmt.Sprintf("%s#%d", docRef, i),
			Quantity:   item.Quantity,
			Attributes: map[string]any{
				types.AttrProductCode:       code,
				types.AttrDescription:       item.Description,
				types.AttrWarehouse:         warehouse,
				types.AttrCounterparty:      name,
				types.AttrCounterpartyTaxID: taxID,
				types.AttrUnitPrice:         item.Price,
				types.AttrLineTotal:         item.Quantity * item.Price,
				types.AttrDocumentNumber:    docNumber,
				types.AttrObservations:      doc.Observations,
			},
		})
	}
	return records
}

// resolveCounterparty finds the third party across the key variants the
// upstream uses, falling back to the tax ID when no name is present.
func resolveCounterparty(doc document) (name, taxID string) {
	party := firstParty(doc.Customer, doc.Provider, doc.Company, doc.Contact, doc.CostCenter)
	if party == nil {
		return "unknown", "N/A"
	}

	name = firstString(party, "name", "full_name", "business_name")
	taxID = firstString(party, "identification", "identification_number", "nit", "id")
	if taxID == "" {
		taxID = "N/A"
	}
	if name == "" {
		if taxID != "N/A" {
			name = taxID
		} else {
			name = "unknown"
		}
	}
	return name, taxID
}

// firstParty decodes the first non-empty candidate into a generic map,
// unwrapping one-element arrays.
func firstParty(candidates ...json.RawMessage) map[string]any {
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		trimmed := strings.TrimSpace(string(raw))
		if strings.HasPrefix(trimmed, "[") {
			var list []map[string]any
			if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
				continue
			}
			return list[0]
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		return obj
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
