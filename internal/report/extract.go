package report

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Item is one product line pulled out of a raw record. A missing, zero or negative
// quantity counts as 1.
type Item struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Key identifies the product an item belongs to: its id, or its name when no id is present.
func (i Item) Key() string {
	if i.ProductID != "" {
		return i.ProductID
	}
	if name := strings.ToLower(strings.TrimSpace(i.Name)); name != "" {
		return "name:" + name
	}
	return ""
}

func (i Item) Revenue() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Extractor locates the item list of a record. ok is false when the record does not
// carry items in the shape the extractor understands.
type Extractor struct {
	Name    string
	Extract func(rec Record) (items []Item, ok bool)
}

// DefaultExtractors is the precedence order used for top-product aggregation.
func DefaultExtractors() []Extractor {
	return []Extractor{
		ListField("items"),
		ListField("products"),
		ListField("line_items"),
		ListField("order_items"),
		FlatFields(),
	}
}

// ExtractItems returns the items found by the first matching extractor and its name.
func ExtractItems(rec Record, extractors []Extractor) ([]Item, string) {
	for _, extractor := range extractors {
		if items, ok := extractor.Extract(rec); ok {
			return items, extractor.Name
		}
	}
	return nil, ""
}

// ListField matches a non-empty array under field. Arrays encoded as JSON strings are accepted.
func ListField(field string) Extractor {
	return Extractor{
		Name: field,
		Extract: func(rec Record) ([]Item, bool) {
			list, ok := listValue(rec[field])
			if !ok || len(list) == 0 {
				return nil, false
			}
			items := make([]Item, 0, len(list))
			for _, entry := range list {
				m, ok := asRecord(entry)
				if !ok {
					continue
				}
				items = append(items, itemFromMap(m))
			}
			return items, len(items) > 0
		},
	}
}

// FlatFields matches a record that describes a single product on itself.
func FlatFields() Extractor {
	return Extractor{
		Name: "flat",
		Extract: func(rec Record) ([]Item, bool) {
			_, hasID := lookup(rec, "product_id", "productId")
			_, hasName := lookup(rec, "product_name", "productName")
			if !hasID && !hasName {
				return nil, false
			}
			item := Item{
				Quantity:  1,
				UnitPrice: decimal.Zero,
			}
			if v, ok := lookup(rec, "product_id", "productId"); ok {
				item.ProductID = toString(v)
			}
			if v, ok := lookup(rec, "product_name", "productName"); ok {
				item.Name = toString(v)
			}
			if v, ok := lookup(rec, "quantity", "qty"); ok {
				if qty, ok := toInt(v); ok && qty > 0 {
					item.Quantity = qty
				}
			}
			if v, ok := lookup(rec, "unit_price", "price", "unitPrice"); ok {
				item.UnitPrice = decimalOr(v, decimal.Zero)
			}
			return []Item{item}, true
		},
	}
}

func itemFromMap(m Record) Item {
	item := Item{
		Quantity:  1,
		UnitPrice: decimal.Zero,
	}
	nested, _ := asRecord(m["product"])

	if v, ok := lookup(m, "product_id", "productId", "id"); ok {
		item.ProductID = toString(v)
	} else if v, ok := lookup(nested, "id", "product_id"); ok {
		item.ProductID = toString(v)
	}
	if v, ok := lookup(m, "name", "product_name", "productName"); ok {
		item.Name = toString(v)
	} else if v, ok := lookup(nested, "name", "product_name"); ok {
		item.Name = toString(v)
	}
	if v, ok := lookup(m, "quantity", "qty"); ok {
		if qty, ok := toInt(v); ok && qty > 0 {
			item.Quantity = qty
		}
	}
	if v, ok := lookup(m, "unit_price", "price", "unitPrice"); ok {
		item.UnitPrice = decimalOr(v, decimal.Zero)
	} else if v, ok := lookup(nested, "unit_price", "price"); ok {
		item.UnitPrice = decimalOr(v, decimal.Zero)
	}
	return item
}

func listValue(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []Record:
		out := make([]any, len(list))
		for i, rec := range list {
			out[i] = rec
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(list))
		for i, rec := range list {
			out[i] = rec
		}
		return out, true
	case string:
		trimmed := strings.TrimSpace(list)
		if !strings.HasPrefix(trimmed, "[") {
			return nil, false
		}
		var decoded []any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil, false
		}
		return decoded, true
	}
	return nil, false
}
