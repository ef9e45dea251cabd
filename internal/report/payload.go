package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"flowershop/backend/internal/money"
)

// Record is one raw sale or order as delivered by the sales-report store.
type Record map[string]any

// Payload is the raw sales-report response. A nil TopProducts means the store did
// not supply a ranking; an empty non-nil slice is a supplied, empty ranking.
type Payload struct {
	Summary      map[string]any `json:"summary"`
	RawData      []Record       `json:"rawData"`
	TrendBuckets []Record       `json:"trendBuckets"`
	TopProducts  []Record       `json:"topProducts"`
}

var (
	rawDataKeys     = []string{"rawData", "raw_data", "sales", "records"}
	trendKeys       = []string{"trendBuckets", "trend_buckets", "dailyBreakdown", "daily_breakdown", "trend"}
	topProductsKeys = []string{"topProducts", "top_products"}
)

// DecodePayload accepts the {success, data, message} envelope, a bare payload at the
// root, or a bare record array.
func DecodePayload(body []byte) (Payload, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var root any
	if err := decoder.Decode(&root); err != nil {
		return Payload{}, err
	}

	switch v := root.(type) {
	case []any:
		return Payload{RawData: toRecords(v)}, nil
	case map[string]any:
		if success, ok := v["success"].(bool); ok && !success {
			msg, _ := v["message"].(string)
			if msg == "" {
				msg = "store reported failure"
			}
			return Payload{}, errors.New(msg)
		}
		if data, ok := v["data"]; ok {
			switch inner := data.(type) {
			case map[string]any:
				return payloadFromMap(inner), nil
			case []any:
				payload := payloadFromMap(v)
				payload.RawData = toRecords(inner)
				return payload, nil
			}
		}
		return payloadFromMap(v), nil
	}
	return Payload{}, fmt.Errorf("unexpected report payload of type %T", root)
}

func payloadFromMap(m map[string]any) Payload {
	var payload Payload
	if summary, ok := m["summary"].(map[string]any); ok {
		payload.Summary = summary
	}
	if list, ok := firstList(m, rawDataKeys); ok {
		payload.RawData = toRecords(list)
	}
	if list, ok := firstList(m, trendKeys); ok {
		payload.TrendBuckets = toRecords(list)
	}
	if list, ok := firstList(m, topProductsKeys); ok {
		payload.TopProducts = toRecords(list)
	}
	return payload
}

func firstList(m map[string]any, keys []string) ([]any, bool) {
	for _, key := range keys {
		if list, ok := m[key].([]any); ok {
			return list, true
		}
	}
	return nil, false
}

func toRecords(list []any) []Record {
	records := make([]Record, 0, len(list))
	for _, entry := range list {
		if rec, ok := asRecord(entry); ok {
			records = append(records, rec)
		}
	}
	return records
}

func asRecord(v any) (Record, bool) {
	switch rec := v.(type) {
	case Record:
		return rec, true
	case map[string]any:
		return Record(rec), true
	}
	return nil, false
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// toDecimal coerces a JSON scalar. ok is false when the value cannot be read as a number.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case string:
		return money.TryParse(x)
	}
	return decimal.Zero, false
}

func decimalOr(v any, fallback decimal.Decimal) decimal.Decimal {
	if d, ok := toDecimal(v); ok {
		return d
	}
	return fallback
}

func toInt(v any) (int, bool) {
	d, ok := toDecimal(v)
	if !ok {
		return 0, false
	}
	return int(d.IntPart()), true
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case fmt.Stringer:
		return x.String()
	}
	return ""
}
