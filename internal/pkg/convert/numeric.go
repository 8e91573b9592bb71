// Package convert provides type conversion utilities.
package convert

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ToDecimal converts broker-provided numeric values to decimal.
// Strings are parsed verbatim so "150.1234" keeps every digit.
// Returns false for nil, empty strings, NaN/Inf and parse failures.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case float32:
		return ToDecimal(float64(t))
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	default:
		return decimal.Zero, false
	}
}

// ToDecimalPtr is ToDecimal for optional fields.
func ToDecimalPtr(v any) *decimal.Decimal {
	d, ok := ToDecimal(v)
	if !ok {
		return nil
	}
	return &d
}

// DecimalString renders an optional decimal, "" when absent.
func DecimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// JSONDecimal reads a gjson value without going through float64.
// Broker payloads mix quoted ("150.12") and bare (150.12) numbers.
func JSONDecimal(r gjson.Result) (decimal.Decimal, bool) {
	switch r.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(r.Raw)
		if err != nil {
			return decimal.NewFromFloat(r.Num), true
		}
		return d, true
	case gjson.String:
		return ToDecimal(r.Str)
	default:
		return decimal.Zero, false
	}
}
