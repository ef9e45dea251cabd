package money

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// TaxRate is applied to the pre-tax subtotal of every order.
var TaxRate = decimal.RequireFromString("0.08")

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Breakdown struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Subtotal is the exact sum of unit_price*quantity. Only tax is rounded.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		sum = sum.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return sum
}

func Tax(subtotal decimal.Decimal) decimal.Decimal {
	return Round2(subtotal.Mul(TaxRate))
}

func Totals(lines []Line) Breakdown {
	subtotal := Subtotal(lines)
	tax := Tax(subtotal)
	return Breakdown{
		Subtotal:   subtotal,
		Tax:        tax,
		GrandTotal: subtotal.Add(tax),
	}
}

// Change floors the result at zero. cash is not clamped before subtracting.
func Change(cash decimal.Decimal, grandTotal decimal.Decimal) decimal.Decimal {
	diff := cash.Sub(grandTotal)
	if diff.IsNegative() {
		return decimal.Zero
	}
	return Round2(diff)
}

// Parse reads a user-entered or store-supplied amount such as "₱1,234.50" or " 500 ".
// Unparseable input yields zero.
func Parse(raw string) decimal.Decimal {
	d, ok := TryParse(raw)
	if !ok {
		return decimal.Zero
	}
	return d
}

func TryParse(raw string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, false
	}

	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case unicode.IsDigit(r), r == '.', r == '-':
			b.WriteRune(r)
		case r == ',' || r == '+' || unicode.IsSpace(r):
		case unicode.IsLetter(r) || unicode.IsSymbol(r):
			// currency prefixes such as PHP, ₱ or $
		default:
			return decimal.Zero, false
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Format renders an amount with two decimals and the peso sign.
func Format(d decimal.Decimal) string {
	return "₱" + d.StringFixed(2)
}
