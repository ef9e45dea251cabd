package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTotalsAppliesTaxToSubtotal(t *testing.T) {
	b := Totals([]Line{{UnitPrice: dec("150.82"), Quantity: 3}})
	if !b.Subtotal.Equal(dec("452.46")) {
		t.Fatalf("expected subtotal 452.46, got %s", b.Subtotal)
	}
	if !b.Tax.Equal(dec("36.20")) {
		t.Fatalf("expected tax 36.20, got %s", b.Tax)
	}
	if !b.GrandTotal.Equal(dec("488.66")) {
		t.Fatalf("expected grand total 488.66, got %s", b.GrandTotal)
	}
}

func TestSubtotalKeepsSubCentPrecision(t *testing.T) {
	b := Totals([]Line{{UnitPrice: dec("0.125"), Quantity: 1}})
	if !b.Subtotal.Equal(dec("0.125")) {
		t.Fatalf("expected exact subtotal 0.125, got %s", b.Subtotal)
	}
	if !b.Tax.Equal(dec("0.01")) {
		t.Fatalf("expected tax 0.01, got %s", b.Tax)
	}
	if !b.GrandTotal.Equal(dec("0.135")) {
		t.Fatalf("expected grand total 0.135, got %s", b.GrandTotal)
	}
}

func TestTotalsOfEmptyListIsZero(t *testing.T) {
	b := Totals(nil)
	if !b.Subtotal.IsZero() || !b.Tax.IsZero() || !b.GrandTotal.IsZero() {
		t.Fatalf("expected zero breakdown, got %+v", b)
	}
}

func TestGrandTotalNeverDecreasesAsQuantityGrows(t *testing.T) {
	prev := decimal.Zero
	for qty := 0; qty <= 50; qty++ {
		b := Totals([]Line{{UnitPrice: dec("4.25"), Quantity: qty}, {UnitPrice: dec("0.01"), Quantity: 1}})
		if b.GrandTotal.LessThan(prev) {
			t.Fatalf("grand total dropped at qty %d: %s < %s", qty, b.GrandTotal, prev)
		}
		if !b.Tax.Equal(Round2(b.Subtotal.Mul(TaxRate))) || !b.GrandTotal.Equal(b.Subtotal.Add(b.Tax)) {
			t.Fatalf("inconsistent breakdown at qty %d: %+v", qty, b)
		}
		prev = b.GrandTotal
	}
}

func TestChangeFloorsOnlyTheResult(t *testing.T) {
	cases := []struct {
		cash, total, want string
	}{
		{"500.00", "488.66", "11.34"},
		{"488.66", "488.66", "0"},
		{"488.65", "488.66", "0"},
		{"-20", "10", "0"},
		{"-20", "-30", "10"},
	}
	for _, tc := range cases {
		got := Change(dec(tc.cash), dec(tc.total))
		if !got.Equal(dec(tc.want)) {
			t.Fatalf("Change(%s, %s) = %s, want %s", tc.cash, tc.total, got, tc.want)
		}
	}
}

func TestRound2HalfAwayFromZero(t *testing.T) {
	if got := Round2(dec("0.125")); !got.Equal(dec("0.13")) {
		t.Fatalf("expected 0.13, got %s", got)
	}
	if got := Round2(dec("-0.125")); !got.Equal(dec("-0.13")) {
		t.Fatalf("expected -0.13, got %s", got)
	}
}

func TestParse(t *testing.T) {
	cases := map[string]string{
		"500":        "500",
		" 1,234.50 ": "1234.5",
		"₱488.66":    "488.66",
		"PHP 20":     "20",
		"-3.5":       "-3.5",
		"":           "0",
		"abc":        "0",
		"1.2.3":      "0",
		"12e3":       "123",
	}
	for raw, want := range cases {
		if got := Parse(raw); !got.Equal(dec(want)) {
			t.Fatalf("Parse(%q) = %s, want %s", raw, got, want)
		}
	}
	if _, ok := TryParse("n/a"); ok {
		t.Fatalf("expected n/a to be rejected")
	}
}

func TestFormat(t *testing.T) {
	if got := Format(dec("11.3")); got != "₱11.30" {
		t.Fatalf("unexpected format %q", got)
	}
}
