package fixed

import (
	"math/big"
	"testing"
)

func TestConversionsAtPrice(t *testing.T) {
	u := NewUnits(6, 18)
	price := MustParse("2000", PriceDecimals)

	base := u.QuoteToBase(MustParse("1000", 6), price)
	if want := MustParse("0.5", 18); base.Cmp(want) != 0 {
		t.Fatalf("quote to base: %s != %s", base, want)
	}

	quote := u.BaseToQuote(MustParse("0.5", 18), price)
	if want := MustParse("1000", 6); quote.Cmp(want) != 0 {
		t.Fatalf("base to quote: %s != %s", quote, want)
	}

	units := u.UnitsForNotional(MustParse("1000", 6), price)
	if want := MustParse("0.5", UnitDecimals); units.Cmp(want) != 0 {
		t.Fatalf("units: %s != %s", units, want)
	}

	value := u.UnitsValue(units, MustParse("3000", PriceDecimals))
	if want := MustParse("1500", 6); value.Cmp(want) != 0 {
		t.Fatalf("value: %s != %s", value, want)
	}

	delta := u.PriceDelta(MustParse("250", 6), units)
	if want := MustParse("500", PriceDecimals); delta.Cmp(want) != 0 {
		t.Fatalf("price delta: %s != %s", delta, want)
	}
}

func TestSignedConversionTruncatesTowardZero(t *testing.T) {
	u := NewUnits(6, 18)
	price := MustParse("3", PriceDecimals)

	pos := u.QuoteToBase(big.NewInt(1), price)
	neg := u.QuoteToBase(big.NewInt(-1), price)
	if new(big.Int).Neg(pos).Cmp(neg) != 0 {
		t.Fatalf("asymmetric conversion: %s vs %s", pos, neg)
	}
}

func TestZeroPriceIsSafe(t *testing.T) {
	u := NewUnits(6, 18)
	if got := u.QuoteToBase(big.NewInt(10), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
	if got := u.PriceDelta(big.NewInt(10), nil); got.Sign() != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestApplyRate(t *testing.T) {
	rate, err := Percent("0.05")
	if err != nil {
		t.Fatalf("percent: %v", err)
	}
	fee := ApplyRate(MustParse("1000", 6), rate)
	if want := MustParse("0.5", 6); fee.Cmp(want) != 0 {
		t.Fatalf("fee: %s != %s", fee, want)
	}
}

func TestParseFormat(t *testing.T) {
	v, err := Parse("12.345", 6)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.String() != "12345000" {
		t.Fatalf("parse mismatch: %s", v)
	}
	if got := Format(v, 6); got != "12.345" {
		t.Fatalf("format mismatch: %s", got)
	}
	if got := Format(big.NewInt(-1500000), 6); got != "-1.5" {
		t.Fatalf("format negative: %s", got)
	}
	if _, err := Parse("0.0000001", 6); err == nil {
		t.Fatalf("expected precision error")
	}
	if _, err := Parse("abc", 6); err == nil {
		t.Fatalf("expected parse error")
	}
}
