package fixed

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

const (
	// PriceDecimals is the scale of oracle prices (quote per base).
	PriceDecimals = 8
	// UnitDecimals is the scale of position units (contract count in base terms).
	UnitDecimals = 8
	// RateDecimals is the scale of percentages: 1e8 is 1%.
	RateDecimals = 8

	DefaultQuoteDecimals = 6
	DefaultBaseDecimals  = 18
)

var (
	priceScale = pow10(PriceDecimals)
	unitScale  = pow10(UnitDecimals)
	rateScale  = pow10(RateDecimals)

	// hundredPercent is 100% expressed in rate scale.
	hundredPercent = new(big.Int).Mul(big.NewInt(100), rateScale)
)

// Units converts between the asset, price, position and rate scales used by the vault.
type Units struct {
	QuoteDecimals uint8
	BaseDecimals  uint8

	quoteScale *big.Int
	baseScale  *big.Int
}

// NewUnits builds a converter for the given asset decimals.
func NewUnits(quoteDecimals, baseDecimals uint8) Units {
	return Units{
		QuoteDecimals: quoteDecimals,
		BaseDecimals:  baseDecimals,
		quoteScale:    pow10(quoteDecimals),
		baseScale:     pow10(baseDecimals),
	}
}

// QuoteToBase converts a quote amount into base units at price p.
func (u Units) QuoteToBase(amount, price *big.Int) *big.Int {
	if isZero(price) || amount == nil {
		return new(big.Int)
	}
	num := new(big.Int).Mul(amount, u.baseScale)
	num.Mul(num, priceScale)
	den := new(big.Int).Mul(price, u.quoteScale)
	return num.Quo(num, den)
}

// BaseToQuote converts a base amount into quote units at price p.
func (u Units) BaseToQuote(amount, price *big.Int) *big.Int {
	if amount == nil || price == nil {
		return new(big.Int)
	}
	num := new(big.Int).Mul(amount, price)
	num.Mul(num, u.quoteScale)
	den := new(big.Int).Mul(u.baseScale, priceScale)
	return num.Quo(num, den)
}

// UnitsForNotional returns the position units a quote notional buys at price p.
func (u Units) UnitsForNotional(notional, price *big.Int) *big.Int {
	if isZero(price) || notional == nil {
		return new(big.Int)
	}
	num := new(big.Int).Mul(notional, unitScale)
	num.Mul(num, priceScale)
	den := new(big.Int).Mul(price, u.quoteScale)
	return num.Quo(num, den)
}

// UnitsValue returns the quote value of position units at price p.
func (u Units) UnitsValue(units, price *big.Int) *big.Int {
	if units == nil || price == nil {
		return new(big.Int)
	}
	num := new(big.Int).Mul(units, price)
	num.Mul(num, u.quoteScale)
	den := new(big.Int).Mul(unitScale, priceScale)
	return num.Quo(num, den)
}

// PriceDelta converts a quote amount spread over units into a price move.
func (u Units) PriceDelta(amount, units *big.Int) *big.Int {
	if isZero(units) || amount == nil {
		return new(big.Int)
	}
	num := new(big.Int).Mul(amount, unitScale)
	num.Mul(num, priceScale)
	den := new(big.Int).Mul(units, u.quoteScale)
	return num.Quo(num, den)
}

// ApplyRate returns x * rate / 100%.
func ApplyRate(x, rate *big.Int) *big.Int {
	if x == nil || rate == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, rate)
	return out.Quo(out, hundredPercent)
}

// HundredPercent returns 100% in rate scale.
func HundredPercent() *big.Int {
	return new(big.Int).Set(hundredPercent)
}

// Percent converts a whole or fractional percentage ("0.05" for 0.05%) into rate scale.
func Percent(value string) (*big.Int, error) {
	return Parse(value, RateDecimals)
}

// Parse converts a decimal string into an integer with the given decimals.
func Parse(value string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", value, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %q exceeds %d decimals", value, decimals)
	}
	return shifted.BigInt(), nil
}

// MustParse is Parse for constants and tests.
func MustParse(value string, decimals uint8) *big.Int {
	out, err := Parse(value, decimals)
	if err != nil {
		panic(err)
	}
	return out
}

// Format renders an integer with the given decimals as a decimal string.
func Format(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// Max returns the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	return new(big.Int).Set(math.BigMax(a, b))
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	return new(big.Int).Set(math.BigMin(a, b))
}

// Clone copies v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func pow10(decimals uint8) *big.Int {
	return math.BigPow(10, int64(decimals))
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
