package pricing

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"perpVault/internal/fixed"
)

const secondsPerYear = 365 * 24 * 60 * 60

// BlackScholes prices European options with a zero risk-free rate. Prices and
// strikes use fixed.PriceDecimals; volatility uses fixed.RateDecimals.
type BlackScholes struct {
	Now func() time.Time
	// MinExpiry floors the time to expiry so near-expiry premiums stay non-zero.
	MinExpiry time.Duration
}

func NewBlackScholes(now func() time.Time) *BlackScholes {
	if now == nil {
		now = time.Now
	}
	return &BlackScholes{Now: now, MinExpiry: time.Hour}
}

func (b *BlackScholes) OptionPrice(isPut bool, expiry time.Time, strike, spot, volatility *big.Int) (*big.Int, error) {
	if strike == nil || spot == nil || volatility == nil {
		return nil, fmt.Errorf("missing option input")
	}
	if strike.Sign() <= 0 || spot.Sign() <= 0 {
		return nil, fmt.Errorf("strike and spot must be positive")
	}
	if volatility.Sign() < 0 {
		return nil, fmt.Errorf("volatility must not be negative")
	}

	k := toFloat(strike, fixed.PriceDecimals)
	s := toFloat(spot, fixed.PriceDecimals)
	sigma := toFloat(volatility, fixed.RateDecimals) / 100

	remaining := expiry.Sub(b.Now())
	if remaining < b.MinExpiry {
		remaining = b.MinExpiry
	}
	years := remaining.Seconds() / secondsPerYear

	var value float64
	if sigma == 0 || years <= 0 {
		value = intrinsic(isPut, s, k)
	} else {
		value = blackScholes(isPut, s, k, sigma, years)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("option price diverged")
	}
	if value < 0 {
		value = 0
	}
	return decimal.NewFromFloat(value).Shift(fixed.PriceDecimals).BigInt(), nil
}

func blackScholes(isPut bool, s, k, sigma, t float64) float64 {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + 0.5*sigma*sigma*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	if isPut {
		return k*normCDF(-d2) - s*normCDF(-d1)
	}
	return s*normCDF(d1) - k*normCDF(d2)
}

func intrinsic(isPut bool, s, k float64) float64 {
	if isPut {
		return math.Max(k-s, 0)
	}
	return math.Max(s-k, 0)
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func toFloat(v *big.Int, decimals uint8) float64 {
	f, _ := decimal.NewFromBigInt(v, -int32(decimals)).Float64()
	return f
}
