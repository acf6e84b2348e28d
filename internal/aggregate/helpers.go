package aggregate

import (
	"math/big"
	"time"
)

const ratioScale = 18

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// computeRate returns num/den, or nil when either side is zero.
func computeRate(num *big.Int, den *big.Int) *string {
	if num == nil || num.Sign() == 0 || den == nil || den.Sign() == 0 {
		return nil
	}
	rat := new(big.Rat).SetFrac(num, den)
	val := rat.FloatString(ratioScale)
	return &val
}

// annualize scales a rate earned over window to one year.
func annualize(rate *string, window time.Duration) *string {
	if rate == nil || window < time.Second {
		return nil
	}
	rat, ok := new(big.Rat).SetString(*rate)
	if !ok {
		return nil
	}
	yearSeconds := big.NewRat(int64(365*24*time.Hour/time.Second), 1)
	seconds := big.NewRat(int64(window/time.Second), 1)
	apr := new(big.Rat).Mul(rat, yearSeconds)
	apr.Quo(apr, seconds)
	val := apr.FloatString(ratioScale)
	return &val
}
