package vault

import (
	"fmt"
	"math/big"

	"perpVault/internal/fixed"
)

// Params holds the engine's economic parameters. Rates use fixed.RateDecimals
// (1e8 == 1%); funding rates are annualized.
type Params struct {
	QuoteDecimals uint8
	BaseDecimals  uint8

	FeeOpenRate  *big.Int
	FeeCloseRate *big.Int

	MinFundingRate *big.Int
	MaxFundingRate *big.Int

	LiquidationThreshold *big.Int
	LiquidationFeeRate   *big.Int
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		QuoteDecimals:        fixed.DefaultQuoteDecimals,
		BaseDecimals:         fixed.DefaultBaseDecimals,
		FeeOpenRate:          fixed.MustParse("0.05", fixed.RateDecimals),
		FeeCloseRate:         fixed.MustParse("0.05", fixed.RateDecimals),
		MinFundingRate:       fixed.MustParse("3.65", fixed.RateDecimals),
		MaxFundingRate:       fixed.MustParse("36.5", fixed.RateDecimals),
		LiquidationThreshold: fixed.MustParse("10", fixed.RateDecimals),
		LiquidationFeeRate:   fixed.MustParse("1", fixed.RateDecimals),
	}
}

// Validate checks parameter bounds.
func (p Params) Validate() error {
	if p.QuoteDecimals > 36 || p.BaseDecimals > 36 {
		return fmt.Errorf("asset decimals out of range")
	}
	hundred := fixed.HundredPercent()
	rates := []struct {
		name string
		v    *big.Int
	}{
		{"fee open rate", p.FeeOpenRate},
		{"fee close rate", p.FeeCloseRate},
		{"min funding rate", p.MinFundingRate},
		{"max funding rate", p.MaxFundingRate},
		{"liquidation threshold", p.LiquidationThreshold},
		{"liquidation fee rate", p.LiquidationFeeRate},
	}
	for _, r := range rates {
		if r.v == nil {
			return fmt.Errorf("%s is required", r.name)
		}
		if r.v.Sign() < 0 {
			return fmt.Errorf("%s must not be negative", r.name)
		}
	}
	if p.MinFundingRate.Cmp(p.MaxFundingRate) > 0 {
		return fmt.Errorf("min funding rate exceeds max funding rate")
	}
	if p.LiquidationThreshold.Cmp(hundred) >= 0 {
		return fmt.Errorf("liquidation threshold must be below 100%%")
	}
	if p.LiquidationFeeRate.Cmp(hundred) > 0 {
		return fmt.Errorf("liquidation fee rate must not exceed 100%%")
	}
	return nil
}
