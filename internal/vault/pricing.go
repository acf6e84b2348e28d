package vault

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"perpVault/internal/fixed"
)

var secondsPerYear = big.NewInt(int64(365 * 24 * time.Hour / time.Second))

// premium prices an at-the-money option on notional at the mark price, in quote.
func (e *Engine) premium(ctx context.Context, mark, notional *big.Int) (*big.Int, error) {
	vol, err := e.deps.Volatility.ImpliedVolatility(e.outbound(ctx), mark)
	if err != nil {
		return nil, fmt.Errorf("implied volatility: %w", err)
	}
	price, err := e.deps.Pricer.OptionPrice(false, e.epoch.CurrentExpiry, mark, mark, vol)
	if err != nil {
		return nil, fmt.Errorf("option price: %w", err)
	}
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("option price: invalid value %v", price)
	}
	out := new(big.Int).Mul(price, notional)
	return out.Quo(out, mark), nil
}

func (e *Engine) fee(isOpening bool, notional *big.Int) *big.Int {
	if notional.Sign() <= 0 {
		return new(big.Int)
	}
	if isOpening {
		return fixed.ApplyRate(notional, e.params.FeeOpenRate)
	}
	return fixed.ApplyRate(notional, e.params.FeeCloseRate)
}

// fundingRate is the annualized rate paid by a direction. Longs pay a rate that
// grows with the long/short open interest ratio; shorts pay its negation.
func (e *Engine) fundingRate(isShort bool) *big.Int {
	return e.fundingRateOf(e.pools, isShort)
}

func (e *Engine) fundingRateOf(pools map[Side]*Pool, isShort bool) *big.Int {
	longOI := pools[BackingSide(false)].OpenInterest
	shortOI := pools[BackingSide(true)].OpenInterest

	var rate *big.Int
	if shortOI.Sign() == 0 {
		rate = fixed.Clone(e.params.MinFundingRate)
	} else {
		hundred := fixed.HundredPercent()
		ratio := new(big.Int).Mul(longOI, hundred)
		ratio.Quo(ratio, shortOI)
		if ratio.Cmp(hundred) >= 0 {
			rate = fixed.Clone(e.params.MaxFundingRate)
		} else {
			span := new(big.Int).Sub(e.params.MaxFundingRate, e.params.MinFundingRate)
			span.Mul(span, ratio)
			span.Quo(span, hundred)
			rate = span.Add(span, e.params.MinFundingRate)
		}
	}
	if isShort {
		rate.Neg(rate)
	}
	return rate
}

// positionFunding accrues funding on the borrowed notional since the position opened.
func (e *Engine) positionFunding(pos *Position, now time.Time) *big.Int {
	elapsed := now.Sub(pos.OpenedAt) / time.Second
	if elapsed <= 0 {
		return new(big.Int)
	}
	borrowed := new(big.Int).Sub(pos.NotionalSize, pos.Margin)
	out := new(big.Int).Mul(borrowed, e.fundingRate(pos.IsShort))
	out.Mul(out, big.NewInt(int64(elapsed)))
	out.Quo(out, fixed.HundredPercent())
	return out.Quo(out, secondsPerYear)
}

func (e *Engine) positionValue(pos *Position, mark *big.Int) *big.Int {
	return e.units.UnitsValue(pos.PositionUnits, mark)
}

// positionPnL is positive when the trader is in profit.
func (e *Engine) positionPnL(pos *Position, mark *big.Int) *big.Int {
	value := e.positionValue(pos, mark)
	if pos.IsShort {
		return value.Sub(pos.NotionalSize, value)
	}
	return value.Sub(value, pos.NotionalSize)
}

func (e *Engine) closingFeeFor(pos *Position, pnl *big.Int) *big.Int {
	exit := new(big.Int).Add(pos.NotionalSize, pnl)
	return e.fee(false, exit)
}

func (e *Engine) netMargin(pos *Position, mark *big.Int, now time.Time) *big.Int {
	pnl := e.positionPnL(pos, mark)
	out := new(big.Int).Set(pos.Margin)
	out.Sub(out, pos.Premium)
	out.Sub(out, pos.OpeningFees)
	out.Sub(out, e.closingFeeFor(pos, pnl))
	return out.Sub(out, e.positionFunding(pos, now))
}

// shrunkNetMargin applies the liquidation safety threshold. It is not clamped.
func (e *Engine) shrunkNetMargin(pos *Position, mark *big.Int, now time.Time) *big.Int {
	nm := e.netMargin(pos, mark, now)
	return nm.Sub(nm, fixed.ApplyRate(nm, e.params.LiquidationThreshold))
}

// liquidationPrice is a linear estimate: the safety margin spread over the
// position units, moved against the position from its entry price.
func (e *Engine) liquidationPrice(pos *Position, mark *big.Int, now time.Time) *big.Int {
	safety := e.shrunkNetMargin(pos, mark, now)
	if safety.Sign() < 0 {
		safety.SetInt64(0)
	}
	delta := e.units.PriceDelta(safety, pos.PositionUnits)
	if pos.IsShort {
		return delta.Add(pos.AverageOpenPrice, delta)
	}
	out := delta.Sub(pos.AverageOpenPrice, delta)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

func (e *Engine) isCollateralized(pos *Position, mark *big.Int, now time.Time) bool {
	test := e.shrunkNetMargin(pos, mark, now)
	test.Add(test, e.positionPnL(pos, mark))
	return test.Sign() >= 0
}
