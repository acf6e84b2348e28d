package vault

import (
	"math/big"

	"perpVault/internal/fixed"
)

// unrealizedPnL is the aggregate trader PnL, in quote, of the positions side backs.
func (e *Engine) unrealizedPnL(side Side, price *big.Int) *big.Int {
	pool := e.pools[side]
	if pool.PositionUnits.Sign() == 0 {
		return new(big.Int)
	}
	current := e.units.UnitsValue(pool.PositionUnits, price)
	entry := e.units.UnitsValue(pool.PositionUnits, pool.AverageOpenPrice)
	if side == SideQuote {
		return current.Sub(entry, current)
	}
	return current.Sub(current, entry)
}

// netAssetValue is the redeemable value of side: deposits less what its
// counterparties are owed, in the side's own asset.
func (e *Engine) netAssetValue(side Side, price *big.Int) *big.Int {
	pool := e.pools[side]
	owed := e.toPoolUnits(side, e.unrealizedPnL(side, price), price)
	return new(big.Int).Sub(pool.TotalDeposits, owed)
}

func (e *Engine) sharesForDeposit(side Side, amountIn, price *big.Int) *big.Int {
	pool := e.pools[side]
	nav := e.netAssetValue(side, price)
	if nav.Sign() <= 0 || pool.TotalShares.Sign() == 0 {
		return new(big.Int).Set(amountIn)
	}
	out := new(big.Int).Mul(amountIn, pool.TotalShares)
	return out.Quo(out, nav)
}

func (e *Engine) amountForShares(side Side, shares, price *big.Int) *big.Int {
	pool := e.pools[side]
	if pool.TotalShares.Sign() == 0 {
		return new(big.Int)
	}
	nav := e.netAssetValue(side, price)
	if nav.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(shares, nav)
	return out.Quo(out, pool.TotalShares)
}

// recomputeAverage refreshes the blended entry price from open interest and units.
func (e *Engine) recomputeAverage(pool *Pool) {
	if pool.PositionUnits.Sign() <= 0 {
		pool.AverageOpenPrice = new(big.Int)
		return
	}
	pool.AverageOpenPrice = e.units.PriceDelta(pool.OpenInterest, pool.PositionUnits)
}

func (e *Engine) addExposure(pool *Pool, pos *Position, price *big.Int) {
	first := pool.PositionUnits.Sign() == 0
	pool.Margin.Add(pool.Margin, pos.Margin)
	pool.OpenInterest.Add(pool.OpenInterest, pos.NotionalSize)
	pool.Premium.Add(pool.Premium, pos.Premium)
	pool.OpeningFees.Add(pool.OpeningFees, pos.OpeningFees)
	pool.ActiveDeposits.Add(pool.ActiveDeposits, pos.Reserved)
	pool.PositionUnits.Add(pool.PositionUnits, pos.PositionUnits)
	pool.OpenPositions++
	if first {
		pool.AverageOpenPrice = fixed.Clone(price)
		return
	}
	e.recomputeAverage(pool)
}

func (e *Engine) removeExposure(pool *Pool, pos *Position) {
	pool.Margin.Sub(pool.Margin, pos.Margin)
	pool.ActiveDeposits.Sub(pool.ActiveDeposits, pos.Reserved)
	pool.OpenInterest.Sub(pool.OpenInterest, pos.NotionalSize)
	pool.PositionUnits.Sub(pool.PositionUnits, pos.PositionUnits)
	if pool.OpenPositions > 0 {
		pool.OpenPositions--
	}
	if pool.OpenInterest.Sign() < 0 {
		pool.OpenInterest.SetInt64(0)
	}
	if pool.PositionUnits.Sign() < 0 {
		pool.PositionUnits.SetInt64(0)
	}
	e.recomputeAverage(pool)
}
