package aggregate

import (
	"math/big"
	"time"

	"perpVault/internal/fixed"
	"perpVault/internal/model"
	"perpVault/internal/vault"
)

// PoolRows flattens both pools of a snapshot. mark may be nil, in which case
// the base pool's fee yield is left empty.
func PoolRows(name string, st vault.State, units fixed.Units, mark *big.Int, at time.Time) []model.PoolRow {
	rows := make([]model.PoolRow, 0, 2)
	for _, side := range []vault.Side{vault.SideQuote, vault.SideBase} {
		pool := st.QuotePool
		dec := units.QuoteDecimals
		if side == vault.SideBase {
			pool = st.BasePool
			dec = units.BaseDecimals
		}
		if pool == nil {
			continue
		}

		// fees are quote-denominated; value the pool in quote to compare
		var value *big.Int
		if side == vault.SideQuote {
			value = pool.TotalDeposits
		} else if mark != nil {
			value = units.BaseToQuote(pool.TotalDeposits, mark)
		}
		fees := new(big.Int).Add(pool.OpeningFees, pool.ClosingFees)
		var feeYield *string
		if value != nil {
			feeYield = annualize(computeRate(fees, value), at.Sub(earliestOpen(st.Positions, side, at)))
		}

		rows = append(rows, model.PoolRow{
			Name:             name,
			Side:             side.String(),
			Epoch:            st.Epoch.CurrentEpoch,
			TotalDeposits:    formatTokenAmount(pool.TotalDeposits, dec),
			ActiveDeposits:   formatTokenAmount(pool.ActiveDeposits, dec),
			TotalShares:      formatTokenAmount(pool.TotalShares, dec),
			Margin:           formatTokenAmount(pool.Margin, units.QuoteDecimals),
			Premium:          formatTokenAmount(pool.Premium, units.QuoteDecimals),
			OpeningFees:      formatTokenAmount(pool.OpeningFees, units.QuoteDecimals),
			ClosingFees:      formatTokenAmount(pool.ClosingFees, units.QuoteDecimals),
			OpenInterest:     formatTokenAmount(pool.OpenInterest, units.QuoteDecimals),
			PositionUnits:    formatTokenAmount(pool.PositionUnits, fixed.UnitDecimals),
			AverageOpenPrice: formatTokenAmount(pool.AverageOpenPrice, fixed.PriceDecimals),
			OpenPositions:    pool.OpenPositions,
			Utilization:      computeRate(pool.ActiveDeposits, pool.TotalDeposits),
			FeeYield:         feeYield,
			ObservedAt:       at.UTC(),
		})
	}
	return rows
}

// earliestOpen returns when the first position backed by side was opened.
func earliestOpen(positions []*vault.Position, side vault.Side, fallback time.Time) time.Time {
	earliest := fallback
	for _, pos := range positions {
		if vault.BackingSide(pos.IsShort) != side {
			continue
		}
		if pos.OpenedAt.Before(earliest) {
			earliest = pos.OpenedAt
		}
	}
	return earliest
}

func PositionRows(name string, positions []*vault.Position, units fixed.Units) []model.PositionRow {
	rows := make([]model.PositionRow, 0, len(positions))
	q := units.QuoteDecimals
	for _, pos := range positions {
		var closedAt *time.Time
		if !pos.ClosedAt.IsZero() {
			ts := pos.ClosedAt.UTC()
			closedAt = &ts
		}
		rows = append(rows, model.PositionRow{
			Name:             name,
			PositionID:       pos.ID,
			Holder:           pos.Holder.Hex(),
			Status:           pos.Status.String(),
			IsShort:          pos.IsShort,
			PositionUnits:    formatTokenAmount(pos.PositionUnits, fixed.UnitDecimals),
			NotionalSize:     formatTokenAmount(pos.NotionalSize, q),
			AverageOpenPrice: formatTokenAmount(pos.AverageOpenPrice, fixed.PriceDecimals),
			Margin:           formatTokenAmount(pos.Margin, q),
			Premium:          formatTokenAmount(pos.Premium, q),
			OpeningFees:      formatTokenAmount(pos.OpeningFees, q),
			ClosingFees:      formatTokenAmount(pos.ClosingFees, q),
			AccruedFunding:   formatTokenAmount(pos.AccruedFunding, q),
			RealizedPnL:      formatTokenAmount(pos.RealizedPnL, q),
			OpenedAt:         pos.OpenedAt.UTC(),
			ClosedAt:         closedAt,
		})
	}
	return rows
}

func ClaimRows(name string, claims []*vault.LiquidationClaim) []model.ClaimRow {
	rows := make([]model.ClaimRow, 0, len(claims))
	for _, c := range claims {
		rows = append(rows, model.ClaimRow{
			Name:           name,
			ClaimID:        c.ID,
			PositionID:     c.PositionID,
			Holder:         c.Holder.Hex(),
			IsPut:          c.IsPut,
			NotionalAmount: formatTokenAmount(c.NotionalAmount, fixed.UnitDecimals),
			Strike:         formatTokenAmount(c.Strike, fixed.PriceDecimals),
			Epoch:          c.Epoch,
			IsSettled:      c.IsSettled,
		})
	}
	return rows
}
