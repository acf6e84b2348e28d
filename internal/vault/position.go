package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"perpVault/internal/fixed"
)

// OpenReceipt describes a newly opened position.
type OpenReceipt struct {
	PositionID    uint64   `json:"position_id"`
	MarkPrice     *big.Int `json:"mark_price"`
	PositionUnits *big.Int `json:"position_units"`
	Premium       *big.Int `json:"premium"`
	OpeningFee    *big.Int `json:"opening_fee"`
}

// CloseReceipt describes a voluntary close.
type CloseReceipt struct {
	PositionID uint64   `json:"position_id"`
	MarkPrice  *big.Int `json:"mark_price"`
	PnL        *big.Int `json:"pnl"`
	Funding    *big.Int `json:"funding"`
	ClosingFee *big.Int `json:"closing_fee"`
	Payout     *big.Int `json:"payout"`
	BaseSpent  *big.Int `json:"base_spent"`
	QuoteSpent *big.Int `json:"quote_spent"`
}

// ResizeReceipt pairs the close of the old position with the new one.
type ResizeReceipt struct {
	Close CloseReceipt `json:"close"`
	Open  OpenReceipt  `json:"open"`
}

// LiquidationReceipt describes a forced close.
type LiquidationReceipt struct {
	PositionID     uint64   `json:"position_id"`
	ClaimID        uint64   `json:"claim_id"`
	MarkPrice      *big.Int `json:"mark_price"`
	SeizedMargin   *big.Int `json:"seized_margin"`
	LiquidationFee *big.Int `json:"liquidation_fee"`
	Funding        *big.Int `json:"funding"`
	QuoteSpent     *big.Int `json:"quote_spent"`
}

// Open creates a position of notional size backed by the opposite pool, pulling
// collateral (quote) from holder. Margin stays in quote custody on both sides;
// a long's backing pool trades only its own share of the outcome into base.
func (e *Engine) Open(ctx context.Context, holder common.Address, isShort bool, notional, collateral *big.Int) (OpenReceipt, error) {
	var receipt OpenReceipt
	err := e.atomically(ctx, "open", func() error {
		var err error
		receipt, err = e.open(ctx, holder, isShort, notional, collateral)
		return err
	})
	if err != nil {
		return OpenReceipt{}, err
	}
	e.logger.Debug("position opened",
		zap.Uint64("id", receipt.PositionID),
		zap.Bool("short", isShort),
		zap.Stringer("notional", notional),
		zap.Stringer("collateral", collateral),
		zap.Stringer("premium", receipt.Premium),
	)
	return receipt, nil
}

func (e *Engine) open(ctx context.Context, holder common.Address, isShort bool, notional, collateral *big.Int) (OpenReceipt, error) {
	if notional == nil || notional.Sign() <= 0 {
		return OpenReceipt{}, fmt.Errorf("%w: notional must be positive", ErrInvalidRequest)
	}
	if collateral == nil || collateral.Sign() <= 0 {
		return OpenReceipt{}, fmt.Errorf("%w: collateral must be positive", ErrInvalidRequest)
	}

	mark, err := e.markPrice(ctx)
	if err != nil {
		return OpenReceipt{}, err
	}

	side := BackingSide(isShort)
	pool := e.pools[side]
	reserve := e.toPoolUnits(side, notional, mark)
	if pool.Available().Cmp(reserve) < 0 {
		return OpenReceipt{}, fmt.Errorf("%w: %s pool has %s available, needs %s",
			ErrInsufficientLiquidity, side, pool.Available(), reserve)
	}

	premium, err := e.premium(ctx, mark, notional)
	if err != nil {
		return OpenReceipt{}, err
	}
	openingFee := e.fee(true, notional)
	closingFee := e.fee(false, notional)

	minimum := new(big.Int).Lsh(premium, 1)
	minimum.Add(minimum, openingFee)
	minimum.Add(minimum, closingFee)
	if collateral.Cmp(minimum) < 0 {
		return OpenReceipt{}, fmt.Errorf("%w: collateral %s below %s", ErrBelowMinimumCollateral, collateral, minimum)
	}

	units := e.units.UnitsForNotional(notional, mark)
	if units.Sign() == 0 {
		return OpenReceipt{}, fmt.Errorf("%w: notional too small", ErrInvalidRequest)
	}

	e.nextPositionID++
	pos := &Position{
		ID:               e.nextPositionID,
		Holder:           holder,
		Status:           StatusOpen,
		IsShort:          isShort,
		PositionUnits:    units,
		NotionalSize:     fixed.Clone(notional),
		AverageOpenPrice: fixed.Clone(mark),
		Margin:           fixed.Clone(collateral),
		Premium:          premium,
		OpeningFees:      openingFee,
		ClosingFees:      new(big.Int),
		AccruedFunding:   new(big.Int),
		RealizedPnL:      new(big.Int),
		Reserved:         reserve,
		OpenedAt:         e.now().UTC(),
	}
	e.addExposure(pool, pos, mark)
	e.putPosition(pos)
	e.queuePull(AssetQuote, holder, collateral)

	return OpenReceipt{
		PositionID:    pos.ID,
		MarkPrice:     mark,
		PositionUnits: fixed.Clone(units),
		Premium:       fixed.Clone(premium),
		OpeningFee:    fixed.Clone(openingFee),
	}, nil
}

// AddCollateral increases the margin of an open position. Anyone may fund it.
func (e *Engine) AddCollateral(ctx context.Context, id uint64, from common.Address, amount *big.Int) error {
	return e.atomically(ctx, "add_collateral", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
		}
		current, err := e.openPosition(id)
		if err != nil {
			return err
		}
		pos := current.clone()
		pos.Margin.Add(pos.Margin, amount)
		pool := e.pools[BackingSide(pos.IsShort)]
		pool.Margin.Add(pool.Margin, amount)
		e.putPosition(pos)
		e.queuePull(AssetQuote, from, amount)
		return nil
	})
}

// ReduceCollateral returns margin to the holder if the position stays collateralized.
func (e *Engine) ReduceCollateral(ctx context.Context, id uint64, caller common.Address, amount *big.Int) error {
	return e.atomically(ctx, "reduce_collateral", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
		}
		current, err := e.openPosition(id)
		if err != nil {
			return err
		}
		if current.Holder != caller {
			return fmt.Errorf("%w: %s does not hold position %d", ErrNotAuthorized, caller.Hex(), id)
		}
		pool := e.pools[BackingSide(current.IsShort)]
		if amount.Cmp(pool.Margin) > 0 || amount.Cmp(current.Margin) > 0 {
			return fmt.Errorf("%w: amount %s exceeds margin", ErrInvalidRequest, amount)
		}

		mark, err := e.markPrice(ctx)
		if err != nil {
			return err
		}
		pos := current.clone()
		pos.Margin.Sub(pos.Margin, amount)
		if !e.isCollateralized(pos, mark, e.now()) {
			return fmt.Errorf("%w: reducing by %s", ErrNotCollateralized, amount)
		}
		pool.Margin.Sub(pool.Margin, amount)
		e.putPosition(pos)
		e.queuePush(AssetQuote, caller, amount)
		return nil
	})
}

// Close settles an open, collateralized position and pays the holder.
func (e *Engine) Close(ctx context.Context, id uint64, caller common.Address, minPayout *big.Int) (CloseReceipt, error) {
	var receipt CloseReceipt
	err := e.atomically(ctx, "close", func() error {
		var err error
		receipt, err = e.close(ctx, id, caller, minPayout)
		return err
	})
	if err != nil {
		return CloseReceipt{}, err
	}
	e.logger.Debug("position closed",
		zap.Uint64("id", id),
		zap.Stringer("pnl", receipt.PnL),
		zap.Stringer("funding", receipt.Funding),
		zap.Stringer("payout", receipt.Payout),
	)
	return receipt, nil
}

func (e *Engine) close(ctx context.Context, id uint64, caller common.Address, minPayout *big.Int) (CloseReceipt, error) {
	current, err := e.openPosition(id)
	if err != nil {
		return CloseReceipt{}, err
	}
	if current.Holder != caller {
		return CloseReceipt{}, fmt.Errorf("%w: %s does not hold position %d", ErrNotAuthorized, caller.Hex(), id)
	}

	mark, err := e.markPrice(ctx)
	if err != nil {
		return CloseReceipt{}, err
	}
	now := e.now().UTC()
	if !e.isCollateralized(current, mark, now) {
		return CloseReceipt{}, fmt.Errorf("%w: position %d", ErrNotCollateralized, id)
	}

	pnl := e.positionPnL(current, mark)
	funding := e.positionFunding(current, now)
	closingFee := e.closingFeeFor(current, pnl)

	side := BackingSide(current.IsShort)
	pool := e.pools[side]
	e.removeExposure(pool, current)

	// margin left once the vault keeps premium and opening fees
	retained := new(big.Int).Sub(current.Margin, current.Premium)
	retained.Sub(retained, current.OpeningFees)
	if retained.Sign() < 0 {
		retained.SetInt64(0)
	}
	// the backing pool's share in quote: -pnl + funding + closing fee
	delta := new(big.Int).Neg(pnl)
	delta.Add(delta, funding)
	delta.Add(delta, closingFee)

	payout := new(big.Int).Sub(retained, delta)
	if payout.Sign() < 0 {
		e.logger.Warn("negative payout clamped", zap.Uint64("id", id), zap.Stringer("payout", payout))
		payout.SetInt64(0)
		delta.Set(retained)
	}
	if minPayout != nil && payout.Cmp(minPayout) < 0 {
		return CloseReceipt{}, fmt.Errorf("%w: payout %s below minimum %s", ErrSlippageExceeded, payout, minPayout)
	}
	pool.ClosingFees.Add(pool.ClosingFees, closingFee)

	baseSpent, quoteSpent := new(big.Int), new(big.Int)
	switch {
	case side == SideQuote:
		pool.TotalDeposits.Add(pool.TotalDeposits, delta)
	case delta.Sign() > 0:
		credit := e.units.QuoteToBase(delta, mark)
		pool.TotalDeposits.Add(pool.TotalDeposits, credit)
		e.queueSwap(AssetQuote, AssetBase, credit, quoteSpent, nil)
	case delta.Sign() < 0:
		owed := new(big.Int).Neg(delta)
		debit := e.units.QuoteToBase(owed, mark)
		pool.TotalDeposits.Sub(pool.TotalDeposits, debit)
		e.queueSwap(AssetBase, AssetQuote, owed, baseSpent, func(in *big.Int) {
			// the pool bears slippage past the mark price
			if extra := new(big.Int).Sub(in, debit); extra.Sign() > 0 {
				pool.TotalDeposits.Sub(pool.TotalDeposits, extra)
			}
		})
	}

	pos := current.clone()
	pos.Status = StatusClosed
	pos.RealizedPnL = fixed.Clone(pnl)
	pos.AccruedFunding = fixed.Clone(funding)
	pos.ClosingFees = fixed.Clone(closingFee)
	pos.ClosedAt = now
	e.putPosition(pos)
	e.queuePush(AssetQuote, caller, payout)

	return CloseReceipt{
		PositionID: id,
		MarkPrice:  mark,
		PnL:        pnl,
		Funding:    funding,
		ClosingFee: closingFee,
		Payout:     payout,
		BaseSpent:  baseSpent,
		QuoteSpent: quoteSpent,
	}, nil
}

// Resize closes a position and opens a new one on the same side in one step.
func (e *Engine) Resize(ctx context.Context, id uint64, caller common.Address, newSize, newCollateral, minPayout *big.Int) (ResizeReceipt, error) {
	var receipt ResizeReceipt
	err := e.atomically(ctx, "resize", func() error {
		current, err := e.lookupPosition(id)
		if err != nil {
			return err
		}
		closed, err := e.close(ctx, id, caller, minPayout)
		if err != nil {
			return err
		}
		opened, err := e.open(ctx, caller, current.IsShort, newSize, newCollateral)
		if err != nil {
			return err
		}
		receipt = ResizeReceipt{Close: closed, Open: opened}
		return nil
	})
	if err != nil {
		return ResizeReceipt{}, err
	}
	e.logger.Debug("position resized",
		zap.Uint64("old_id", id),
		zap.Uint64("new_id", receipt.Open.PositionID),
		zap.Stringer("notional", newSize),
	)
	return receipt, nil
}

// Liquidate seizes an undercollateralized position, pays the caller a fee and
// mints an option-style claim for the holder.
func (e *Engine) Liquidate(ctx context.Context, id uint64, caller common.Address) (LiquidationReceipt, error) {
	var receipt LiquidationReceipt
	err := e.atomically(ctx, "liquidate", func() error {
		var err error
		receipt, err = e.liquidate(ctx, id, caller)
		return err
	})
	if err != nil {
		return LiquidationReceipt{}, err
	}
	e.logger.Info("position liquidated",
		zap.Uint64("id", id),
		zap.Uint64("claim_id", receipt.ClaimID),
		zap.Stringer("mark", receipt.MarkPrice),
		zap.Stringer("seized_margin", receipt.SeizedMargin),
		zap.Stringer("fee", receipt.LiquidationFee),
	)
	return receipt, nil
}

func (e *Engine) liquidate(ctx context.Context, id uint64, caller common.Address) (LiquidationReceipt, error) {
	current, err := e.openPosition(id)
	if err != nil {
		return LiquidationReceipt{}, err
	}
	mark, err := e.markPrice(ctx)
	if err != nil {
		return LiquidationReceipt{}, err
	}
	now := e.now().UTC()
	if e.isCollateralized(current, mark, now) {
		return LiquidationReceipt{}, fmt.Errorf("%w: position %d is still collateralized, liquidation requires it not to be",
			ErrNotCollateralized, id)
	}

	funding := e.positionFunding(current, now)
	fee := fixed.ApplyRate(current.Margin, e.params.LiquidationFeeRate)
	credit := new(big.Int).Sub(current.Margin, fee)

	side := BackingSide(current.IsShort)
	pool := e.pools[side]
	e.removeExposure(pool, current)
	quoteSpent := new(big.Int)
	if side == SideBase {
		// the seized quote margin is bought into base for the pool
		seized := e.units.QuoteToBase(credit, mark)
		pool.TotalDeposits.Add(pool.TotalDeposits, seized)
		e.queueSwap(AssetQuote, AssetBase, seized, quoteSpent, nil)
	} else {
		pool.TotalDeposits.Add(pool.TotalDeposits, credit)
	}

	pos := current.clone()
	pos.Status = StatusLiquidated
	pos.RealizedPnL = new(big.Int).Neg(current.Margin)
	pos.AccruedFunding = funding
	pos.ClosedAt = now
	e.putPosition(pos)

	e.nextClaimID++
	claim := &LiquidationClaim{
		ID:             e.nextClaimID,
		PositionID:     id,
		Holder:         current.Holder,
		IsPut:          current.IsShort,
		NotionalAmount: fixed.Clone(current.PositionUnits),
		Strike:         fixed.Clone(current.AverageOpenPrice),
		Epoch:          e.epoch.CurrentEpoch,
	}
	e.putClaim(claim)
	e.queuePush(AssetQuote, caller, fee)

	return LiquidationReceipt{
		PositionID:     id,
		ClaimID:        claim.ID,
		MarkPrice:      mark,
		SeizedMargin:   fixed.Clone(current.Margin),
		LiquidationFee: fee,
		Funding:        funding,
		QuoteSpent:     quoteSpent,
	}, nil
}
