package vault

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"perpVault/internal/fixed"
)

// SettleReceipt describes a settled liquidation claim.
type SettleReceipt struct {
	ClaimID     uint64   `json:"claim_id"`
	ExpiryPrice *big.Int `json:"expiry_price"`
	PayoffQuote *big.Int `json:"payoff_quote"`
	Paid        *big.Int `json:"paid"`
	Side        Side     `json:"side"`
}

// AdvanceEpoch freezes the mark price for the expired epoch and starts the next one.
func (e *Engine) AdvanceEpoch(ctx context.Context, nextExpiry time.Time) (uint64, error) {
	var closed uint64
	var price *big.Int
	err := e.atomically(ctx, "advance_epoch", func() error {
		now := e.now().UTC()
		if !now.After(e.epoch.CurrentExpiry) {
			return fmt.Errorf("%w: epoch %d expires at %s", ErrEpochNotExpired,
				e.epoch.CurrentEpoch, e.epoch.CurrentExpiry.Format(time.RFC3339))
		}
		if !nextExpiry.After(now) {
			return fmt.Errorf("%w: next expiry must be in the future", ErrInvalidRequest)
		}
		mark, err := e.markPrice(ctx)
		if err != nil {
			return err
		}
		closed = e.epoch.CurrentEpoch
		price = mark
		e.epoch.ExpiryPrices[closed] = fixed.Clone(mark)
		e.epoch.CurrentEpoch++
		e.epoch.CurrentExpiry = nextExpiry.UTC()
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("epoch advanced",
		zap.Uint64("closed_epoch", closed),
		zap.Stringer("expiry_price", price),
		zap.Time("next_expiry", nextExpiry.UTC()),
	)
	return closed, nil
}

// Settle pays out a liquidation claim once its epoch has an expiry price. Puts
// are paid by the quote pool, calls by the base pool. A claim without payoff is
// rejected and stays unsettled.
func (e *Engine) Settle(ctx context.Context, claimID uint64, caller common.Address) (SettleReceipt, error) {
	var receipt SettleReceipt
	err := e.atomically(ctx, "settle", func() error {
		current, ok := e.claims[claimID]
		if !ok {
			return fmt.Errorf("%w: unknown claim %d", ErrInvalidRequest, claimID)
		}
		if current.IsSettled {
			return fmt.Errorf("%w: claim %d already settled", ErrInvalidRequest, claimID)
		}
		if current.Holder != caller {
			return fmt.Errorf("%w: %s does not hold claim %d", ErrNotAuthorized, caller.Hex(), claimID)
		}
		expiryPrice, ok := e.epoch.ExpiryPrices[current.Epoch]
		if !ok {
			return fmt.Errorf("%w: epoch %d has no expiry price", ErrTooEarly, current.Epoch)
		}

		diff := new(big.Int).Sub(expiryPrice, current.Strike)
		if current.IsPut {
			diff.Neg(diff)
		}
		if diff.Sign() <= 0 {
			return fmt.Errorf("%w: claim %d has no payoff", ErrInvalidRequest, claimID)
		}
		payoff := e.units.UnitsValue(current.NotionalAmount, diff)
		if payoff.Sign() <= 0 {
			return fmt.Errorf("%w: claim %d has no payoff", ErrInvalidRequest, claimID)
		}

		side := SideBase
		if current.IsPut {
			side = SideQuote
		}
		paid := e.toPoolUnits(side, payoff, expiryPrice)
		pool := e.pools[side]
		if paid.Cmp(pool.Available()) > 0 {
			return fmt.Errorf("%w: %s pool cannot pay claim %d", ErrInsufficientLiquidity, side, claimID)
		}
		pool.TotalDeposits.Sub(pool.TotalDeposits, paid)

		claim := *current
		claim.IsSettled = true
		e.putClaim(&claim)
		e.queuePush(AssetOf(side), caller, paid)

		receipt = SettleReceipt{
			ClaimID:     claimID,
			ExpiryPrice: fixed.Clone(expiryPrice),
			PayoffQuote: payoff,
			Paid:        paid,
			Side:        side,
		}
		return nil
	})
	if err != nil {
		return SettleReceipt{}, err
	}
	e.logger.Info("claim settled",
		zap.Uint64("claim_id", claimID),
		zap.Stringer("payoff", receipt.PayoffQuote),
		zap.Stringer("side", receipt.Side),
	)
	return receipt, nil
}
