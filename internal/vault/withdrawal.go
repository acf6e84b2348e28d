package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"perpVault/internal/fixed"
)

// WithdrawalReceipt describes a fulfilled withdrawal request.
type WithdrawalReceipt struct {
	RequestID   uint64   `json:"request_id"`
	Side        Side     `json:"side"`
	SharesIn    *big.Int `json:"shares_in"`
	AmountOut   *big.Int `json:"amount_out"`
	PriorityFee *big.Int `json:"priority_fee"`
	Paid        *big.Int `json:"paid"`
}

// Deposit adds liquidity to side and mints LP shares priced at NAV.
func (e *Engine) Deposit(ctx context.Context, side Side, amount *big.Int, holder common.Address) (*big.Int, error) {
	var shares *big.Int
	err := e.atomically(ctx, "deposit", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
		}
		mark, err := e.markPrice(ctx)
		if err != nil {
			return err
		}
		shares = e.sharesForDeposit(side, amount, mark)
		if shares.Sign() <= 0 {
			return fmt.Errorf("%w: deposit too small to mint shares", ErrInvalidRequest)
		}
		pool := e.pools[side]
		pool.TotalDeposits.Add(pool.TotalDeposits, amount)
		pool.TotalShares.Add(pool.TotalShares, shares)

		e.queuePull(AssetOf(side), holder, amount)
		e.queueMint(ShareAssetOf(side), holder, shares)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("deposit",
		zap.Stringer("side", side),
		zap.Stringer("amount", amount),
		zap.Stringer("shares", shares),
	)
	return shares, nil
}

// OpenWithdrawalRequest escrows LP shares and queues them for redemption.
// priorityFee is paid, in the side's asset, to whoever fulfils the request.
func (e *Engine) OpenWithdrawalRequest(ctx context.Context, side Side, lpAmountIn, minAmountOut, priorityFee *big.Int, requester common.Address) (uint64, error) {
	var id uint64
	err := e.atomically(ctx, "open_withdrawal_request", func() error {
		if lpAmountIn == nil || lpAmountIn.Sign() <= 0 {
			return fmt.Errorf("%w: lp amount must be positive", ErrInvalidRequest)
		}
		if priorityFee != nil && priorityFee.Sign() < 0 {
			return fmt.Errorf("%w: priority fee must not be negative", ErrInvalidRequest)
		}
		if minAmountOut != nil && minAmountOut.Sign() < 0 {
			return fmt.Errorf("%w: min amount out must not be negative", ErrInvalidRequest)
		}
		e.nextWithdrawalID++
		id = e.nextWithdrawalID
		e.putWithdrawal(id, &PendingWithdrawal{
			ID:           id,
			Side:         side,
			LPAmountIn:   fixed.Clone(lpAmountIn),
			MinAmountOut: fixed.Clone(minAmountOut),
			PriorityFee:  fixed.Clone(priorityFee),
			Requester:    requester,
			CreatedAt:    e.now().UTC(),
		})
		e.queuePull(ShareAssetOf(side), requester, lpAmountIn)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CompleteWithdrawalRequest redeems escrowed shares at NAV. The priority fee is
// withheld from the payout and paid to fulfiller.
func (e *Engine) CompleteWithdrawalRequest(ctx context.Context, id uint64, fulfiller common.Address) (WithdrawalReceipt, error) {
	var receipt WithdrawalReceipt
	err := e.atomically(ctx, "complete_withdrawal_request", func() error {
		req, ok := e.withdrawals[id]
		if !ok {
			return fmt.Errorf("%w: unknown withdrawal request %d", ErrInvalidRequest, id)
		}
		mark, err := e.markPrice(ctx)
		if err != nil {
			return err
		}

		pool := e.pools[req.Side]
		amountOut := e.amountForShares(req.Side, req.LPAmountIn, mark)
		if amountOut.Cmp(pool.Available()) > 0 {
			return fmt.Errorf("%w: %s pool has %s available, request needs %s",
				ErrInsufficientLiquidity, req.Side, pool.Available(), amountOut)
		}
		if req.PriorityFee.Cmp(amountOut) > 0 {
			return fmt.Errorf("%w: priority fee %s exceeds amount out %s", ErrSlippageExceeded, req.PriorityFee, amountOut)
		}
		paid := new(big.Int).Sub(amountOut, req.PriorityFee)
		if paid.Cmp(req.MinAmountOut) < 0 {
			return fmt.Errorf("%w: amount out %s below minimum %s", ErrSlippageExceeded, paid, req.MinAmountOut)
		}

		pool.TotalDeposits.Sub(pool.TotalDeposits, amountOut)
		pool.TotalShares.Sub(pool.TotalShares, req.LPAmountIn)
		e.putWithdrawal(id, nil)

		asset := AssetOf(req.Side)
		e.queueBurn(ShareAssetOf(req.Side), req.Requester, req.LPAmountIn)
		e.queuePush(asset, req.Requester, paid)
		e.queuePush(asset, fulfiller, req.PriorityFee)

		receipt = WithdrawalReceipt{
			RequestID:   id,
			Side:        req.Side,
			SharesIn:    fixed.Clone(req.LPAmountIn),
			AmountOut:   amountOut,
			PriorityFee: fixed.Clone(req.PriorityFee),
			Paid:        paid,
		}
		return nil
	})
	if err != nil {
		return WithdrawalReceipt{}, err
	}
	e.logger.Debug("withdrawal completed",
		zap.Uint64("id", id),
		zap.Stringer("side", receipt.Side),
		zap.Stringer("amount_out", receipt.AmountOut),
		zap.String("fulfiller", fulfiller.Hex()),
	)
	return receipt, nil
}

// CancelWithdrawalRequest returns escrowed shares to the requester.
func (e *Engine) CancelWithdrawalRequest(ctx context.Context, id uint64, caller common.Address) error {
	return e.atomically(ctx, "cancel_withdrawal_request", func() error {
		req, ok := e.withdrawals[id]
		if !ok {
			return fmt.Errorf("%w: unknown withdrawal request %d", ErrInvalidRequest, id)
		}
		if req.Requester != caller {
			return fmt.Errorf("%w: %s did not open request %d", ErrNotAuthorized, caller.Hex(), id)
		}
		e.putWithdrawal(id, nil)
		e.queuePush(ShareAssetOf(req.Side), req.Requester, req.LPAmountIn)
		return nil
	})
}
