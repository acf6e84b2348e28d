package replay

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"perpVault/internal/custody"
	"perpVault/internal/fixed"
	"perpVault/internal/model"
	"perpVault/internal/oracle"
	"perpVault/internal/vault"
)

// Env is the engine plus the simulated world it runs against.
type Env struct {
	Engine  *vault.Engine
	Custody *custody.Memory
	Clock   *Clock

	// Price is the oracle the engine marks against.
	Price vault.PriceOracle

	// Prices is nil when mark prices come from an external feed.
	Prices *oracle.Static
	Vols   *oracle.Static
}

func (env Env) decimals(side vault.Side) uint8 {
	units := env.Engine.Units()
	if side == vault.SideBase {
		return units.BaseDecimals
	}
	return units.QuoteDecimals
}

func (env Env) quoteDecimals() uint8 {
	return env.Engine.Units().QuoteDecimals
}

type applier struct {
	env         Env
	epochLength time.Duration
	logger      *zap.Logger
}

// apply executes one operation and returns its receipt payload.
func (a *applier) apply(ctx context.Context, op model.Operation) (interface{}, error) {
	env := a.env
	switch strings.ToLower(op.Op) {
	case model.OpDeposit:
		side, err := parseSide(op.Side)
		if err != nil {
			return nil, err
		}
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", op.Amount, env.decimals(side))
		if err != nil {
			return nil, err
		}
		shares, err := env.Engine.Deposit(ctx, side, amount, account)
		if err != nil {
			return nil, err
		}
		return model.DepositResult{
			Side:   side.String(),
			Amount: fixed.Format(amount, env.decimals(side)),
			Shares: fixed.Format(shares, env.decimals(side)),
		}, nil

	case model.OpWithdrawRequest:
		side, err := parseSide(op.Side)
		if err != nil {
			return nil, err
		}
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		dec := env.decimals(side)
		shares, err := parseAmount("amount", op.Amount, dec)
		if err != nil {
			return nil, err
		}
		minOut, err := parseOptional("min_out", op.MinOut, dec)
		if err != nil {
			return nil, err
		}
		fee, err := parseOptional("priority_fee", op.PriorityFee, dec)
		if err != nil {
			return nil, err
		}
		id, err := env.Engine.OpenWithdrawalRequest(ctx, side, shares, minOut, fee, account)
		if err != nil {
			return nil, err
		}
		return model.WithdrawRequestResult{RequestID: id}, nil

	case model.OpWithdrawComplete:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		receipt, err := env.Engine.CompleteWithdrawalRequest(ctx, op.ID, account)
		if err != nil {
			return nil, err
		}
		dec := env.decimals(receipt.Side)
		return model.WithdrawResult{
			RequestID:   receipt.RequestID,
			Side:        receipt.Side.String(),
			SharesIn:    fixed.Format(receipt.SharesIn, dec),
			AmountOut:   fixed.Format(receipt.AmountOut, dec),
			PriorityFee: fixed.Format(receipt.PriorityFee, dec),
			Paid:        fixed.Format(receipt.Paid, dec),
		}, nil

	case model.OpWithdrawCancel:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		return nil, env.Engine.CancelWithdrawalRequest(ctx, op.ID, account)

	case model.OpOpen:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		notional, err := parseAmount("notional", op.Notional, env.quoteDecimals())
		if err != nil {
			return nil, err
		}
		collateral, err := parseAmount("collateral", op.Collateral, env.quoteDecimals())
		if err != nil {
			return nil, err
		}
		receipt, err := env.Engine.Open(ctx, account, op.IsShort, notional, collateral)
		if err != nil {
			return nil, err
		}
		return a.openResult(receipt), nil

	case model.OpAddCollateral, model.OpReduceCollateral:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", op.Amount, env.quoteDecimals())
		if err != nil {
			return nil, err
		}
		if strings.ToLower(op.Op) == model.OpAddCollateral {
			return nil, env.Engine.AddCollateral(ctx, op.ID, account, amount)
		}
		return nil, env.Engine.ReduceCollateral(ctx, op.ID, account, amount)

	case model.OpResize:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		notional, err := parseAmount("notional", op.Notional, env.quoteDecimals())
		if err != nil {
			return nil, err
		}
		collateral, err := parseAmount("collateral", op.Collateral, env.quoteDecimals())
		if err != nil {
			return nil, err
		}
		minOut, err := parseOptional("min_out", op.MinOut, env.quoteDecimals())
		if err != nil {
			return nil, err
		}
		receipt, err := env.Engine.Resize(ctx, op.ID, account, notional, collateral, minOut)
		if err != nil {
			return nil, err
		}
		return model.ResizeResult{
			Close: a.closeResult(receipt.Close),
			Open:  a.openResult(receipt.Open),
		}, nil

	case model.OpClose:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		minOut, err := parseOptional("min_out", op.MinOut, env.quoteDecimals())
		if err != nil {
			return nil, err
		}
		receipt, err := env.Engine.Close(ctx, op.ID, account, minOut)
		if err != nil {
			return nil, err
		}
		return a.closeResult(receipt), nil

	case model.OpLiquidate:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		if op.ID != 0 {
			receipt, err := env.Engine.Liquidate(ctx, op.ID, account)
			if err != nil {
				return nil, err
			}
			return []model.LiquidationResult{a.liquidationResult(receipt)}, nil
		}
		return a.sweep(ctx, account)

	case model.OpSettle:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		receipt, err := env.Engine.Settle(ctx, op.ID, account)
		if err != nil {
			return nil, err
		}
		return model.SettleResult{
			ClaimID:     receipt.ClaimID,
			Side:        receipt.Side.String(),
			ExpiryPrice: fixed.Format(receipt.ExpiryPrice, fixed.PriceDecimals),
			PayoffQuote: fixed.Format(receipt.PayoffQuote, env.quoteDecimals()),
			Paid:        fixed.Format(receipt.Paid, env.decimals(receipt.Side)),
		}, nil

	case model.OpAdvanceEpoch:
		next, err := ParseTimestamp(op.Expiry)
		if err != nil {
			return nil, fmt.Errorf("%w: expiry: %v", vault.ErrInvalidRequest, err)
		}
		if next.IsZero() {
			next = env.Clock.Now().Add(a.epochLength)
		}
		closed, err := env.Engine.AdvanceEpoch(ctx, next)
		if err != nil {
			return nil, err
		}
		return model.EpochResult{ClosedEpoch: closed, NextExpiry: next.UTC().Format(time.RFC3339)}, nil

	case model.OpSetPrice:
		if env.Prices == nil {
			return nil, fmt.Errorf("%w: prices come from an external feed", vault.ErrInvalidRequest)
		}
		price, err := parseAmount("price", op.Price, fixed.PriceDecimals)
		if err != nil {
			return nil, err
		}
		if price.Sign() <= 0 {
			return nil, fmt.Errorf("%w: price must be positive", vault.ErrInvalidRequest)
		}
		env.Prices.SetPrice(price)
		return nil, nil

	case model.OpSetVolatility:
		vol, err := parseAmount("volatility", op.Volatility, fixed.RateDecimals)
		if err != nil {
			return nil, err
		}
		if vol.Sign() < 0 {
			return nil, fmt.Errorf("%w: volatility must not be negative", vault.ErrInvalidRequest)
		}
		env.Vols.SetVolatility(vol)
		return nil, nil

	case model.OpSetTime:
		ts, err := ParseTimestamp(op.Time)
		if err != nil || ts.IsZero() {
			return nil, fmt.Errorf("%w: time %q", vault.ErrInvalidRequest, op.Time)
		}
		return nil, env.Clock.Set(ts)

	case model.OpCredit:
		account, err := ParseAddress(op.Account)
		if err != nil {
			return nil, err
		}
		side, err := parseSide(op.Asset)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", op.Amount, env.decimals(side))
		if err != nil {
			return nil, err
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive", vault.ErrInvalidRequest)
		}
		env.Custody.Credit(vault.AssetOf(side), account, amount)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown op %q", vault.ErrInvalidRequest, op.Op)
	}
}

// sweep liquidates every undercollateralized position. Positions that fail are
// logged and left for a later sweep.
func (a *applier) sweep(ctx context.Context, caller common.Address) ([]model.LiquidationResult, error) {
	ids, err := a.env.Engine.Liquidatable(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]model.LiquidationResult, 0, len(ids))
	for _, id := range ids {
		receipt, err := a.env.Engine.Liquidate(ctx, id, caller)
		if err != nil {
			a.logger.Warn("sweep liquidation failed", zap.Uint64("position_id", id), zap.Error(err))
			continue
		}
		results = append(results, a.liquidationResult(receipt))
	}
	return results, nil
}

func (a *applier) openResult(r vault.OpenReceipt) model.OpenResult {
	return model.OpenResult{
		PositionID:    r.PositionID,
		MarkPrice:     fixed.Format(r.MarkPrice, fixed.PriceDecimals),
		PositionUnits: fixed.Format(r.PositionUnits, fixed.UnitDecimals),
		Premium:       fixed.Format(r.Premium, a.env.quoteDecimals()),
		OpeningFee:    fixed.Format(r.OpeningFee, a.env.quoteDecimals()),
	}
}

func (a *applier) closeResult(r vault.CloseReceipt) model.CloseResult {
	q := a.env.quoteDecimals()
	return model.CloseResult{
		PositionID: r.PositionID,
		MarkPrice:  fixed.Format(r.MarkPrice, fixed.PriceDecimals),
		PnL:        fixed.Format(r.PnL, q),
		Funding:    fixed.Format(r.Funding, q),
		ClosingFee: fixed.Format(r.ClosingFee, q),
		Payout:     fixed.Format(r.Payout, q),
		BaseSpent:  fixed.Format(r.BaseSpent, a.env.decimals(vault.SideBase)),
		QuoteSpent: fixed.Format(r.QuoteSpent, q),
	}
}

func (a *applier) liquidationResult(r vault.LiquidationReceipt) model.LiquidationResult {
	q := a.env.quoteDecimals()
	return model.LiquidationResult{
		PositionID:     r.PositionID,
		ClaimID:        r.ClaimID,
		MarkPrice:      fixed.Format(r.MarkPrice, fixed.PriceDecimals),
		SeizedMargin:   fixed.Format(r.SeizedMargin, q),
		LiquidationFee: fixed.Format(r.LiquidationFee, q),
		Funding:        fixed.Format(r.Funding, q),
		QuoteSpent:     fixed.Format(r.QuoteSpent, q),
	}
}

// checkpointPrices reads the settable oracle values for a checkpoint.
func (env Env) checkpointPrices(ctx context.Context) (*big.Int, *big.Int) {
	var price, vol *big.Int
	if env.Prices != nil {
		if p, err := env.Prices.MarkPrice(ctx); err == nil {
			price = p
		}
	}
	if env.Vols != nil {
		if v, err := env.Vols.ImpliedVolatility(ctx, nil); err == nil {
			vol = v
		}
	}
	return price, vol
}
