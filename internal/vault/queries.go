package vault

import (
	"context"
	"fmt"
	"math/big"
	"sort"
)

// PositionMetrics is a mark-to-market view of one position.
type PositionMetrics struct {
	PositionID       uint64   `json:"position_id"`
	MarkPrice        *big.Int `json:"mark_price"`
	Value            *big.Int `json:"value"`
	PnL              *big.Int `json:"pnl"`
	Funding          *big.Int `json:"funding"`
	NetMargin        *big.Int `json:"net_margin"`
	LiquidationPrice *big.Int `json:"liquidation_price"`
	Collateralized   bool     `json:"collateralized"`
}

// Pool returns a copy of a pool's committed aggregates.
func (e *Engine) Pool(side Side) Pool {
	return *e.view.Load().pools[side].clone()
}

// Position returns a copy of a position.
func (e *Engine) Position(id uint64) (Position, error) {
	if err := e.enter(context.Background(), "position"); err != nil {
		return Position{}, err
	}
	defer e.leave()
	pos, err := e.lookupPosition(id)
	if err != nil {
		return Position{}, err
	}
	return *pos.clone(), nil
}

// Claim returns a copy of a liquidation claim.
func (e *Engine) Claim(id uint64) (LiquidationClaim, error) {
	if err := e.enter(context.Background(), "claim"); err != nil {
		return LiquidationClaim{}, err
	}
	defer e.leave()
	claim, ok := e.claims[id]
	if !ok {
		return LiquidationClaim{}, fmt.Errorf("%w: unknown claim %d", ErrInvalidRequest, id)
	}
	return *claim.clone(), nil
}

// Withdrawal returns a pending withdrawal request.
func (e *Engine) Withdrawal(id uint64) (PendingWithdrawal, error) {
	if err := e.enter(context.Background(), "withdrawal"); err != nil {
		return PendingWithdrawal{}, err
	}
	defer e.leave()
	req, ok := e.withdrawals[id]
	if !ok {
		return PendingWithdrawal{}, fmt.Errorf("%w: unknown withdrawal request %d", ErrInvalidRequest, id)
	}
	return *req.clone(), nil
}

// Epoch returns the committed epoch number, expiry and expiry prices.
func (e *Engine) Epoch() EpochState {
	return e.view.Load().epoch.clone()
}

// NetAssetValue returns a pool's value net of unrealized counterparty PnL.
func (e *Engine) NetAssetValue(ctx context.Context, side Side) (*big.Int, error) {
	if err := e.enter(ctx, "net_asset_value"); err != nil {
		return nil, err
	}
	defer e.leave()
	mark, err := e.markPrice(ctx)
	if err != nil {
		return nil, err
	}
	return e.netAssetValue(side, mark), nil
}

// FundingRate returns the annualized funding rate for a direction from the
// committed open interest.
func (e *Engine) FundingRate(isShort bool) *big.Int {
	return e.fundingRateOf(e.view.Load().pools, isShort)
}

// Premium quotes the option premium for a notional at the current mark price.
func (e *Engine) Premium(ctx context.Context, notional *big.Int) (*big.Int, error) {
	if err := e.enter(ctx, "premium"); err != nil {
		return nil, err
	}
	defer e.leave()
	mark, err := e.markPrice(ctx)
	if err != nil {
		return nil, err
	}
	return e.premium(ctx, mark, notional)
}

// Fee returns the opening or closing fee for a notional.
func (e *Engine) Fee(isOpening bool, notional *big.Int) *big.Int {
	return e.fee(isOpening, notional)
}

// Metrics marks a position to market.
func (e *Engine) Metrics(ctx context.Context, id uint64) (PositionMetrics, error) {
	if err := e.enter(ctx, "metrics"); err != nil {
		return PositionMetrics{}, err
	}
	defer e.leave()
	pos, err := e.lookupPosition(id)
	if err != nil {
		return PositionMetrics{}, err
	}
	mark, err := e.markPrice(ctx)
	if err != nil {
		return PositionMetrics{}, err
	}
	now := e.now()
	return PositionMetrics{
		PositionID:       id,
		MarkPrice:        mark,
		Value:            e.positionValue(pos, mark),
		PnL:              e.positionPnL(pos, mark),
		Funding:          e.positionFunding(pos, now),
		NetMargin:        e.netMargin(pos, mark, now),
		LiquidationPrice: e.liquidationPrice(pos, mark, now),
		Collateralized:   e.isCollateralized(pos, mark, now),
	}, nil
}

// IsCollateralized reports whether a position passes the liquidation test.
func (e *Engine) IsCollateralized(ctx context.Context, id uint64) (bool, error) {
	m, err := e.Metrics(ctx, id)
	if err != nil {
		return false, err
	}
	return m.Collateralized, nil
}

// LiquidationPrice returns the linear liquidation price estimate of a position.
func (e *Engine) LiquidationPrice(ctx context.Context, id uint64) (*big.Int, error) {
	m, err := e.Metrics(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.LiquidationPrice, nil
}

// Liquidatable lists open positions that fail the collateral test, by id.
func (e *Engine) Liquidatable(ctx context.Context) ([]uint64, error) {
	if err := e.enter(ctx, "liquidatable"); err != nil {
		return nil, err
	}
	defer e.leave()
	mark, err := e.markPrice(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	ids := make([]uint64, 0)
	for id, pos := range e.positions {
		if pos.IsOpen() && !e.isCollateralized(pos, mark, now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
