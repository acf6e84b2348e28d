package custody

import (
	"context"
	"fmt"
	"math/big"

	"perpVault/internal/fixed"
	"perpVault/internal/vault"
)

// Swapper exchanges the vault's holdings at the oracle price plus slippage.
type Swapper struct {
	custody  *Memory
	price    vault.PriceOracle
	units    fixed.Units
	slippage *big.Int
}

// NewSwapper builds a Swapper; slippage is in rate scale (1e8 == 1%).
func NewSwapper(custody *Memory, price vault.PriceOracle, units fixed.Units, slippage *big.Int) *Swapper {
	return &Swapper{
		custody:  custody,
		price:    price,
		units:    units,
		slippage: fixed.Clone(slippage),
	}
}

func (s *Swapper) SwapExactOut(ctx context.Context, from, to vault.Asset, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return new(big.Int), nil
	}
	price, err := s.price.MarkPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("swap price: %w", err)
	}

	var in *big.Int
	switch {
	case from == vault.AssetBase && to == vault.AssetQuote:
		in = s.units.QuoteToBase(amountOut, price)
	case from == vault.AssetQuote && to == vault.AssetBase:
		in = s.units.BaseToQuote(amountOut, price)
	default:
		return nil, fmt.Errorf("unsupported swap %s -> %s", from, to)
	}
	in.Add(in, fixed.ApplyRate(in, s.slippage))

	s.custody.mu.Lock()
	defer s.custody.mu.Unlock()
	held := s.custody.holdingLocked(from)
	if held.Cmp(in) < 0 {
		return nil, fmt.Errorf("%w: vault holds %s %s, swap needs %s", ErrInsufficientFunds, held, from, in)
	}
	held.Sub(held, in)
	s.custody.holdingLocked(to).Add(s.custody.holdingLocked(to), amountOut)
	return in, nil
}
