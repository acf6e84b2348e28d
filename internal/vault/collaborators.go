package vault

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceOracle returns the current mark price in quote per base (8 decimals).
type PriceOracle interface {
	MarkPrice(ctx context.Context) (*big.Int, error)
}

// VolatilityOracle returns the implied volatility for a strike in rate scale (1e8 == 1%).
type VolatilityOracle interface {
	ImpliedVolatility(ctx context.Context, strike *big.Int) (*big.Int, error)
}

// OptionPricer prices one unit of base as an option, in quote per base (8 decimals).
type OptionPricer interface {
	OptionPrice(isPut bool, expiry time.Time, strike, spot, volatility *big.Int) (*big.Int, error)
}

// SwapRouter converts assets held by the vault. It returns the input amount spent.
type SwapRouter interface {
	SwapExactOut(ctx context.Context, from, to Asset, amountOut *big.Int) (*big.Int, error)
}

// Custody moves balances between holders and the vault and issues receipts.
// Pull and Push move assets into and out of the vault; Mint and Burn create and
// destroy receipts held by the vault or a holder.
type Custody interface {
	Pull(ctx context.Context, asset Asset, from common.Address, amount *big.Int) error
	Push(ctx context.Context, asset Asset, to common.Address, amount *big.Int) error
	Mint(ctx context.Context, asset Asset, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, asset Asset, amount *big.Int) error
}

// Deps groups the external collaborators of an Engine.
type Deps struct {
	Price      PriceOracle
	Volatility VolatilityOracle
	Pricer     OptionPricer
	Swap       SwapRouter
	Custody    Custody
}
