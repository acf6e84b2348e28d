package vault

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"perpVault/internal/fixed"
)

// Side identifies a pool by the asset it holds.
type Side uint8

const (
	// SideQuote is the stable quote pool; it backs shorts.
	SideQuote Side = iota
	// SideBase is the volatile base pool; it backs longs.
	SideBase
)

func (s Side) String() string {
	if s == SideBase {
		return "base"
	}
	return "quote"
}

// Opposite returns the other pool.
func (s Side) Opposite() Side {
	if s == SideBase {
		return SideQuote
	}
	return SideBase
}

// BackingSide returns the pool that collateralizes a position direction.
func BackingSide(isShort bool) Side {
	if isShort {
		return SideQuote
	}
	return SideBase
}

// ParseSide accepts "quote" or "base".
func ParseSide(value string) (Side, bool) {
	switch value {
	case "quote":
		return SideQuote, true
	case "base":
		return SideBase, true
	default:
		return SideQuote, false
	}
}

// Pool is the aggregate state of one side of the vault. Amounts are in the side's
// native asset except Margin, Premium, OpeningFees, ClosingFees and OpenInterest,
// which are quote-denominated.
type Pool struct {
	TotalDeposits    *big.Int `json:"total_deposits"`
	ActiveDeposits   *big.Int `json:"active_deposits"`
	TotalShares      *big.Int `json:"total_shares"`
	Margin           *big.Int `json:"margin"`
	Premium          *big.Int `json:"premium"`
	OpeningFees      *big.Int `json:"opening_fees"`
	ClosingFees      *big.Int `json:"closing_fees"`
	OpenInterest     *big.Int `json:"open_interest"`
	PositionUnits    *big.Int `json:"position_units"`
	AverageOpenPrice *big.Int `json:"average_open_price"`
	OpenPositions    uint64   `json:"open_positions"`
}

func newPool() *Pool {
	return &Pool{
		TotalDeposits:    new(big.Int),
		ActiveDeposits:   new(big.Int),
		TotalShares:      new(big.Int),
		Margin:           new(big.Int),
		Premium:          new(big.Int),
		OpeningFees:      new(big.Int),
		ClosingFees:      new(big.Int),
		OpenInterest:     new(big.Int),
		PositionUnits:    new(big.Int),
		AverageOpenPrice: new(big.Int),
	}
}

func (p *Pool) clone() *Pool {
	return &Pool{
		TotalDeposits:    fixed.Clone(p.TotalDeposits),
		ActiveDeposits:   fixed.Clone(p.ActiveDeposits),
		TotalShares:      fixed.Clone(p.TotalShares),
		Margin:           fixed.Clone(p.Margin),
		Premium:          fixed.Clone(p.Premium),
		OpeningFees:      fixed.Clone(p.OpeningFees),
		ClosingFees:      fixed.Clone(p.ClosingFees),
		OpenInterest:     fixed.Clone(p.OpenInterest),
		PositionUnits:    fixed.Clone(p.PositionUnits),
		AverageOpenPrice: fixed.Clone(p.AverageOpenPrice),
		OpenPositions:    p.OpenPositions,
	}
}

// Available returns deposits not reserved for open positions.
func (p *Pool) Available() *big.Int {
	return new(big.Int).Sub(p.TotalDeposits, p.ActiveDeposits)
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus uint8

const (
	StatusOpen PositionStatus = iota
	StatusClosed
	StatusLiquidated
)

func (s PositionStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Position is a leveraged long or short. Quote-denominated except PositionUnits,
// AverageOpenPrice and Reserved (backing asset).
type Position struct {
	ID               uint64         `json:"id"`
	Holder           common.Address `json:"holder"`
	Status           PositionStatus `json:"status"`
	IsShort          bool           `json:"is_short"`
	PositionUnits    *big.Int       `json:"position_units"`
	NotionalSize     *big.Int       `json:"notional_size"`
	AverageOpenPrice *big.Int       `json:"average_open_price"`
	Margin           *big.Int       `json:"margin"`
	Premium          *big.Int       `json:"premium"`
	OpeningFees      *big.Int       `json:"opening_fees"`
	ClosingFees      *big.Int       `json:"closing_fees"`
	AccruedFunding   *big.Int       `json:"accrued_funding"`
	RealizedPnL      *big.Int       `json:"realized_pnl"`
	Reserved         *big.Int       `json:"reserved"`
	OpenedAt         time.Time      `json:"opened_at"`
	ClosedAt         time.Time      `json:"closed_at,omitempty"`
}

// IsOpen reports whether the position can still be mutated.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

func (p *Position) clone() *Position {
	cp := *p
	cp.PositionUnits = fixed.Clone(p.PositionUnits)
	cp.NotionalSize = fixed.Clone(p.NotionalSize)
	cp.AverageOpenPrice = fixed.Clone(p.AverageOpenPrice)
	cp.Margin = fixed.Clone(p.Margin)
	cp.Premium = fixed.Clone(p.Premium)
	cp.OpeningFees = fixed.Clone(p.OpeningFees)
	cp.ClosingFees = fixed.Clone(p.ClosingFees)
	cp.AccruedFunding = fixed.Clone(p.AccruedFunding)
	cp.RealizedPnL = fixed.Clone(p.RealizedPnL)
	cp.Reserved = fixed.Clone(p.Reserved)
	return &cp
}

// PendingWithdrawal is an LP redemption waiting for a fulfiller.
type PendingWithdrawal struct {
	ID           uint64         `json:"id"`
	Side         Side           `json:"side"`
	LPAmountIn   *big.Int       `json:"lp_amount_in"`
	MinAmountOut *big.Int       `json:"min_amount_out"`
	PriorityFee  *big.Int       `json:"priority_fee"`
	Requester    common.Address `json:"requester"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (w *PendingWithdrawal) clone() *PendingWithdrawal {
	cp := *w
	cp.LPAmountIn = fixed.Clone(w.LPAmountIn)
	cp.MinAmountOut = fixed.Clone(w.MinAmountOut)
	cp.PriorityFee = fixed.Clone(w.PriorityFee)
	return &cp
}

// LiquidationClaim is the option-style receipt minted for a liquidated holder.
type LiquidationClaim struct {
	ID             uint64         `json:"id"`
	PositionID     uint64         `json:"position_id"`
	Holder         common.Address `json:"holder"`
	IsPut          bool           `json:"is_put"`
	NotionalAmount *big.Int       `json:"notional_amount"`
	Strike         *big.Int       `json:"strike"`
	Epoch          uint64         `json:"epoch"`
	IsSettled      bool           `json:"is_settled"`
}

func (c *LiquidationClaim) clone() *LiquidationClaim {
	cp := *c
	cp.NotionalAmount = fixed.Clone(c.NotionalAmount)
	cp.Strike = fixed.Clone(c.Strike)
	return &cp
}

// EpochState tracks the pricing epoch and frozen expiry prices.
type EpochState struct {
	CurrentEpoch  uint64              `json:"current_epoch"`
	CurrentExpiry time.Time           `json:"current_expiry"`
	ExpiryPrices  map[uint64]*big.Int `json:"expiry_prices"`
}

func (s EpochState) clone() EpochState {
	prices := make(map[uint64]*big.Int, len(s.ExpiryPrices))
	for k, v := range s.ExpiryPrices {
		prices[k] = fixed.Clone(v)
	}
	return EpochState{
		CurrentEpoch:  s.CurrentEpoch,
		CurrentExpiry: s.CurrentExpiry,
		ExpiryPrices:  prices,
	}
}

// Asset names a custody balance.
type Asset string

const (
	AssetQuote   Asset = "quote"
	AssetBase    Asset = "base"
	AssetLPQuote Asset = "lp-quote"
	AssetLPBase  Asset = "lp-base"
)

// AssetOf returns the asset held by a pool.
func AssetOf(side Side) Asset {
	if side == SideBase {
		return AssetBase
	}
	return AssetQuote
}

// ShareAssetOf returns the LP share asset of a pool.
func ShareAssetOf(side Side) Asset {
	if side == SideBase {
		return AssetLPBase
	}
	return AssetLPQuote
}
