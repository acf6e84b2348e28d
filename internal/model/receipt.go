package model

import (
	"errors"

	"perpVault/internal/vault"
)

// ErrorKindMalformed marks an input line that could not be decoded.
const ErrorKindMalformed = "malformed"

// Receipt records the outcome of one replayed operation.
type Receipt struct {
	Line      uint64      `json:"line"`
	Op        string      `json:"op"`
	OK        bool        `json:"ok"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	AppliedAt string      `json:"applied_at"`
}

// DepositResult is the payload of a deposit receipt.
type DepositResult struct {
	Side   string `json:"side"`
	Amount string `json:"amount"`
	Shares string `json:"shares"`
}

// WithdrawRequestResult is the payload of a withdraw_request receipt.
type WithdrawRequestResult struct {
	RequestID uint64 `json:"request_id"`
}

// WithdrawResult is the payload of a withdraw_complete receipt.
type WithdrawResult struct {
	RequestID   uint64 `json:"request_id"`
	Side        string `json:"side"`
	SharesIn    string `json:"shares_in"`
	AmountOut   string `json:"amount_out"`
	PriorityFee string `json:"priority_fee"`
	Paid        string `json:"paid"`
}

// OpenResult is the payload of an open receipt.
type OpenResult struct {
	PositionID    uint64 `json:"position_id"`
	MarkPrice     string `json:"mark_price"`
	PositionUnits string `json:"position_units"`
	Premium       string `json:"premium"`
	OpeningFee    string `json:"opening_fee"`
}

// CloseResult is the payload of a close receipt.
type CloseResult struct {
	PositionID uint64 `json:"position_id"`
	MarkPrice  string `json:"mark_price"`
	PnL        string `json:"pnl"`
	Funding    string `json:"funding"`
	ClosingFee string `json:"closing_fee"`
	Payout     string `json:"payout"`
	BaseSpent  string `json:"base_spent"`
	QuoteSpent string `json:"quote_spent"`
}

// ResizeResult is the payload of a resize receipt.
type ResizeResult struct {
	Close CloseResult `json:"close"`
	Open  OpenResult  `json:"open"`
}

// LiquidationResult is the payload of one liquidation.
type LiquidationResult struct {
	PositionID     uint64 `json:"position_id"`
	ClaimID        uint64 `json:"claim_id"`
	MarkPrice      string `json:"mark_price"`
	SeizedMargin   string `json:"seized_margin"`
	LiquidationFee string `json:"liquidation_fee"`
	Funding        string `json:"funding"`
	QuoteSpent     string `json:"quote_spent"`
}

// SettleResult is the payload of a settle receipt.
type SettleResult struct {
	ClaimID     uint64 `json:"claim_id"`
	Side        string `json:"side"`
	ExpiryPrice string `json:"expiry_price"`
	PayoffQuote string `json:"payoff_quote"`
	Paid        string `json:"paid"`
}

// EpochResult is the payload of an advance_epoch receipt.
type EpochResult struct {
	ClosedEpoch uint64 `json:"closed_epoch"`
	NextExpiry  string `json:"next_expiry"`
}

var errorKinds = []struct {
	err  error
	kind string
}{
	{vault.ErrInsufficientLiquidity, "insufficient_liquidity"},
	{vault.ErrInsufficientBalance, "insufficient_balance"},
	{vault.ErrBelowMinimumCollateral, "below_minimum_collateral"},
	{vault.ErrNotCollateralized, "not_collateralized"},
	{vault.ErrPositionNotOpen, "position_not_open"},
	{vault.ErrNotAuthorized, "not_authorized"},
	{vault.ErrInvalidRequest, "invalid_request"},
	{vault.ErrEpochNotExpired, "epoch_not_expired"},
	{vault.ErrTooEarly, "too_early"},
	{vault.ErrSlippageExceeded, "slippage_exceeded"},
	{vault.ErrReentrant, "reentrant"},
	{vault.ErrBusy, "busy"},
}

// ErrorKind maps an engine rejection to a stable name. Unknown errors map to "internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
