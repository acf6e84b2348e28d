package model

// Operation kinds accepted by the replay runner.
const (
	OpDeposit          = "deposit"
	OpWithdrawRequest  = "withdraw_request"
	OpWithdrawComplete = "withdraw_complete"
	OpWithdrawCancel   = "withdraw_cancel"
	OpOpen             = "open"
	OpAddCollateral    = "add_collateral"
	OpReduceCollateral = "reduce_collateral"
	OpResize           = "resize"
	OpClose            = "close"
	OpLiquidate        = "liquidate"
	OpSettle           = "settle"
	OpAdvanceEpoch     = "advance_epoch"
	OpSetPrice         = "set_price"
	OpSetVolatility    = "set_volatility"
	OpSetTime          = "set_time"
	OpCredit           = "credit"
)

// Operation is one line of a replay input file. Amounts are decimal strings in
// the unit of the asset they refer to: quote for notional, collateral and
// payouts, the side's asset for deposits and priority fees, price units for
// prices and percent for volatility.
type Operation struct {
	Op          string `json:"op"`
	Account     string `json:"account,omitempty"`
	Side        string `json:"side,omitempty"`
	Asset       string `json:"asset,omitempty"`
	IsShort     bool   `json:"is_short,omitempty"`
	ID          uint64 `json:"id,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Notional    string `json:"notional,omitempty"`
	Collateral  string `json:"collateral,omitempty"`
	MinOut      string `json:"min_out,omitempty"`
	PriorityFee string `json:"priority_fee,omitempty"`
	Price       string `json:"price,omitempty"`
	Volatility  string `json:"volatility,omitempty"`
	Time        string `json:"time,omitempty"`
	Expiry      string `json:"expiry,omitempty"`
}
