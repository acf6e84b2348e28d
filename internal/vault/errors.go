package vault

import "errors"

// Rejections returned by the engine. Every rejection leaves state unchanged.
var (
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrBelowMinimumCollateral = errors.New("collateral below minimum")
	ErrNotCollateralized      = errors.New("position not collateralized")
	ErrPositionNotOpen        = errors.New("position not open")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrEpochNotExpired        = errors.New("epoch not expired")
	ErrTooEarly               = errors.New("too early")
	ErrSlippageExceeded       = errors.New("slippage exceeded")
	ErrReentrant              = errors.New("reentrant call")
	ErrBusy                   = errors.New("engine busy")
)
