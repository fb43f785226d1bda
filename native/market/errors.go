package market

import "errors"

// Error taxonomy (spec §7). Every user-mutating command either returns nil
// and a full set of state mutations/events, or one of these and no state
// change at all.
var (
	ErrInsufficientUnlockedLiquidity = errors.New("market: insufficient unlocked liquidity")
	ErrInsufficientCollateral        = errors.New("market: insufficient collateral")
	ErrLiquidationMargin             = errors.New("market: liquidation margin breached")
	ErrLeverageOutOfRange            = errors.New("market: leverage out of range")
	ErrBelowMinDeposit               = errors.New("market: deposit below minimum")
	ErrSlippageExceeded              = errors.New("market: slippage exceeded")
	ErrDeltaNeutralityCap            = errors.New("market: delta-neutrality cap exceeded")
	ErrPositionNotFound              = errors.New("market: position not found")
	ErrNotPositionOwner              = errors.New("market: caller does not own position")
	ErrPositionAlreadyClosed         = errors.New("market: position already closed")
	ErrResetEpochMismatch            = errors.New("market: balance reset epoch mismatch")
	ErrInvariantViolated             = errors.New("market: invariant violated")
	ErrPriceTooOld                   = errors.New("market: price too old")
	ErrProtocolStale                 = errors.New("market: protocol stale")
)

// ErrShutdownActive is returned when a command targets a surface the
// protocol has placed into wind-down. It carries the surface name so
// callers can report which command kind was rejected.
type ErrShutdownActive struct {
	Surface string
}

func (e *ErrShutdownActive) Error() string {
	return "market: surface shut down: " + e.Surface
}
