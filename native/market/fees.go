package market

// FeeAccrual tracks the protocol-wide fee funds the engine pays into and
// draws from: the crank reward fund (crank fees collected during
// liquifunding; nothing in this package pays it out), the delta-neutrality
// fund (one-shot fees/credits charged when a position opens, including a
// limit-order fill; updates and closes leave it untouched), and protocol fees.
type FeeAccrual struct {
	CrankRewardFund Decimal
	DNFund          Decimal
	ProtocolFees    Decimal
}

// NewFeeAccrual returns a zeroed accrual.
func NewFeeAccrual() *FeeAccrual {
	return &FeeAccrual{CrankRewardFund: Zero(), DNFund: Zero(), ProtocolFees: Zero()}
}

// BorrowFee computes the time-linear borrow charge on a position's locked
// counter_collateral over elapsed seconds, at the curve's utilization-driven
// rate (spec §4.3 "Borrow fee").
func BorrowFee(cfg Config, pool *LiquidityPool, lockedCounterCollateral Decimal, elapsedSeconds uint64) (Decimal, error) {
	if elapsedSeconds == 0 || lockedCounterCollateral.IsZero() {
		return Zero(), nil
	}
	utilization, err := pool.Utilization()
	if err != nil {
		return Decimal{}, err
	}
	rate, err := cfg.BorrowRate.Evaluate(utilization)
	if err != nil {
		return Decimal{}, err
	}
	dt, err := NewDecimalFromUint64(elapsedSeconds)
	if err != nil {
		return Decimal{}, err
	}
	perSecond, err := rate.Div(secondsPerYear, RoundUp)
	if err != nil {
		return Decimal{}, err
	}
	charge, err := perSecond.Mul(dt, RoundUp)
	if err != nil {
		return Decimal{}, err
	}
	return charge.Mul(lockedCounterCollateral, RoundUp)
}

var secondsPerYear = mustDecimal(31_536_000)

// SplitProtocolTax divides a fee into the LP-yield share and the
// protocol-tax share, using Config.ProtocolFeeBps.
func SplitProtocolTax(fee Decimal, protocolFeeBps uint64) (lpShare, protocolShare Decimal, err error) {
	bps, err := NewDecimalFromUint64(protocolFeeBps)
	if err != nil {
		return Decimal{}, Decimal{}, err
	}
	basisPoints := mustDecimal(10_000)
	rate, err := bps.Div(basisPoints, RoundUp)
	if err != nil {
		return Decimal{}, Decimal{}, err
	}
	protocolShare, err = fee.Mul(rate, RoundUp)
	if err != nil {
		return Decimal{}, Decimal{}, err
	}
	lpShare, err = fee.Sub(protocolShare)
	if err != nil {
		return Decimal{}, Decimal{}, err
	}
	return lpShare, protocolShare, nil
}

// FundingPayment computes the linear funding settled over elapsed seconds.
// Rate is f(|net_notional|/pool_size) with sign by side: positive means the
// position's side is the popular one and pays the signed amount; negative
// means the position's side receives it (spec §4.3 "Funding payment").
func FundingPayment(cfg Config, netNotional SignedDecimal, poolSize Decimal, positionNotional SignedDecimal, elapsedSeconds uint64) (SignedDecimal, error) {
	if elapsedSeconds == 0 || poolSize.IsZero() {
		return ZeroSigned(), nil
	}
	ratio, err := netNotional.Abs().Div(poolSize, RoundHalfEven)
	if err != nil {
		return SignedDecimal{}, err
	}
	rate, err := ratio.Mul(cfg.FundingSensitivity, RoundHalfEven)
	if err != nil {
		return SignedDecimal{}, err
	}
	dt, err := NewDecimalFromUint64(elapsedSeconds)
	if err != nil {
		return SignedDecimal{}, err
	}
	perSecond, err := rate.Div(secondsPerYear, RoundHalfEven)
	if err != nil {
		return SignedDecimal{}, err
	}
	magnitude, err := perSecond.Mul(dt, RoundHalfEven)
	if err != nil {
		return SignedDecimal{}, err
	}
	magnitude, err = magnitude.Mul(positionNotional.Abs(), RoundHalfEven)
	if err != nil {
		return SignedDecimal{}, err
	}
	// The popular side (same sign as net notional) pays; the minority side
	// receives.
	popular := netNotional.Sign() == positionNotional.Sign() && netNotional.Sign() != 0
	return NewSigned(magnitude, !popular), nil
}

// TradingFee charges cfg.TradingFeeBps against incremental notional size
// plus incremental counter collateral, only on increases (spec §4.3
// "Trading fee").
func TradingFee(cfg Config, deltaNotional, deltaCounterCollateral Decimal) (Decimal, error) {
	base, err := deltaNotional.Add(deltaCounterCollateral)
	if err != nil {
		return Decimal{}, err
	}
	bps, err := NewDecimalFromUint64(cfg.TradingFeeBps)
	if err != nil {
		return Decimal{}, err
	}
	basisPoints := mustDecimal(10_000)
	rate, err := bps.Div(basisPoints, RoundUp)
	if err != nil {
		return Decimal{}, err
	}
	return base.Mul(rate, RoundUp)
}

// DeltaNeutralityFee returns the signed one-shot fee/credit for moving net
// notional by delta, and whether the resulting total net notional would
// exceed cfg.DeltaNeutralityCap.
func DeltaNeutralityFee(cfg Config, netNotionalBefore, delta SignedDecimal) (fee SignedDecimal, capExceeded bool, err error) {
	netAfter, err := netNotionalBefore.Add(delta)
	if err != nil {
		return SignedDecimal{}, false, err
	}
	fee, err = cfg.DeltaNeutrality.Fee(delta)
	if err != nil {
		return SignedDecimal{}, false, err
	}
	capExceeded = !cfg.DeltaNeutralityCap.IsZero() && netAfter.Abs().Cmp(cfg.DeltaNeutralityCap) > 0
	return fee, capExceeded, nil
}
