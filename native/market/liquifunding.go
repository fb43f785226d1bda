package market

// LiquifundingOutcome reports what a liquifunding step decided.
type LiquifundingOutcome int

const (
	LiquifundingContinue LiquifundingOutcome = iota
	LiquifundingLiquidate
	LiquifundingTakeProfit
)

// LiquifundingResult carries the fee/PnL deltas a liquifunding step applied,
// for event emission.
type LiquifundingResult struct {
	Outcome       LiquifundingOutcome
	BorrowCharged Decimal
	FundingPaid   SignedDecimal
	CrankCharged  Decimal
	PriceGainLoss SignedDecimal
}

// Liquifund performs one liquifunding pass on pos, using priceLast (the
// position's last-settled price point, converted to notional-in-collateral)
// and priceNow (the current point) plus the pool-wide net notional in effect
// at priceNow. It mutates pos and pool/fees in place and never partially
// applies: on error the caller must discard the whole command (spec §5).
// fundingExempt, when true, skips the funding-payment leg: the crank sets
// this while the protocol is stale (spec §4.6) so a position being forced
// through liquifunding to close during an oracle outage is not charged
// funding computed against a net-notional snapshot nobody can currently
// trust.
func Liquifund(cfg Config, pool *LiquidityPool, fees *FeeAccrual, pos *Position, priceLastNotional, priceNowNotional Decimal, netNotional SignedDecimal, nowOrdinal uint64, now, elapsedSeconds int64, fundingExempt bool) (LiquifundingResult, error) {
	result := LiquifundingResult{Outcome: LiquifundingContinue}

	// Borrow fee: charged against locked counter_collateral, accrued into
	// the pool's per-share yield accumulator rather than principal.
	borrow, err := BorrowFee(cfg, pool, pos.CounterCollateral, uint64(elapsedSeconds))
	if err != nil {
		return result, err
	}
	if !borrow.IsZero() {
		if borrow.Cmp(pos.ActiveCollateral) > 0 {
			borrow = pos.ActiveCollateral
		}
		pos.ActiveCollateral, err = pos.ActiveCollateral.Sub(borrow)
		if err != nil {
			return result, err
		}
		lpShare, protocolShare, err := SplitProtocolTax(borrow, cfg.ProtocolFeeBps)
		if err != nil {
			return result, err
		}
		if err := pool.AccrueYield(lpShare); err != nil {
			return result, err
		}
		fees.ProtocolFees, err = fees.ProtocolFees.Add(protocolShare)
		if err != nil {
			return result, err
		}
	}
	result.BorrowCharged = borrow

	// Funding: popular side pays, minority side receives; the pool absorbs
	// the imbalance as counterparty of last resort, matching "trader
	// balance adjusted symmetrically against the counterpart side". Exempt
	// while the protocol is stale: see fundingExempt's doc comment above.
	funding := ZeroSigned()
	if !fundingExempt {
		funding, err = FundingPayment(cfg, netNotional, pool.lockedLiquidity, pos.NotionalSize, uint64(elapsedSeconds))
		if err != nil {
			return result, err
		}
	}
	if funding.Sign() > 0 {
		amt := funding.Abs()
		if amt.Cmp(pos.ActiveCollateral) > 0 {
			amt = pos.ActiveCollateral
		}
		pos.ActiveCollateral, err = pos.ActiveCollateral.Sub(amt)
		if err != nil {
			return result, err
		}
		if err := pool.AccrueYield(amt); err != nil {
			return result, err
		}
	} else if funding.Sign() < 0 {
		amt := funding.Abs()
		pos.ActiveCollateral, err = pos.ActiveCollateral.Add(amt)
		if err != nil {
			return result, err
		}
	}
	result.FundingPaid = funding

	// Crank fee: flat charge per liquifunding, feeds the reward fund.
	crankFee := pos.CrankFeeReserve
	if crankFee.Cmp(pos.ActiveCollateral) > 0 {
		crankFee = pos.ActiveCollateral
	}
	if !crankFee.IsZero() {
		pos.ActiveCollateral, err = pos.ActiveCollateral.Sub(crankFee)
		if err != nil {
			return result, err
		}
		fees.CrankRewardFund, err = fees.CrankRewardFund.Add(crankFee)
		if err != nil {
			return result, err
		}
	}
	result.CrankCharged = crankFee

	// Realize price exposure: conserved transfer between active and
	// counter collateral.
	priceDelta, err := NewSigned(priceNowNotional, false).Sub(NewSigned(priceLastNotional, false))
	if err != nil {
		return result, err
	}
	pnl, err := pos.NotionalSize.Mul(priceDelta, RoundHalfEven)
	if err != nil {
		return result, err
	}
	result.PriceGainLoss = pnl
	if pnl.Sign() > 0 {
		gain := pnl.Abs()
		if gain.Cmp(pos.CounterCollateral) > 0 {
			gain = pos.CounterCollateral
		}
		pos.ActiveCollateral, err = pos.ActiveCollateral.Add(gain)
		if err != nil {
			return result, err
		}
		pos.CounterCollateral, err = pos.CounterCollateral.Sub(gain)
		if err != nil {
			return result, err
		}
	} else if pnl.Sign() < 0 {
		loss := pnl.Abs()
		if loss.Cmp(pos.ActiveCollateral) > 0 {
			loss = pos.ActiveCollateral
		}
		pos.ActiveCollateral, err = pos.ActiveCollateral.Sub(loss)
		if err != nil {
			return result, err
		}
		pos.CounterCollateral, err = pos.CounterCollateral.Add(loss)
		if err != nil {
			return result, err
		}
	}

	marginTotal, err := pos.Margin.Total()
	if err != nil {
		return result, err
	}
	switch {
	case pos.ActiveCollateral.Cmp(marginTotal) <= 0:
		result.Outcome = LiquifundingLiquidate
	case pos.CounterCollateral.IsZero():
		result.Outcome = LiquifundingTakeProfit
	default:
		pos.NextLiquifundingAt = now + int64(cfg.LiquifundingInterval.Seconds())
		pos.LastLiquifundingPriceOrd = nowOrdinal
		pos.LastLiquifundingTimestamp = now
	}
	return result, nil
}
