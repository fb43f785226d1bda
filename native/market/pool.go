package market

import (
	"sort"

	"marketd/crypto"
)

// PendingUnstake is a single xLP -> collateral linear vesting schedule,
// created by UnstakeXlp and drained by CollectUnstaked.
type PendingUnstake struct {
	Amount    Decimal
	Start     int64
	End       int64
	Collected Decimal
}

// vestedAt returns the amount that has vested by now, per a linear ramp
// between Start and End.
func (p PendingUnstake) vestedAt(now int64) (Decimal, error) {
	if now <= p.Start {
		return Zero(), nil
	}
	if now >= p.End {
		return p.Amount, nil
	}
	elapsed, err := NewDecimalFromUint64(uint64(now - p.Start))
	if err != nil {
		return Decimal{}, err
	}
	span, err := NewDecimalFromUint64(uint64(p.End - p.Start))
	if err != nil {
		return Decimal{}, err
	}
	fraction, err := elapsed.Div(span, RoundDown)
	if err != nil {
		return Decimal{}, err
	}
	return p.Amount.Mul(fraction, RoundDown)
}

// holderBalance tracks one liquidity provider's share positions and yield
// watermark.
type holderBalance struct {
	Address        crypto.Address
	LPShares       Decimal
	XLPShares      Decimal
	YieldWatermark Decimal
	Epoch          uint64
	Pending        []PendingUnstake
}

// LiquidityPool is the shared collateral backing every open position's
// counter_collateral (spec §3, §4.4).
type LiquidityPool struct {
	unlockedLiquidity Decimal
	lockedLiquidity   Decimal
	totalLPShares     Decimal
	totalXLPShares    Decimal
	yieldAccumulator  Decimal
	balanceResetEpoch uint64
	resetInProgress   bool

	holders map[string]*holderBalance
}

// NewLiquidityPool returns an empty pool.
func NewLiquidityPool() *LiquidityPool {
	return &LiquidityPool{
		unlockedLiquidity: Zero(),
		lockedLiquidity:   Zero(),
		totalLPShares:     Zero(),
		totalXLPShares:    Zero(),
		yieldAccumulator:  Zero(),
		holders:           make(map[string]*holderBalance),
	}
}

func (p *LiquidityPool) holderKey(addr crypto.Address) string { return string(addr.Bytes()) }

func (p *LiquidityPool) holder(addr crypto.Address) *holderBalance {
	key := p.holderKey(addr)
	h, ok := p.holders[key]
	if !ok {
		h = &holderBalance{Address: addr, LPShares: Zero(), XLPShares: Zero(), YieldWatermark: p.yieldAccumulator, Epoch: p.balanceResetEpoch}
		p.holders[key] = h
	}
	return h
}

// TotalCollateral is unlocked+locked, the pool's total backing.
func (p *LiquidityPool) TotalCollateral() (Decimal, error) {
	return p.unlockedLiquidity.Add(p.lockedLiquidity)
}

// TotalShares is every outstanding LP+xLP share, which share 1:1 backing.
func (p *LiquidityPool) TotalShares() (Decimal, error) {
	return p.totalLPShares.Add(p.totalXLPShares)
}

func (p *LiquidityPool) currentBacking() (Decimal, error) {
	total, err := p.TotalShares()
	if err != nil {
		return Decimal{}, err
	}
	if total.IsZero() {
		return One(), nil
	}
	collateral, err := p.TotalCollateral()
	if err != nil {
		return Decimal{}, err
	}
	return collateral.Div(total, RoundDown)
}

// LockLiquidity moves collateral from unlocked into locked, backing a newly
// opened or enlarged position's counter_collateral.
func (p *LiquidityPool) LockLiquidity(amount Decimal) error {
	if amount.Cmp(p.unlockedLiquidity) > 0 {
		return ErrInsufficientUnlockedLiquidity
	}
	unlocked, err := p.unlockedLiquidity.Sub(amount)
	if err != nil {
		return err
	}
	locked, err := p.lockedLiquidity.Add(amount)
	if err != nil {
		return err
	}
	p.unlockedLiquidity = unlocked
	p.lockedLiquidity = locked
	return nil
}

// UnlockLiquidity is the inverse of LockLiquidity, performed when a
// position's counter_collateral shrinks or the position closes.
func (p *LiquidityPool) UnlockLiquidity(amount Decimal) error {
	locked, err := p.lockedLiquidity.Sub(amount)
	if err != nil {
		return err
	}
	unlocked, err := p.unlockedLiquidity.Add(amount)
	if err != nil {
		return err
	}
	p.lockedLiquidity = locked
	p.unlockedLiquidity = unlocked
	return nil
}

// Utilization returns locked/(locked+unlocked), the fee-curve input.
func (p *LiquidityPool) Utilization() (Decimal, error) {
	total, err := p.TotalCollateral()
	if err != nil {
		return Decimal{}, err
	}
	if total.IsZero() {
		return Zero(), nil
	}
	return p.lockedLiquidity.Div(total, RoundHalfEven)
}

// DepositLiquidity mints LP or xLP shares for collateral at current backing.
func (p *LiquidityPool) DepositLiquidity(holder crypto.Address, collateral Decimal, toXLP bool, epoch uint64) (Decimal, error) {
	if p.resetInProgress {
		return Decimal{}, ErrResetEpochMismatch
	}
	if epoch != p.balanceResetEpoch {
		return Decimal{}, ErrResetEpochMismatch
	}
	backing, err := p.currentBacking()
	if err != nil {
		return Decimal{}, err
	}
	shares, err := collateral.Div(backing, RoundDown)
	if err != nil {
		return Decimal{}, err
	}
	unlocked, err := p.unlockedLiquidity.Add(collateral)
	if err != nil {
		return Decimal{}, err
	}
	p.unlockedLiquidity = unlocked

	h := p.holder(holder)
	if h.Epoch != p.balanceResetEpoch {
		h.LPShares, h.XLPShares = Zero(), Zero()
		h.YieldWatermark = p.yieldAccumulator
		h.Epoch = p.balanceResetEpoch
	}
	if toXLP {
		total, err := p.totalXLPShares.Add(shares)
		if err != nil {
			return Decimal{}, err
		}
		p.totalXLPShares = total
		sum, err := h.XLPShares.Add(shares)
		if err != nil {
			return Decimal{}, err
		}
		h.XLPShares = sum
	} else {
		total, err := p.totalLPShares.Add(shares)
		if err != nil {
			return Decimal{}, err
		}
		p.totalLPShares = total
		sum, err := h.LPShares.Add(shares)
		if err != nil {
			return Decimal{}, err
		}
		h.LPShares = sum
	}
	return shares, nil
}

// WithdrawLp burns LP shares for unlocked collateral.
func (p *LiquidityPool) WithdrawLp(holder crypto.Address, shares Decimal) (Decimal, error) {
	h := p.holder(holder)
	if shares.Cmp(h.LPShares) > 0 {
		return Decimal{}, ErrInsufficientCollateral
	}
	backing, err := p.currentBacking()
	if err != nil {
		return Decimal{}, err
	}
	payout, err := shares.Mul(backing, RoundDown)
	if err != nil {
		return Decimal{}, err
	}
	if payout.Cmp(p.unlockedLiquidity) > 0 {
		return Decimal{}, ErrInsufficientUnlockedLiquidity
	}
	remaining, err := h.LPShares.Sub(shares)
	if err != nil {
		return Decimal{}, err
	}
	h.LPShares = remaining
	totalRemaining, err := p.totalLPShares.Sub(shares)
	if err != nil {
		return Decimal{}, err
	}
	p.totalLPShares = totalRemaining
	unlocked, err := p.unlockedLiquidity.Sub(payout)
	if err != nil {
		return Decimal{}, err
	}
	p.unlockedLiquidity = unlocked
	p.maybeEnterReset()
	return payout, nil
}

// StakeLp converts LP shares to xLP shares instantly and 1:1.
func (p *LiquidityPool) StakeLp(holder crypto.Address, shares Decimal) error {
	h := p.holder(holder)
	if shares.Cmp(h.LPShares) > 0 {
		return ErrInsufficientCollateral
	}
	lpRemaining, err := h.LPShares.Sub(shares)
	if err != nil {
		return err
	}
	h.LPShares = lpRemaining
	xlpSum, err := h.XLPShares.Add(shares)
	if err != nil {
		return err
	}
	h.XLPShares = xlpSum

	totalLP, err := p.totalLPShares.Sub(shares)
	if err != nil {
		return err
	}
	p.totalLPShares = totalLP
	totalXLP, err := p.totalXLPShares.Add(shares)
	if err != nil {
		return err
	}
	p.totalXLPShares = totalXLP
	return nil
}

// UnstakeXlp locks in the collateral value of the xLP shares at today's
// backing and schedules it to vest linearly over the unstake period.
func (p *LiquidityPool) UnstakeXlp(holder crypto.Address, shares Decimal, now int64, period int64) error {
	h := p.holder(holder)
	if shares.Cmp(h.XLPShares) > 0 {
		return ErrInsufficientCollateral
	}
	backing, err := p.currentBacking()
	if err != nil {
		return err
	}
	amount, err := shares.Mul(backing, RoundDown)
	if err != nil {
		return err
	}
	remaining, err := h.XLPShares.Sub(shares)
	if err != nil {
		return err
	}
	h.XLPShares = remaining
	totalRemaining, err := p.totalXLPShares.Sub(shares)
	if err != nil {
		return err
	}
	p.totalXLPShares = totalRemaining
	h.Pending = append(h.Pending, PendingUnstake{Amount: amount, Start: now, End: now + period, Collected: Zero()})
	return nil
}

// CollectUnstaked pays out whatever has vested across all of the holder's
// pending xLP unstakes.
func (p *LiquidityPool) CollectUnstaked(holder crypto.Address, now int64) (Decimal, error) {
	h := p.holder(holder)
	total := Zero()
	kept := h.Pending[:0]
	for _, pending := range h.Pending {
		vested, err := pending.vestedAt(now)
		if err != nil {
			return Decimal{}, err
		}
		owed, err := vested.Sub(pending.Collected)
		if err != nil {
			return Decimal{}, err
		}
		if !owed.IsZero() {
			sum, err := total.Add(owed)
			if err != nil {
				return Decimal{}, err
			}
			total = sum
			pending.Collected = vested
		}
		if pending.Collected.Cmp(pending.Amount) < 0 {
			kept = append(kept, pending)
		}
	}
	h.Pending = kept
	if total.IsZero() {
		return Zero(), nil
	}
	if total.Cmp(p.unlockedLiquidity) > 0 {
		return Decimal{}, ErrInsufficientUnlockedLiquidity
	}
	unlocked, err := p.unlockedLiquidity.Sub(total)
	if err != nil {
		return Decimal{}, err
	}
	p.unlockedLiquidity = unlocked
	return total, nil
}

// AccrueYield spreads amount across every outstanding share, independent of
// lock status (LPs may collect yield even while their capital is locked).
func (p *LiquidityPool) AccrueYield(amount Decimal) error {
	if amount.IsZero() {
		return nil
	}
	total, err := p.TotalShares()
	if err != nil {
		return err
	}
	if total.IsZero() {
		return nil
	}
	perShare, err := amount.Div(total, RoundDown)
	if err != nil {
		return err
	}
	sum, err := p.yieldAccumulator.Add(perShare)
	if err != nil {
		return err
	}
	p.yieldAccumulator = sum
	unlocked, err := p.unlockedLiquidity.Add(amount)
	if err != nil {
		return err
	}
	p.unlockedLiquidity = unlocked
	return nil
}

// CollectYield pays a holder the yield accrued since their last collection.
func (p *LiquidityPool) CollectYield(holder crypto.Address) (Decimal, error) {
	h := p.holder(holder)
	delta, err := p.yieldAccumulator.Sub(h.YieldWatermark)
	if err != nil {
		return Decimal{}, err
	}
	h.YieldWatermark = p.yieldAccumulator
	if delta.IsZero() {
		return Zero(), nil
	}
	shares, err := h.LPShares.Add(h.XLPShares)
	if err != nil {
		return Decimal{}, err
	}
	payout, err := delta.Mul(shares, RoundDown)
	if err != nil {
		return Decimal{}, err
	}
	if payout.IsZero() {
		return Zero(), nil
	}
	if payout.Cmp(p.unlockedLiquidity) > 0 {
		return Decimal{}, ErrInsufficientUnlockedLiquidity
	}
	unlocked, err := p.unlockedLiquidity.Sub(payout)
	if err != nil {
		return Decimal{}, err
	}
	p.unlockedLiquidity = unlocked
	return payout, nil
}

// maybeEnterReset flips the pool into reset mode once all shares are backed
// by zero collateral (spec §4.4 "Balance reset").
func (p *LiquidityPool) maybeEnterReset() {
	total, _ := p.TotalShares()
	collateral, _ := p.TotalCollateral()
	if !total.IsZero() && collateral.IsZero() {
		p.resetInProgress = true
	}
}

// ResetInProgress reports whether a ResetLpBalances crank item is pending.
func (p *LiquidityPool) ResetInProgress() bool { return p.resetInProgress }

// Epoch returns the current balance-reset epoch.
func (p *LiquidityPool) Epoch() uint64 { return p.balanceResetEpoch }

// YieldCredit names one holder paid out during a reset batch, for the
// engine to mirror into its collateral ledger and event stream.
type YieldCredit struct {
	Holder crypto.Address
	Amount Decimal
}

// ResetBatch zeroes out up to batchSize holders' balances, crediting any
// uncollected yield before the zeroing, then advances the epoch once every
// holder has been processed.
func (p *LiquidityPool) ResetBatch(batchSize int) (done bool, credits []YieldCredit, err error) {
	keys := make([]string, 0, len(p.holders))
	for k, h := range p.holders {
		if h.Epoch == p.balanceResetEpoch && (!h.LPShares.IsZero() || !h.XLPShares.IsZero()) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	processed := 0
	for _, k := range keys {
		if processed >= batchSize {
			return false, credits, nil
		}
		h := p.holders[k]
		delta, subErr := p.yieldAccumulator.Sub(h.YieldWatermark)
		if subErr != nil {
			return false, credits, subErr
		}
		shares, addErr := h.LPShares.Add(h.XLPShares)
		if addErr != nil {
			return false, credits, addErr
		}
		owed, mulErr := delta.Mul(shares, RoundDown)
		if mulErr != nil {
			return false, credits, mulErr
		}
		if !owed.IsZero() {
			if owed.Cmp(p.unlockedLiquidity) > 0 {
				owed = p.unlockedLiquidity
			}
			unlocked, subErr := p.unlockedLiquidity.Sub(owed)
			if subErr != nil {
				return false, credits, subErr
			}
			p.unlockedLiquidity = unlocked
			credits = append(credits, YieldCredit{Holder: h.Address, Amount: owed})
		}
		h.LPShares = Zero()
		h.XLPShares = Zero()
		h.YieldWatermark = p.yieldAccumulator
		processed++
	}
	p.totalLPShares = Zero()
	p.totalXLPShares = Zero()
	p.resetInProgress = false
	p.balanceResetEpoch++
	return true, credits, nil
}
