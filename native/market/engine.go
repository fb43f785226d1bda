package market

import (
	"sync"

	"marketd/core/events"
	"marketd/crypto"
	nativecommon "marketd/native/common"
)

const moduleName = "market"

// Snapshot is the full persisted state of one market, round-tripped through
// the state package on load/save. Engine holds the live, mutable working set;
// Snapshot is what crosses the persistence boundary.
type Snapshot struct {
	Config     Config
	Pool       *LiquidityPool
	Positions  *PositionStore
	Triggers   *TriggerIndices
	Prices     *PriceStore
	Fees       *FeeAccrual
	Orders     *OrderBook
	Shutdown   bool
	NowOrdinal uint64
}

// Engine is the single-writer state machine for one perpetual market. Every
// exported method takes the engine's mutex for its whole duration: the spec
// requires commands to apply completely or not at all, and a plain
// sync.Mutex is the simplest implementation of that guarantee for a engine
// that is not sharded across goroutines.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	pool      *LiquidityPool
	positions *PositionStore
	triggers  *TriggerIndices
	prices    *PriceStore
	fees      *FeeAccrual
	orders    *OrderBook

	shutdown bool

	pauses   nativecommon.PauseView
	emitter  events.Emitter
}

// NewEngine constructs a fresh, empty market engine for cfg. Use LoadSnapshot
// to resume from persisted state instead.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		pool:      NewLiquidityPool(),
		positions: NewPositionStore(),
		triggers:  NewTriggerIndices(),
		prices:    NewPriceStore(),
		fees:      NewFeeAccrual(),
		orders:    NewOrderBook(),
		emitter:   events.NoopEmitter{},
	}
}

// SetPauses wires the kill-switch view checked before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the sink every domain event is published to.
func (e *Engine) SetEmitter(em events.Emitter) {
	if e == nil {
		return
	}
	if em == nil {
		em = events.NoopEmitter{}
	}
	e.emitter = em
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(ev)
}

// Snapshot returns the engine's persisted fields, for the state layer to
// serialize. The returned pointers are the engine's live state, not copies:
// callers must not mutate them concurrently with engine use.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Config:     e.cfg,
		Pool:       e.pool,
		Positions:  e.positions,
		Triggers:   e.triggers,
		Prices:     e.prices,
		Fees:       e.fees,
		Orders:     e.orders,
		Shutdown:   e.shutdown,
		NowOrdinal: e.nowOrdinal(),
	}
}

// LoadSnapshot replaces the engine's working state wholesale, used when
// resuming from persistence at startup.
func LoadSnapshot(snap Snapshot) *Engine {
	orders := snap.Orders
	if orders == nil {
		orders = NewOrderBook()
	}
	return &Engine{
		cfg:       snap.Config,
		pool:      snap.Pool,
		positions: snap.Positions,
		triggers:  snap.Triggers,
		prices:    snap.Prices,
		fees:      snap.Fees,
		orders:    orders,
		shutdown:  snap.Shutdown,
		emitter:   events.NoopEmitter{},
	}
}

func (e *Engine) nowOrdinal() uint64 {
	if latest, ok := e.prices.Latest(); ok {
		return latest.Ordinal
	}
	return 0
}

// SetShutdown flips the module's wind-down flag (spec §4.6 "close all
// positions"); once set, OpenPosition is rejected and the crank's close-all
// step begins draining open positions.
func (e *Engine) SetShutdown(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.shutdown = on
	return nil
}

// SetPrice appends a new price point, the entry point for every oracle feed
// (spec §4.2).
func (e *Engine) SetPrice(timestamp int64, priceBase, priceUSD Decimal) (PricePoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return PricePoint{}, err
	}
	point, err := e.prices.Append(timestamp, priceBase, priceUSD)
	if err != nil {
		return PricePoint{}, err
	}
	e.emit(PricePointAppendedEvent{Ordinal: point.Ordinal, Timestamp: point.Timestamp, PriceBase: point.PriceBase.String()})
	return point, nil
}

// netNotional sums every open position's signed notional size, the input to
// the funding-payment and delta-neutrality-fee formulas.
func (e *Engine) netNotional() (SignedDecimal, error) {
	net := ZeroSigned()
	for id := range e.positions.open {
		p := e.positions.open[id]
		sum, err := net.Add(p.NotionalSize)
		if err != nil {
			return SignedDecimal{}, err
		}
		net = sum
	}
	return net, nil
}

// checkStaleness enforces spec §7's PriceTooOld / ProtocolStale gates ahead
// of any admission that depends on a fresh price.
func (e *Engine) checkStaleness(now int64) error {
	latest, ok := e.prices.Latest()
	if !ok {
		return ErrPriceTooOld
	}
	if now-latest.Timestamp > int64(e.cfg.PriceStaleBound.Seconds()) {
		return ErrPriceTooOld
	}
	if oldest, ok := e.prices.OldestIncomplete(); ok {
		if now-oldest.Timestamp > int64(e.cfg.LiquifundingStaleBound.Seconds()) {
			return ErrProtocolStale
		}
	}
	return nil
}

// OpenPositionParams carries every input to OpenPosition and to a limit
// order staged for later fill (spec §4.1 "Open", spec §6 OpenPosition's
// max_gains / stop_loss / limit_trigger / slippage_assert inputs).
type OpenPositionParams struct {
	Owner      crypto.Address
	Collateral Decimal
	Leverage   Decimal
	Direction  Direction

	// MaxGains caps counter_collateral at Collateral*MaxGains (e.g. 3.0 for
	// a 300% max-gains position). Zero means "uncapped": counter_collateral
	// defaults to notional-collateral, the maximum the protocol can ever owe
	// above deposit.
	MaxGains Decimal

	// StopLoss, if non-nil, registers an additional close trigger in the
	// notional price units tighter than the computed liquidation price.
	StopLoss *Decimal

	// SlippageAssert bounds the combined trading+delta-neutrality fee rate
	// charged against notional; zero disables the check.
	SlippageAssert Decimal

	// LimitTrigger, if non-nil, defers the open: the position is not created
	// now but staged in the order book until the notional price crosses it.
	LimitTrigger *Decimal
	LimitExpiry  *int64
}

// OpenPosition admits and opens a new leveraged position (spec §4.1 "Open").
// If params.LimitTrigger is set, no position is opened immediately: the
// order is staged in the order book under the returned PositionID and the
// *Position return is nil, becoming live once the crank's limit-order scan
// fills it (spec §4.6 step 6, spec §6 OpenPosition's limit_trigger input).
func (e *Engine) OpenPosition(params OpenPositionParams, now int64) (*Position, PositionID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.admit(now, "OpenPosition"); err != nil {
		return nil, "", err
	}
	if params.Collateral.Cmp(e.cfg.MinDeposit) < 0 {
		return nil, "", ErrBelowMinDeposit
	}
	if params.Leverage.Cmp(e.cfg.MinLeverage) < 0 || params.Leverage.Cmp(e.cfg.MaxLeverage) > 0 {
		return nil, "", ErrLeverageOutOfRange
	}
	if params.LimitTrigger != nil {
		id, err := e.placeLimitOrderLocked(params)
		return nil, id, err
	}

	latest, ok := e.prices.Latest()
	if !ok {
		return nil, "", ErrPriceTooOld
	}
	priceNotionalOpen, err := ToNotionalInCollateral(latest.PriceBase, e.cfg.Kind)
	if err != nil {
		return nil, "", err
	}
	pos, err := e.buildPosition(params, now, latest.Ordinal)
	if err != nil {
		return nil, "", err
	}
	e.positions.Insert(pos)
	if err := e.registerTriggers(pos, priceNotionalOpen, latest.Ordinal+1); err != nil {
		return nil, "", err
	}

	e.emit(PositionOpenEvent{
		ID:                pos.ID,
		Owner:             ownerKey(pos.Owner),
		NotionalSize:      pos.NotionalSize.String(),
		DepositCollateral: pos.DepositCollateral.String(),
		CounterCollateral: pos.CounterCollateral.String(),
	})
	return pos, pos.ID, nil
}

// buildPosition runs the admission math shared by a market-order open and a
// limit-order fill: fee accrual, delta-neutrality check, counter_collateral
// sizing, and the liquidation-margin floor. It does not touch e.positions or
// e.triggers; callers insert and register triggers themselves.
func (e *Engine) buildPosition(params OpenPositionParams, now int64, priceOrdinal uint64) (*Position, error) {
	notionalMagnitude, err := params.Collateral.Mul(params.Leverage, RoundDown)
	if err != nil {
		return nil, err
	}
	defaultCounter, err := notionalMagnitude.Sub(params.Collateral)
	if err != nil {
		return nil, err
	}
	counterCollateral := defaultCounter
	if !params.MaxGains.IsZero() {
		capped, err := params.Collateral.Mul(params.MaxGains, RoundDown)
		if err != nil {
			return nil, err
		}
		if capped.Cmp(defaultCounter) < 0 {
			counterCollateral = capped
		}
	}

	notionalSize := NewSigned(notionalMagnitude, params.Direction == Short)

	netBefore, err := e.netNotional()
	if err != nil {
		return nil, err
	}
	dnFee, capExceeded, err := DeltaNeutralityFee(e.cfg, netBefore, notionalSize)
	if err != nil {
		return nil, err
	}
	if capExceeded {
		return nil, ErrDeltaNeutralityCap
	}

	tradingFee, err := TradingFee(e.cfg, notionalMagnitude, counterCollateral)
	if err != nil {
		return nil, err
	}

	if !params.SlippageAssert.IsZero() {
		combined, err := tradingFee.Add(dnFee.Abs())
		if err != nil {
			return nil, err
		}
		rate, err := combined.Div(notionalMagnitude, RoundHalfEven)
		if err != nil {
			return nil, err
		}
		if rate.Cmp(params.SlippageAssert) > 0 {
			return nil, ErrSlippageExceeded
		}
	}

	activeCollateral, err := params.Collateral.Sub(tradingFee)
	if err != nil {
		return nil, ErrInsufficientCollateral
	}
	if dnFee.Sign() > 0 {
		if dnFee.Abs().Cmp(activeCollateral) > 0 {
			return nil, ErrInsufficientCollateral
		}
		activeCollateral, err = activeCollateral.Sub(dnFee.Abs())
		if err != nil {
			return nil, err
		}
		e.fees.DNFund, err = e.fees.DNFund.Add(dnFee.Abs())
		if err != nil {
			return nil, err
		}
	} else if dnFee.Sign() < 0 {
		credit := dnFee.Abs()
		if credit.Cmp(e.fees.DNFund) > 0 {
			credit = e.fees.DNFund
		}
		e.fees.DNFund, err = e.fees.DNFund.Sub(credit)
		if err != nil {
			return nil, err
		}
		activeCollateral, err = activeCollateral.Add(credit)
		if err != nil {
			return nil, err
		}
	}

	lpShare, protocolShare, err := SplitProtocolTax(tradingFee, e.cfg.ProtocolFeeBps)
	if err != nil {
		return nil, err
	}
	if err := e.pool.AccrueYield(lpShare); err != nil {
		return nil, err
	}
	e.fees.ProtocolFees, err = e.fees.ProtocolFees.Add(protocolShare)
	if err != nil {
		return nil, err
	}

	if err := e.pool.LockLiquidity(counterCollateral); err != nil {
		return nil, err
	}

	margin := LiquidationMargin{
		Borrow:          Zero(),
		Funding:         Zero(),
		DeltaNeutrality: Zero(),
		Crank:           e.cfg.CrankFeeFlat,
	}
	marginTotal, err := margin.Total()
	if err != nil {
		return nil, err
	}
	if activeCollateral.Cmp(marginTotal) <= 0 {
		return nil, ErrLiquidationMargin
	}

	return &Position{
		ID:                        NewPositionID(),
		Owner:                     params.Owner,
		Epoch:                     e.pool.Epoch(),
		NotionalSize:              notionalSize,
		DepositCollateral:         params.Collateral,
		ActiveCollateral:          activeCollateral,
		CounterCollateral:         counterCollateral,
		StopLossOverride:          params.StopLoss,
		NextLiquifundingAt:        now + int64(e.cfg.LiquifundingInterval.Seconds()),
		LastLiquifundingPriceOrd:  priceOrdinal,
		LastLiquifundingTimestamp: now,
		Margin:                    margin,
		CrankFeeReserve:           e.cfg.CrankFeeFlat,
	}, nil
}

// placeLimitOrderLocked stages params in the order book and indexes it by
// LimitTrigger; the caller already holds e.mu and has run admit/bound checks.
func (e *Engine) placeLimitOrderLocked(params OpenPositionParams) (PositionID, error) {
	id := NewPositionID()
	order := &PendingOrder{ID: id, Params: params, LimitPrice: *params.LimitTrigger, Expiry: params.LimitExpiry}
	e.orders.insert(order)
	if params.Direction == Long {
		e.triggers.LimitLongs.insert(id, order.LimitPrice)
	} else {
		e.triggers.LimitShorts.insert(id, order.LimitPrice)
	}
	e.emit(LimitOrderPlacedEvent{
		ID:        id,
		Owner:     ownerKey(params.Owner),
		Direction: directionString(params.Direction),
		Price:     order.LimitPrice.String(),
	})
	return id, nil
}

// CancelLimitOrder withdraws an unfilled limit order, the mirror of
// OpenPosition's deferred path.
func (e *Engine) CancelLimitOrder(owner crypto.Address, id PositionID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	order, ok := e.orders.get(id)
	if !ok {
		return ErrPositionNotFound
	}
	if ownerKey(order.Params.Owner) != ownerKey(owner) {
		return ErrNotPositionOwner
	}
	if order.Params.Direction == Long {
		e.triggers.LimitLongs.remove(id, order.LimitPrice)
	} else {
		e.triggers.LimitShorts.remove(id, order.LimitPrice)
	}
	e.orders.remove(id)
	e.emit(LimitOrderCancelledEvent{ID: id, Owner: ownerKey(owner)})
	return nil
}

func directionString(d Direction) string {
	if d == Long {
		return "Long"
	}
	return "Short"
}

// ClosePosition closes an open position at the trader's request, paying out
// active_collateral and unlocking counter_collateral (spec §4.1 "Close").
func (e *Engine) ClosePosition(owner crypto.Address, id PositionID) (Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return Decimal{}, err
	}
	pos, ok := e.positions.Get(id)
	if !ok {
		return Decimal{}, ErrPositionNotFound
	}
	if ownerKey(pos.Owner) != ownerKey(owner) {
		return Decimal{}, ErrNotPositionOwner
	}
	return e.closePosition(pos, CloseTrader)
}

func (e *Engine) closePosition(pos *Position, reason CloseReason) (Decimal, error) {
	if err := e.pool.UnlockLiquidity(pos.CounterCollateral); err != nil {
		return Decimal{}, err
	}
	payout := pos.ActiveCollateral
	e.positions.Close(pos.ID, reason)
	e.triggers.LongsByLiquidation.removeByID(pos.ID)
	e.triggers.ShortsByLiquidation.removeByID(pos.ID)
	e.triggers.LongsByTakeProfit.removeByID(pos.ID)
	e.triggers.ShortsByTakeProfit.removeByID(pos.ID)
	e.triggers.LongsByStopLoss.removeByID(pos.ID)
	e.triggers.ShortsByStopLoss.removeByID(pos.ID)
	e.emit(PositionCloseEvent{
		ID:            pos.ID,
		Owner:         ownerKey(pos.Owner),
		NotionalSize:  pos.NotionalSize.String(),
		Reason:        reason,
		PayoutToOwner: payout.String(),
		PoolReceived:  pos.CounterCollateral.String(),
	})
	return payout, nil
}

// DepositLiquidity mints LP/xLP shares for a liquidity provider (spec §4.4).
func (e *Engine) DepositLiquidity(holder crypto.Address, collateral Decimal, toXLP bool) (Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return Decimal{}, err
	}
	shares, err := e.pool.DepositLiquidity(holder, collateral, toXLP, e.pool.Epoch())
	if err != nil {
		return Decimal{}, err
	}
	e.emit(LpMintEvent{Holder: ownerKey(holder), Shares: shares.String(), ToXLP: toXLP})
	return shares, nil
}

// WithdrawLp burns LP shares for unlocked collateral.
func (e *Engine) WithdrawLp(holder crypto.Address, shares Decimal) (Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return Decimal{}, err
	}
	payout, err := e.pool.WithdrawLp(holder, shares)
	if err != nil {
		return Decimal{}, err
	}
	e.emit(LpBurnEvent{Holder: ownerKey(holder), Shares: shares.String(), Payout: payout.String()})
	if e.pool.ResetInProgress() {
		e.emit(BalanceResetStartedEvent{Epoch: e.pool.Epoch()})
	}
	return payout, nil
}

// StakeLp converts LP shares to xLP shares.
func (e *Engine) StakeLp(holder crypto.Address, shares Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	return e.pool.StakeLp(holder, shares)
}

// UnstakeXlp begins the linear xLP unwind.
func (e *Engine) UnstakeXlp(holder crypto.Address, shares Decimal, now int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	period := int64(e.cfg.UnstakePeriod.Seconds())
	if err := e.pool.UnstakeXlp(holder, shares, now, period); err != nil {
		return err
	}
	backing, err := e.pool.currentBacking()
	if err != nil {
		return err
	}
	amount, err := shares.Mul(backing, RoundDown)
	if err != nil {
		return err
	}
	e.emit(XlpUnstakeStartedEvent{Holder: ownerKey(holder), Amount: amount.String(), Start: now, End: now + period})
	return nil
}

// CollectUnstaked drains whatever has vested.
func (e *Engine) CollectUnstaked(holder crypto.Address, now int64) (Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return Decimal{}, err
	}
	amount, err := e.pool.CollectUnstaked(holder, now)
	if err != nil {
		return Decimal{}, err
	}
	if !amount.IsZero() {
		e.emit(XlpUnstakeCollectedEvent{Holder: ownerKey(holder), Amount: amount.String()})
	}
	return amount, nil
}

// CollectYield pays a holder's accrued yield.
func (e *Engine) CollectYield(holder crypto.Address) (Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return Decimal{}, err
	}
	amount, err := e.pool.CollectYield(holder)
	if err != nil {
		return Decimal{}, err
	}
	if !amount.IsZero() {
		e.emit(YieldAccruedEvent{Amount: amount.String()})
	}
	return amount, nil
}

// PositionQuery mirrors Position for the read-only surface, deliberately a
// distinct type so callers can't mutate engine state through a query result.
type PositionQuery struct {
	ID                PositionID
	Owner             string
	NotionalSize      string
	ActiveCollateral  string
	CounterCollateral string
	Closed            bool
}

func toQuery(p *Position) PositionQuery {
	return PositionQuery{
		ID:                p.ID,
		Owner:             ownerKey(p.Owner),
		NotionalSize:      p.NotionalSize.String(),
		ActiveCollateral:  p.ActiveCollateral.String(),
		CounterCollateral: p.CounterCollateral.String(),
		Closed:            p.Closed,
	}
}

// Position returns the current state of an open or closed position.
func (e *Engine) Position(id PositionID) (PositionQuery, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.positions.Get(id); ok {
		return toQuery(p), nil
	}
	if p, ok := e.positions.Closed(id); ok {
		return toQuery(p), nil
	}
	return PositionQuery{}, ErrPositionNotFound
}

// PositionsByOwner lists every position id ever opened by owner.
func (e *Engine) PositionsByOwner(owner crypto.Address) []PositionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.ByOwner(owner)
}

// Status reports the pool-wide figures used by the status query route.
type Status struct {
	TotalCollateral Decimal
	LockedLiquidity Decimal
	Utilization     Decimal
	OpenPositions   int
	Shutdown        bool
}

// Status returns the current pool/market summary.
func (e *Engine) Status() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	total, err := e.pool.TotalCollateral()
	if err != nil {
		return Status{}, err
	}
	util, err := e.pool.Utilization()
	if err != nil {
		return Status{}, err
	}
	return Status{
		TotalCollateral: total,
		LockedLiquidity: e.pool.lockedLiquidity,
		Utilization:     util,
		OpenPositions:   e.positions.OpenCount(),
		Shutdown:        e.shutdown,
	}, nil
}

// CrankWorkAvailable reports whether Crank has close-all, balance-reset,
// mark-price, liquifunding or unpend work (steps 1-5). It does not check
// whether a trigger or limit order is ready to fire at the latest price
// (step 6), so it can report false while a Crank call would still fire one.
func (e *Engine) CrankWorkAvailable(now int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		if _, ok := e.positions.AnyOpenID(); ok {
			return true
		}
	}
	if e.pool.ResetInProgress() {
		return true
	}
	if _, ok := e.prices.OldestIncomplete(); ok {
		return true
	}
	if _, ok := e.positions.DueForLiquifunding(now); ok {
		return true
	}
	if latest, ok := e.prices.Latest(); ok {
		if e.triggers.PendingBefore(latest.Ordinal) {
			return true
		}
	}
	return false
}

// LpInfoQuery is the public projection of one liquidity provider's position
// in the pool.
type LpInfoQuery struct {
	Holder         string
	LPShares       string
	XLPShares      string
	YieldWatermark string
	Epoch          uint64
	PendingUnstake []PendingUnstakeQuery
}

// PendingUnstakeQuery is the public projection of one in-flight xLP unstake
// request.
type PendingUnstakeQuery struct {
	Amount    string
	Start     int64
	End       int64
	Collected string
}

// LpInfo returns holder's current share balances and any in-flight unstake
// requests (spec §6 "LpInfo").
func (e *Engine) LpInfo(holder crypto.Address) LpInfoQuery {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.pool.holder(holder)
	pending := make([]PendingUnstakeQuery, len(h.Pending))
	for i, p := range h.Pending {
		pending[i] = PendingUnstakeQuery{
			Amount: p.Amount.String(), Start: p.Start, End: p.End, Collected: p.Collected.String(),
		}
	}
	return LpInfoQuery{
		Holder:         ownerKey(h.Address),
		LPShares:       h.LPShares.String(),
		XLPShares:      h.XLPShares.String(),
		YieldWatermark: h.YieldWatermark.String(),
		Epoch:          h.Epoch,
		PendingUnstake: pending,
	}
}

// PriceAt returns the price point at or before ts, for callers auditing
// what the engine saw at a given moment (spec §6 "PriceAt").
func (e *Engine) PriceAt(ts int64) (PricePoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prices.AtOrBefore(ts)
}

// PriceWillTrigger reports whether a hypothetical notional price would fire
// any registered liquidation, take-profit, stop-loss, or limit-order
// trigger, without mutating state (spec §6 "PriceWillTrigger"). It mirrors
// fireOneTrigger's priority scan but stops at the first match instead of
// firing it.
func (e *Engine) PriceWillTrigger(priceBase Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.triggers.ShortsByLiquidation.scanAscendingUpTo(priceBase)) > 0 {
		return true
	}
	if len(e.triggers.LongsByLiquidation.scanDescendingDownTo(priceBase)) > 0 {
		return true
	}
	if len(e.triggers.ShortsByStopLoss.scanAscendingUpTo(priceBase)) > 0 {
		return true
	}
	if len(e.triggers.LongsByStopLoss.scanDescendingDownTo(priceBase)) > 0 {
		return true
	}
	if len(e.triggers.LongsByTakeProfit.scanAscendingUpTo(priceBase)) > 0 {
		return true
	}
	if len(e.triggers.ShortsByTakeProfit.scanDescendingDownTo(priceBase)) > 0 {
		return true
	}
	if len(e.triggers.LimitLongs.scanAscendingUpTo(priceBase)) > 0 {
		return true
	}
	if len(e.triggers.LimitShorts.scanDescendingDownTo(priceBase)) > 0 {
		return true
	}
	return false
}
