package market

import (
	"lukechampine.com/blake3"

	nativecommon "marketd/native/common"
)

// CrankResult reports what one Crank call did, for the caller's reward
// accounting and event emission.
type CrankResult struct {
	Step      string
	Processed int
	Digest    [32]byte
}

// Crank executes exactly one unit of deterministic background work, chosen
// by the fixed seven-step priority order (spec §4.6): closing down positions
// under shutdown outranks everything else, then LP reset batches, then
// absorbing the oldest incomplete price point, then liquifunding the most
// overdue position, then releasing staged triggers, then firing a ready
// trigger or limit order, and only once nothing else qualifies does the
// engine report idle. Every branch is bounded by cfg.CrankBatchSize so a
// single call never does unbounded work.
func (e *Engine) Crank(now int64) (CrankResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return CrankResult{}, err
	}

	// Step 1: close-all wind-down takes priority over all other work.
	if e.shutdown {
		if id, ok := e.positions.AnyOpenID(); ok {
			pos, _ := e.positions.Get(id)
			if _, err := e.closePosition(pos, CloseWindDown); err != nil {
				return CrankResult{}, err
			}
			return e.finishCrank("close_all", 1)
		}
	}

	// Step 2: drain a balance-reset batch before anything depending on pool
	// shares runs again.
	if e.pool.ResetInProgress() {
		done, credits, err := e.pool.ResetBatch(e.cfg.CrankBatchSize)
		if err != nil {
			return CrankResult{}, err
		}
		for _, c := range credits {
			e.emit(YieldAccruedEvent{Amount: c.Amount.String()})
		}
		if done {
			e.emit(BalanceResetCompletedEvent{Epoch: e.pool.Epoch() - 1, Processed: len(credits)})
		}
		return e.finishCrank("reset_batch", len(credits))
	}

	// Step 3: absorb the oldest incomplete price point so later steps can
	// liquifund or trigger against it.
	if point, ok := e.prices.OldestIncomplete(); ok {
		e.prices.MarkComplete(point.Ordinal)
		return e.finishCrank("mark_price_complete", 1)
	}

	// Step 4: liquifund the single most overdue open position.
	if pos, ok := e.positions.DueForLiquifunding(now); ok {
		if err := e.runLiquifunding(pos, now); err != nil {
			return CrankResult{}, err
		}
		return e.finishCrank("liquifund", 1)
	}

	latest, havePrice := e.prices.Latest()

	// Step 5: release triggers staged behind a price ordinal that has now
	// arrived, so step 6 can see them.
	if havePrice && e.triggers.PendingBefore(latest.Ordinal) {
		e.triggers.UnpendBefore(latest.Ordinal)
		return e.finishCrank("unpend_triggers", 1)
	}

	// Step 6: fire one ready liquidation, take-profit, stop-loss, or limit
	// order (spec §4.6 step 6 scans both the close-trigger maps and the
	// limit-order maps).
	if havePrice {
		priceNotional, err := ToNotionalInCollateral(latest.PriceBase, e.cfg.Kind)
		if err != nil {
			return CrankResult{}, err
		}
		if fired, err := e.fireOneTrigger(priceNotional, now); err != nil {
			return CrankResult{}, err
		} else if fired {
			return e.finishCrank("fire_trigger", 1)
		}
	}

	// Step 7: nothing qualified; report idle without mutating anything.
	return e.finishCrank("idle", 0)
}

func (e *Engine) finishCrank(step string, processed int) (CrankResult, error) {
	digest := blake3.Sum256([]byte(step))
	e.emit(CrankExecEvent{ItemsProcessed: processed, Kind: step})
	return CrankResult{Step: step, Processed: processed, Digest: digest}, nil
}

// runLiquifunding is a no-op only when the position was already settled
// against the current latest price point at a time at or after now; when time
// has advanced at the same ordinal, it runs again and accrues for the elapsed
// interval.
func (e *Engine) runLiquifunding(pos *Position, now int64) error {
	if pos.Closed {
		return nil
	}
	last, ok := e.prices.ByOrdinal(pos.LastLiquifundingPriceOrd)
	if !ok {
		return ErrPriceTooOld
	}
	latest, ok := e.prices.Latest()
	if !ok {
		return ErrPriceTooOld
	}
	if latest.Ordinal == pos.LastLiquifundingPriceOrd && now <= pos.LastLiquifundingTimestamp {
		return nil
	}
	lastNotional, err := ToNotionalInCollateral(last.PriceBase, e.cfg.Kind)
	if err != nil {
		return err
	}
	nowNotional, err := ToNotionalInCollateral(latest.PriceBase, e.cfg.Kind)
	if err != nil {
		return err
	}
	net, err := e.netNotional()
	if err != nil {
		return err
	}
	elapsed := now - pos.LastLiquifundingTimestamp
	if elapsed < 0 {
		elapsed = 0
	}
	fundingExempt := false
	if oldest, ok := e.prices.OldestIncomplete(); ok {
		if now-oldest.Timestamp > int64(e.cfg.LiquifundingStaleBound.Seconds()) {
			fundingExempt = true
		}
	}
	result, err := Liquifund(e.cfg, e.pool, e.fees, pos, lastNotional, nowNotional, net, latest.Ordinal, now, elapsed, fundingExempt)
	if err != nil {
		return err
	}
	e.emit(LiquifundingEvent{
		ID:            pos.ID,
		BorrowCharged: result.BorrowCharged.String(),
		FundingPaid:   result.FundingPaid.String(),
		CrankCharged:  result.CrankCharged.String(),
		PriceGainLoss: result.PriceGainLoss.String(),
		Outcome:       liquifundingOutcomeString(result.Outcome),
	})
	switch result.Outcome {
	case LiquifundingLiquidate:
		_, err := e.closePosition(pos, CloseLiquidation)
		return err
	case LiquifundingTakeProfit:
		_, err := e.closePosition(pos, CloseTakeProfit)
		return err
	}
	return nil
}

func liquifundingOutcomeString(o LiquifundingOutcome) string {
	switch o {
	case LiquifundingLiquidate:
		return "Liquidate"
	case LiquifundingTakeProfit:
		return "TakeProfit"
	default:
		return "Continue"
	}
}

// fireOneTrigger scans every ordered index once, in a fixed priority order
// (liquidation outranks stop-loss outranks take-profit outranks limit
// orders, since a position that qualifies for more than one at the same
// price should close on the more conservative reason), and closes or opens
// the first position whose condition the current notional price satisfies.
// Returns false if nothing qualified.
func (e *Engine) fireOneTrigger(priceNotional Decimal, now int64) (bool, error) {
	if entries := e.triggers.ShortsByLiquidation.scanAscendingUpTo(priceNotional); len(entries) > 0 {
		return e.fireClose(entries[0], &e.triggers.ShortsByLiquidation, CloseLiquidation)
	}
	if entries := e.triggers.LongsByLiquidation.scanDescendingDownTo(priceNotional); len(entries) > 0 {
		return e.fireClose(entries[0], &e.triggers.LongsByLiquidation, CloseLiquidation)
	}
	if entries := e.triggers.ShortsByStopLoss.scanAscendingUpTo(priceNotional); len(entries) > 0 {
		return e.fireClose(entries[0], &e.triggers.ShortsByStopLoss, CloseStopLoss)
	}
	if entries := e.triggers.LongsByStopLoss.scanDescendingDownTo(priceNotional); len(entries) > 0 {
		return e.fireClose(entries[0], &e.triggers.LongsByStopLoss, CloseStopLoss)
	}
	if entries := e.triggers.LongsByTakeProfit.scanAscendingUpTo(priceNotional); len(entries) > 0 {
		return e.fireClose(entries[0], &e.triggers.LongsByTakeProfit, CloseTakeProfit)
	}
	if entries := e.triggers.ShortsByTakeProfit.scanDescendingDownTo(priceNotional); len(entries) > 0 {
		return e.fireClose(entries[0], &e.triggers.ShortsByTakeProfit, CloseTakeProfit)
	}
	if entries := e.triggers.LimitLongs.scanAscendingUpTo(priceNotional); len(entries) > 0 {
		return e.fireLimitOrder(entries[0], &e.triggers.LimitLongs, now)
	}
	if entries := e.triggers.LimitShorts.scanDescendingDownTo(priceNotional); len(entries) > 0 {
		return e.fireLimitOrder(entries[0], &e.triggers.LimitShorts, now)
	}
	return false, nil
}

func (e *Engine) fireClose(entry triggerEntry, idx *triggerIndex, reason CloseReason) (bool, error) {
	idx.remove(entry.ID, entry.Price)
	pos, ok := e.positions.Get(entry.ID)
	if !ok {
		return true, nil
	}
	if _, err := e.closePosition(pos, reason); err != nil {
		return false, err
	}
	return true, nil
}

// fireLimitOrder promotes a staged limit order into a live position once the
// notional price has crossed its trigger (spec §4.6 step 6).
func (e *Engine) fireLimitOrder(entry triggerEntry, idx *triggerIndex, now int64) (bool, error) {
	idx.remove(entry.ID, entry.Price)
	order, ok := e.orders.get(entry.ID)
	if !ok {
		return true, nil
	}
	e.orders.remove(entry.ID)
	if order.Expiry != nil && now > *order.Expiry {
		e.emit(LimitOrderCancelledEvent{ID: entry.ID, Owner: ownerKey(order.Params.Owner)})
		return true, nil
	}

	latest, ok := e.prices.Latest()
	if !ok {
		return false, ErrPriceTooOld
	}
	priceNotionalOpen, err := ToNotionalInCollateral(latest.PriceBase, e.cfg.Kind)
	if err != nil {
		return false, err
	}
	pos, err := e.buildPosition(order.Params, now, latest.Ordinal)
	if err != nil {
		// The order no longer admits (margin/slippage/DN-cap); drop it
		// rather than leave it retriggering the same failure every crank.
		e.emit(LimitOrderCancelledEvent{ID: entry.ID, Owner: ownerKey(order.Params.Owner)})
		return true, nil
	}
	e.positions.Insert(pos)
	if err := e.registerTriggers(pos, priceNotionalOpen, latest.Ordinal+1); err != nil {
		return false, err
	}
	e.emit(PositionOpenEvent{
		ID:                pos.ID,
		Owner:             ownerKey(pos.Owner),
		NotionalSize:      pos.NotionalSize.String(),
		DepositCollateral: pos.DepositCollateral.String(),
		CounterCollateral: pos.CounterCollateral.String(),
	})
	e.emit(LimitOrderFilledEvent{ID: entry.ID, PositionID: pos.ID})
	return true, nil
}
