package market

import (
	"marketd/crypto"
	nativecommon "marketd/native/common"
)

// admit runs the gatekeeper chain every user-mutating command passes
// through before touching any domain state (spec §4.7): kill-switch, then
// wind-down, then price/protocol staleness. Commands that need additional,
// command-specific checks (leverage bounds, slippage, post-mutation margin)
// layer them on after admit succeeds.
func (e *Engine) admit(now int64, surface string) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.shutdown {
		return &ErrShutdownActive{Surface: surface}
	}
	return e.checkStaleness(now)
}

// UpdateAction selects what UpdatePosition does: add or remove collateral,
// resize notional exposure to a target leverage, re-cap max gains, or set a
// stop-loss or take-profit override. Amount feeds the first four actions;
// Price feeds the stop-loss and take-profit actions.
type UpdateAction int

const (
	UpdateAddCollateral UpdateAction = iota
	UpdateRemoveCollateral
	UpdateResizeLeverage
	UpdateSetMaxGains
	UpdateSetStopLoss
	UpdateSetTakeProfit
)

// UpdatePositionRequest carries the parameters for one UpdatePosition call,
// including the slippage guard that a leverage resize enforces against its
// trading fee.
type UpdatePositionRequest struct {
	Owner       crypto.Address
	ID          PositionID
	Action      UpdateAction
	Amount      Decimal // AddCollateral/RemoveCollateral amount, TargetLeverage value, or SetMaxGains ratio
	MaxSlippage Decimal // ResizeLeverage only; fractional cap on trading fee / notional change; zero disables the check

	// Price carries the new bound for SetStopLoss or SetTakeProfit; nil
	// clears the override back to the computed default.
	Price *Decimal
}

// UpdatePosition resizes an open position's collateral or leverage (spec
// §4.1 "Update"). Every branch re-checks the liquidation-margin invariant
// before committing; on any failure the position is left untouched.
func (e *Engine) UpdatePosition(req UpdatePositionRequest, now int64) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.admit(now, "UpdatePosition"); err != nil {
		return nil, err
	}
	pos, ok := e.positions.Get(req.ID)
	if !ok {
		return nil, ErrPositionNotFound
	}
	if ownerKey(pos.Owner) != ownerKey(req.Owner) {
		return nil, ErrNotPositionOwner
	}

	// Force a liquifunding pass before applying the request so borrow/funding
	// accrued since the position's last pass is settled against the old
	// notional/collateral, not silently carried across the resize (spec
	// §4.5 "Update... Force a liquifunding first").
	if err := e.runLiquifunding(pos, now); err != nil {
		return nil, err
	}
	if pos.Closed {
		return nil, ErrPositionAlreadyClosed
	}

	switch req.Action {
	case UpdateAddCollateral:
		if err := e.updateAddCollateral(pos, req.Amount); err != nil {
			return nil, err
		}
	case UpdateRemoveCollateral:
		if err := e.updateRemoveCollateral(pos, req.Amount); err != nil {
			return nil, err
		}
	case UpdateResizeLeverage:
		if err := e.updateResizeLeverage(pos, req.Amount, req.MaxSlippage); err != nil {
			return nil, err
		}
	case UpdateSetMaxGains:
		if err := e.updateSetMaxGains(pos, req.Amount); err != nil {
			return nil, err
		}
	case UpdateSetStopLoss:
		pos.StopLossOverride = req.Price
	case UpdateSetTakeProfit:
		pos.TakeProfitOverride = req.Price
	}

	marginTotal, err := pos.Margin.Total()
	if err != nil {
		return nil, err
	}
	if pos.ActiveCollateral.Cmp(marginTotal) <= 0 {
		return nil, ErrLiquidationMargin
	}

	// Every action above can move the liquidation, take-profit, or stop-loss
	// price: drop the position's old trigger entries and re-insert at the
	// recomputed prices (testable property 4: triggers always match the
	// position's current direction/prices).
	if err := e.reregisterTriggers(pos); err != nil {
		return nil, err
	}

	e.emit(PositionUpdateEvent{ID: pos.ID, Action: updateActionString(req.Action)})
	return pos, nil
}

// reregisterTriggers drops pos's current liquidation/take-profit/stop-loss
// entries and stages fresh ones against the latest price, the same
// unpend-then-scan sequencing OpenPosition uses so a just-updated position
// never triggers against the price point it was updated on.
func (e *Engine) reregisterTriggers(pos *Position) error {
	e.triggers.LongsByLiquidation.removeByID(pos.ID)
	e.triggers.ShortsByLiquidation.removeByID(pos.ID)
	e.triggers.LongsByTakeProfit.removeByID(pos.ID)
	e.triggers.ShortsByTakeProfit.removeByID(pos.ID)
	e.triggers.LongsByStopLoss.removeByID(pos.ID)
	e.triggers.ShortsByStopLoss.removeByID(pos.ID)
	for at, staged := range e.triggers.unpend {
		kept := staged[:0]
		for _, en := range staged {
			if en.id != pos.ID {
				kept = append(kept, en)
			}
		}
		if len(kept) == 0 {
			delete(e.triggers.unpend, at)
		} else {
			e.triggers.unpend[at] = kept
		}
	}
	latest, ok := e.prices.Latest()
	if !ok {
		return ErrPriceTooOld
	}
	priceNotional, err := ToNotionalInCollateral(latest.PriceBase, e.cfg.Kind)
	if err != nil {
		return err
	}
	return e.registerTriggers(pos, priceNotional, latest.Ordinal+1)
}

// updateSetMaxGains re-caps counter_collateral at ActiveCollateral*ratio,
// never increasing it beyond what the position's notional already implies.
func (e *Engine) updateSetMaxGains(pos *Position, ratio Decimal) error {
	if ratio.IsZero() {
		return nil
	}
	defaultCounter, err := pos.NotionalSize.Abs().Sub(pos.ActiveCollateral)
	if err != nil {
		defaultCounter = Zero()
	}
	capped, err := pos.ActiveCollateral.Mul(ratio, RoundDown)
	if err != nil {
		return err
	}
	if capped.Cmp(defaultCounter) > 0 {
		capped = defaultCounter
	}
	if capped.Cmp(pos.CounterCollateral) < 0 {
		delta, err := pos.CounterCollateral.Sub(capped)
		if err != nil {
			return err
		}
		if err := e.pool.UnlockLiquidity(delta); err != nil {
			return err
		}
	} else if capped.Cmp(pos.CounterCollateral) > 0 {
		delta, err := capped.Sub(pos.CounterCollateral)
		if err != nil {
			return err
		}
		if err := e.pool.LockLiquidity(delta); err != nil {
			return err
		}
	}
	pos.CounterCollateral = capped
	return nil
}

func updateActionString(a UpdateAction) string {
	switch a {
	case UpdateAddCollateral:
		return "AddCollateral"
	case UpdateRemoveCollateral:
		return "RemoveCollateral"
	case UpdateResizeLeverage:
		return "ResizeLeverage"
	case UpdateSetMaxGains:
		return "SetMaxGains"
	case UpdateSetStopLoss:
		return "SetStopLoss"
	case UpdateSetTakeProfit:
		return "SetTakeProfit"
	default:
		return "Unknown"
	}
}

func (e *Engine) updateAddCollateral(pos *Position, amount Decimal) error {
	sum, err := pos.ActiveCollateral.Add(amount)
	if err != nil {
		return err
	}
	pos.ActiveCollateral = sum
	depositSum, err := pos.DepositCollateral.Add(amount)
	if err != nil {
		return err
	}
	pos.DepositCollateral = depositSum
	return nil
}

func (e *Engine) updateRemoveCollateral(pos *Position, amount Decimal) error {
	if amount.Cmp(pos.ActiveCollateral) > 0 {
		return ErrInsufficientCollateral
	}
	remaining, err := pos.ActiveCollateral.Sub(amount)
	if err != nil {
		return err
	}
	pos.ActiveCollateral = remaining
	return nil
}

// updateResizeLeverage changes notional exposure to target leverage against
// the position's current active collateral and resets counter collateral to
// the new notional minus active collateral. It charges the trading fee only on
// increases (of notional and of counter collateral) and rejects the resize
// when that fee divided by the notional change exceeds maxSlippage. It charges
// or credits no delta-neutrality fee and does not check the delta-neutrality cap.
func (e *Engine) updateResizeLeverage(pos *Position, targetLeverage, maxSlippage Decimal) error {
	if targetLeverage.Cmp(e.cfg.MinLeverage) < 0 || targetLeverage.Cmp(e.cfg.MaxLeverage) > 0 {
		return ErrLeverageOutOfRange
	}
	newNotionalMagnitude, err := pos.ActiveCollateral.Mul(targetLeverage, RoundDown)
	if err != nil {
		return err
	}
	oldMagnitude := pos.NotionalSize.Abs()
	var deltaMagnitude Decimal
	grew := newNotionalMagnitude.Cmp(oldMagnitude) >= 0
	if grew {
		deltaMagnitude, err = newNotionalMagnitude.Sub(oldMagnitude)
	} else {
		deltaMagnitude, err = oldMagnitude.Sub(newNotionalMagnitude)
	}
	if err != nil {
		return err
	}
	if deltaMagnitude.IsZero() {
		return nil
	}

	newCounterCollateral, err := newNotionalMagnitude.Sub(pos.ActiveCollateral)
	if err != nil {
		newCounterCollateral = Zero()
	}
	var counterDelta Decimal
	counterGrew := newCounterCollateral.Cmp(pos.CounterCollateral) >= 0
	if counterGrew {
		counterDelta, err = newCounterCollateral.Sub(pos.CounterCollateral)
	} else {
		counterDelta, err = pos.CounterCollateral.Sub(newCounterCollateral)
	}
	if err != nil {
		return err
	}

	feeNotional, feeCounter := Zero(), Zero()
	if grew {
		feeNotional = deltaMagnitude
	}
	if counterGrew {
		feeCounter = counterDelta
	}
	tradingFee, err := TradingFee(e.cfg, feeNotional, feeCounter)
	if err != nil {
		return err
	}
	if !maxSlippage.IsZero() {
		rate, err := tradingFee.Div(deltaMagnitude, RoundHalfEven)
		if err != nil {
			return err
		}
		if rate.Cmp(maxSlippage) > 0 {
			return ErrSlippageExceeded
		}
	}

	if grew {
		if err := e.pool.LockLiquidity(counterDelta); err != nil {
			return err
		}
	} else {
		if err := e.pool.UnlockLiquidity(counterDelta); err != nil {
			return err
		}
	}

	lpShare, protocolShare, err := SplitProtocolTax(tradingFee, e.cfg.ProtocolFeeBps)
	if err != nil {
		return err
	}
	if err := e.pool.AccrueYield(lpShare); err != nil {
		return err
	}
	sum, err := e.fees.ProtocolFees.Add(protocolShare)
	if err != nil {
		return err
	}
	e.fees.ProtocolFees = sum

	remaining, err := pos.ActiveCollateral.Sub(tradingFee)
	if err != nil {
		return ErrInsufficientCollateral
	}
	pos.ActiveCollateral = remaining
	pos.CounterCollateral = newCounterCollateral
	pos.NotionalSize = NewSigned(newNotionalMagnitude, pos.NotionalSize.Sign() < 0)
	return nil
}
