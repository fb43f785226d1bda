package market

// liquidationPrice solves active_collateral + notional*(price-priceOpen) ==
// margin.total for price, holding fees and everything else fixed at their
// open-time values (position.go's "weak reference, rebuilt on every state
// change" note — this is the estimate used only to seed the trigger index;
// Liquifund recomputes the real outcome against live state every pass).
func liquidationPrice(pos *Position, priceOpenNotional Decimal) (Decimal, bool, error) {
	if pos.NotionalSize.Sign() == 0 {
		return Decimal{}, false, nil
	}
	marginTotal, err := pos.Margin.Total()
	if err != nil {
		return Decimal{}, false, err
	}
	needed, err := NewSigned(marginTotal, false).Sub(NewSigned(pos.ActiveCollateral, false))
	if err != nil {
		return Decimal{}, false, err
	}
	priceDelta, err := needed.Div(pos.NotionalSize, RoundHalfEven)
	if err != nil {
		return Decimal{}, false, err
	}
	price, err := NewSigned(priceOpenNotional, false).Add(priceDelta)
	if err != nil {
		return Decimal{}, false, err
	}
	if price.Sign() < 0 {
		return Zero(), true, nil
	}
	return price.Abs(), true, nil
}

// takeProfitPrice solves counter_collateral - notional*(price-priceOpen) == 0
// for price, the boundary at which the position's upside is fully realized
// and CounterCollateral hits zero.
func takeProfitPrice(pos *Position, priceOpenNotional Decimal) (Decimal, bool, error) {
	if pos.NotionalSize.Sign() == 0 {
		return Decimal{}, false, nil
	}
	needed := NewSigned(pos.CounterCollateral, false)
	priceDelta, err := needed.Div(pos.NotionalSize, RoundHalfEven)
	if err != nil {
		return Decimal{}, false, err
	}
	price, err := NewSigned(priceOpenNotional, false).Add(priceDelta)
	if err != nil {
		return Decimal{}, false, err
	}
	if price.Sign() < 0 {
		return Zero(), true, nil
	}
	return price.Abs(), true, nil
}

// registerTriggers stages pos's liquidation, take-profit and (when set)
// stop-loss prices behind
// the next price-point ordinal, matching crank step 5's unpend-then-scan
// sequencing so a position never triggers against the same price point it
// was opened on.
func (e *Engine) registerTriggers(pos *Position, priceOpenNotional Decimal, untilOrdinal uint64) error {
	liqPrice, ok, err := liquidationPrice(pos, priceOpenNotional)
	if err != nil {
		return err
	}
	if ok {
		if pos.Direction() == Long {
			e.triggers.Unpend(untilOrdinal, unpendLongLiquidation, pos.ID, liqPrice)
		} else {
			e.triggers.Unpend(untilOrdinal, unpendShortLiquidation, pos.ID, liqPrice)
		}
	}
	var tpPrice Decimal
	ok = false
	if pos.TakeProfitOverride != nil {
		tpPrice, ok = *pos.TakeProfitOverride, true
	} else {
		tpPrice, ok, err = takeProfitPrice(pos, priceOpenNotional)
		if err != nil {
			return err
		}
	}
	if ok {
		if pos.Direction() == Long {
			e.triggers.Unpend(untilOrdinal, unpendLongTakeProfit, pos.ID, tpPrice)
		} else {
			e.triggers.Unpend(untilOrdinal, unpendShortTakeProfit, pos.ID, tpPrice)
		}
	}
	if pos.StopLossOverride != nil {
		if pos.Direction() == Long {
			e.triggers.Unpend(untilOrdinal, unpendLongStopLoss, pos.ID, *pos.StopLossOverride)
		} else {
			e.triggers.Unpend(untilOrdinal, unpendShortStopLoss, pos.ID, *pos.StopLossOverride)
		}
	}
	return nil
}
