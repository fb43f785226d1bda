package market

import "testing"

func TestLiquifundNoElapsedTimeOnlyChargesCrankFee(t *testing.T) {
	cfg := DefaultConfig()
	pool := NewLiquidityPool()
	fees := NewFeeAccrual()
	pos := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), false),
		ActiveCollateral:  decimalOf(t, 100),
		CounterCollateral: decimalOf(t, 50),
		CrankFeeReserve:   decimalOf(t, 1),
		Margin:            marginOf(t, 20),
	}
	price := decimalOf(t, 100)
	netNotional := ZeroSigned()

	result, err := Liquifund(cfg, pool, fees, pos, price, price, netNotional, 5, 1000, 0, false)
	if err != nil {
		t.Fatalf("Liquifund: %v", err)
	}
	if !result.BorrowCharged.IsZero() {
		t.Fatalf("expected no borrow charge with zero elapsed time, got %s", result.BorrowCharged.String())
	}
	if result.FundingPaid.Sign() != 0 {
		t.Fatalf("expected no funding with zero elapsed time, got sign=%d", result.FundingPaid.Sign())
	}
	if result.CrankCharged.Cmp(decimalOf(t, 1)) != 0 {
		t.Fatalf("expected the full crank fee reserve charged, got %s", result.CrankCharged.String())
	}
	if pos.ActiveCollateral.Cmp(decimalOf(t, 99)) != 0 {
		t.Fatalf("expected active collateral 99 after the crank fee, got %s", pos.ActiveCollateral.String())
	}
	if result.Outcome != LiquifundingContinue {
		t.Fatalf("expected LiquifundingContinue, got %v", result.Outcome)
	}
	wantNext := int64(1000) + int64(cfg.LiquifundingInterval.Seconds())
	if pos.NextLiquifundingAt != wantNext {
		t.Fatalf("expected NextLiquifundingAt %d, got %d", wantNext, pos.NextLiquifundingAt)
	}
	if pos.LastLiquifundingPriceOrd != 5 {
		t.Fatalf("expected LastLiquifundingPriceOrd 5, got %d", pos.LastLiquifundingPriceOrd)
	}
}

func TestLiquifundPriceGainCapsAtCounterCollateralAndTakesProfit(t *testing.T) {
	cfg := DefaultConfig()
	pool := NewLiquidityPool()
	fees := NewFeeAccrual()
	pos := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), false),
		ActiveCollateral:  decimalOf(t, 100),
		CounterCollateral: decimalOf(t, 50),
		Margin:            marginOf(t, 20),
	}
	priceLast := decimalOf(t, 100)
	priceNow := decimalOf(t, 110)

	result, err := Liquifund(cfg, pool, fees, pos, priceLast, priceNow, ZeroSigned(), 1, 1000, 0, false)
	if err != nil {
		t.Fatalf("Liquifund: %v", err)
	}
	if result.PriceGainLoss.Sign() <= 0 {
		t.Fatalf("expected a price gain, got sign=%d", result.PriceGainLoss.Sign())
	}
	if !pos.CounterCollateral.IsZero() {
		t.Fatalf("expected counter collateral drained to zero by the capped gain, got %s", pos.CounterCollateral.String())
	}
	if pos.ActiveCollateral.Cmp(decimalOf(t, 150)) != 0 {
		t.Fatalf("expected active collateral 150 after a 50-capped gain, got %s", pos.ActiveCollateral.String())
	}
	if result.Outcome != LiquifundingTakeProfit {
		t.Fatalf("expected LiquifundingTakeProfit once counter collateral hits zero, got %v", result.Outcome)
	}
}

func TestLiquifundPriceLossLiquidates(t *testing.T) {
	cfg := DefaultConfig()
	pool := NewLiquidityPool()
	fees := NewFeeAccrual()
	pos := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), false),
		ActiveCollateral:  decimalOf(t, 100),
		CounterCollateral: decimalOf(t, 50),
		Margin:            marginOf(t, 20),
	}
	priceLast := decimalOf(t, 100)
	priceNow := decimalOf(t, 80)

	result, err := Liquifund(cfg, pool, fees, pos, priceLast, priceNow, ZeroSigned(), 1, 1000, 0, false)
	if err != nil {
		t.Fatalf("Liquifund: %v", err)
	}
	if result.PriceGainLoss.Sign() >= 0 {
		t.Fatalf("expected a price loss, got sign=%d", result.PriceGainLoss.Sign())
	}
	if !pos.ActiveCollateral.IsZero() {
		t.Fatalf("expected active collateral drained to zero by the capped loss, got %s", pos.ActiveCollateral.String())
	}
	if result.Outcome != LiquifundingLiquidate {
		t.Fatalf("expected LiquifundingLiquidate once active collateral falls to the margin floor, got %v", result.Outcome)
	}
}

func TestLiquifundFundingExemptSkipsFundingLeg(t *testing.T) {
	cfg := DefaultConfig()
	pool := NewLiquidityPool()
	if _, err := pool.DepositLiquidity(testHolder(t, 1), decimalOf(t, 1000), false, 0); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	if err := pool.LockLiquidity(decimalOf(t, 500)); err != nil {
		t.Fatalf("LockLiquidity: %v", err)
	}
	fees := NewFeeAccrual()
	pos := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), false),
		ActiveCollateral:  decimalOf(t, 100),
		CounterCollateral: decimalOf(t, 50),
		Margin:            marginOf(t, 20),
	}
	price := decimalOf(t, 100)
	net := NewSigned(decimalOf(t, 100), false)

	result, err := Liquifund(cfg, pool, fees, pos, price, price, net, 1, 1000, 1000, true)
	if err != nil {
		t.Fatalf("Liquifund: %v", err)
	}
	if result.FundingPaid.Sign() != 0 {
		t.Fatalf("expected funding to be skipped while funding-exempt, got sign=%d", result.FundingPaid.Sign())
	}
}

func TestLiquifundChargesBorrowIntoPoolYield(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BorrowRate = RateCurve{Base: decimalOf(t, 1)}
	pool := NewLiquidityPool()
	lp := testHolder(t, 1)
	if _, err := pool.DepositLiquidity(lp, decimalOf(t, 1000), false, 0); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	fees := NewFeeAccrual()
	pos := &Position{
		NotionalSize:      NewSigned(decimalOf(t, 10), false),
		ActiveCollateral:  decimalOf(t, 100),
		CounterCollateral: decimalOf(t, 50),
		Margin:            marginOf(t, 1),
	}
	price := decimalOf(t, 100)

	result, err := Liquifund(cfg, pool, fees, pos, price, price, ZeroSigned(), 1, 1000, 1000, false)
	if err != nil {
		t.Fatalf("Liquifund: %v", err)
	}
	if result.BorrowCharged.IsZero() {
		t.Fatalf("expected a nonzero borrow charge")
	}
	if fees.ProtocolFees.IsZero() {
		t.Fatalf("expected a nonzero protocol fee share from the borrow charge")
	}
	yieldOwed, err := pool.CollectYield(lp)
	if err != nil {
		t.Fatalf("CollectYield: %v", err)
	}
	if yieldOwed.IsZero() {
		t.Fatalf("expected the lp share of the borrow fee to have accrued into pool yield")
	}
}
