package market

import (
	"testing"

	"marketd/crypto"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DeltaNeutrality = DeltaNeutralityCurve{Sensitivity: Zero()}
	cfg.DeltaNeutralityCap = Zero()
	return cfg
}

func newTestEngine(t *testing.T, ts int64, price uint64) *Engine {
	t.Helper()
	e := NewEngine(testConfig())
	if _, err := e.SetPrice(ts, decimalOf(t, price), decimalOf(t, price)); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	return e
}

func openTestPosition(t *testing.T, e *Engine, owner crypto.Address, now int64) (*Position, PositionID) {
	t.Helper()
	pos, id, err := e.OpenPosition(OpenPositionParams{
		Owner:      owner,
		Collateral: decimalOf(t, 100),
		Leverage:   decimalOf(t, 2),
		Direction:  Long,
	}, now)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	return pos, id
}

func TestOpenPositionChargesFeesAndLocksCounterCollateral(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}

	pos, _ := openTestPosition(t, e, owner, 1000)
	if pos.NotionalSize.Sign() <= 0 || pos.NotionalSize.Abs().Cmp(decimalOf(t, 200)) != 0 {
		t.Fatalf("expected notional +200, got %s", pos.NotionalSize.String())
	}
	if pos.CounterCollateral.Cmp(decimalOf(t, 100)) != 0 {
		t.Fatalf("expected counter collateral 100, got %s", pos.CounterCollateral.String())
	}
	if pos.ActiveCollateral.Cmp(decimalOf(t, 97)) != 0 {
		t.Fatalf("expected active collateral 97 after a 3-unit trading fee, got %s", pos.ActiveCollateral.String())
	}

	status, err := e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.OpenPositions != 1 {
		t.Fatalf("expected 1 open position, got %d", status.OpenPositions)
	}
	if status.LockedLiquidity.Cmp(decimalOf(t, 100)) != 0 {
		t.Fatalf("expected locked liquidity 100, got %s", status.LockedLiquidity.String())
	}
}

func TestOpenPositionRejectsBelowMinDepositAndBadLeverage(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	owner := testHolder(t, 1)
	_, _, err := e.OpenPosition(OpenPositionParams{Owner: owner, Collateral: decimalOf(t, 1), Leverage: decimalOf(t, 2), Direction: Long}, 1000)
	if err != ErrBelowMinDeposit {
		t.Fatalf("expected ErrBelowMinDeposit, got %v", err)
	}
	_, _, err = e.OpenPosition(OpenPositionParams{Owner: owner, Collateral: decimalOf(t, 100), Leverage: decimalOf(t, 1000), Direction: Long}, 1000)
	if err != ErrLeverageOutOfRange {
		t.Fatalf("expected ErrLeverageOutOfRange, got %v", err)
	}
}

func TestClosePositionPaysOutAndUnlocksLiquidity(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	_, id := openTestPosition(t, e, owner, 1000)

	payout, err := e.ClosePosition(owner, id)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if payout.Cmp(decimalOf(t, 97)) != 0 {
		t.Fatalf("expected payout 97, got %s", payout.String())
	}
	status, err := e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.OpenPositions != 0 {
		t.Fatalf("expected 0 open positions after close, got %d", status.OpenPositions)
	}
	if !status.LockedLiquidity.IsZero() {
		t.Fatalf("expected locked liquidity released back to zero, got %s", status.LockedLiquidity.String())
	}

	query, err := e.Position(id)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if !query.Closed {
		t.Fatalf("expected the position query to report Closed")
	}
}

func TestClosePositionRejectsWrongOwner(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)
	intruder := testHolder(t, 3)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	_, id := openTestPosition(t, e, owner, 1000)

	if _, err := e.ClosePosition(intruder, id); err != ErrNotPositionOwner {
		t.Fatalf("expected ErrNotPositionOwner, got %v", err)
	}
}

func TestUpdatePositionAddCollateralForcesLiquifundingFirst(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	_, id := openTestPosition(t, e, owner, 1000)

	updated, err := e.UpdatePosition(UpdatePositionRequest{
		Owner:  owner,
		ID:     id,
		Action: UpdateAddCollateral,
		Amount: decimalOf(t, 50),
	}, 1000)
	if err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if updated.ActiveCollateral.Cmp(decimalOf(t, 147)) != 0 {
		t.Fatalf("expected active collateral 147 after adding 50, got %s", updated.ActiveCollateral.String())
	}
	if updated.DepositCollateral.Cmp(decimalOf(t, 150)) != 0 {
		t.Fatalf("expected deposit collateral 150, got %s", updated.DepositCollateral.String())
	}
}

func TestUpdatePositionRemoveCollateralRejectsExcess(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	_, id := openTestPosition(t, e, owner, 1000)

	_, err := e.UpdatePosition(UpdatePositionRequest{
		Owner:  owner,
		ID:     id,
		Action: UpdateRemoveCollateral,
		Amount: decimalOf(t, 1000),
	}, 1000)
	if err != ErrInsufficientCollateral {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestCancelLimitOrderRemovesStagedTrigger(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	owner := testHolder(t, 1)
	limit := decimalOf(t, 80)
	_, id, err := e.OpenPosition(OpenPositionParams{
		Owner:        owner,
		Collateral:   decimalOf(t, 100),
		Leverage:     decimalOf(t, 2),
		Direction:    Long,
		LimitTrigger: &limit,
	}, 1000)
	if err != nil {
		t.Fatalf("OpenPosition (limit): %v", err)
	}
	if len(e.orders.pending) != 1 {
		t.Fatalf("expected one staged limit order, got %d", len(e.orders.pending))
	}
	if err := e.CancelLimitOrder(owner, id); err != nil {
		t.Fatalf("CancelLimitOrder: %v", err)
	}
	if len(e.orders.pending) != 0 {
		t.Fatalf("expected the limit order removed after cancellation, got %d", len(e.orders.pending))
	}
}

func TestCrankStepOrderMarksPriceThenUnpendsThenLiquidates(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)

	result, err := e.Crank(1000)
	if err != nil {
		t.Fatalf("Crank (mark price complete): %v", err)
	}
	if result.Step != "mark_price_complete" {
		t.Fatalf("expected mark_price_complete, got %s", result.Step)
	}

	result, err = e.Crank(1000)
	if err != nil {
		t.Fatalf("Crank (idle, no positions): %v", err)
	}
	if result.Step != "idle" {
		t.Fatalf("expected idle with no positions or pending work, got %s", result.Step)
	}

	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	openTestPosition(t, e, owner, 1000)

	result, err = e.Crank(1000)
	if err != nil {
		t.Fatalf("Crank (idle after open): %v", err)
	}
	if result.Step != "idle" {
		t.Fatalf("expected idle right after opening (triggers staged behind the next price point), got %s", result.Step)
	}

	if _, err := e.SetPrice(2000, decimalOf(t, 90), decimalOf(t, 90)); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}

	result, err = e.Crank(2000)
	if err != nil {
		t.Fatalf("Crank (mark second price complete): %v", err)
	}
	if result.Step != "mark_price_complete" {
		t.Fatalf("expected mark_price_complete for the second point, got %s", result.Step)
	}

	result, err = e.Crank(2000)
	if err != nil {
		t.Fatalf("Crank (unpend triggers): %v", err)
	}
	if result.Step != "unpend_triggers" {
		t.Fatalf("expected unpend_triggers, got %s", result.Step)
	}

	result, err = e.Crank(2000)
	if err != nil {
		t.Fatalf("Crank (fire trigger): %v", err)
	}
	if result.Step != "fire_trigger" {
		t.Fatalf("expected fire_trigger once the dropped price crosses the liquidation line, got %s", result.Step)
	}

	status, err := e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.OpenPositions != 0 {
		t.Fatalf("expected the position liquidated by the crank, got %d still open", status.OpenPositions)
	}
}

func TestCrankWorkAvailableReflectsStagedWork(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	if !e.CrankWorkAvailable(1000) {
		t.Fatalf("expected work available: the fresh price point is still incomplete")
	}
	if _, err := e.Crank(1000); err != nil {
		t.Fatalf("Crank: %v", err)
	}
	if e.CrankWorkAvailable(1000) {
		t.Fatalf("expected no work available once the only price point is marked complete")
	}
}

func TestPriceWillTriggerMirrorsFireOneTrigger(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	openTestPosition(t, e, owner, 1000)

	if e.PriceWillTrigger(decimalOf(t, 90)) {
		t.Fatalf("expected no trigger yet: the position's triggers are still staged behind the next price point")
	}

	if _, err := e.SetPrice(2000, decimalOf(t, 90), decimalOf(t, 90)); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if _, err := e.Crank(2000); err != nil { // mark_price_complete
		t.Fatalf("Crank: %v", err)
	}
	if _, err := e.Crank(2000); err != nil { // unpend_triggers
		t.Fatalf("Crank: %v", err)
	}
	if !e.PriceWillTrigger(decimalOf(t, 90)) {
		t.Fatalf("expected a liquidation trigger to be live once unpended at a dropped price")
	}
}

func TestLpInfoReflectsDepositedShares(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 100), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	info := e.LpInfo(lp)
	if info.LPShares != decimalOf(t, 100).String() {
		t.Fatalf("expected 100 LP shares, got %s", info.LPShares)
	}
	if info.Epoch != 0 {
		t.Fatalf("expected epoch 0, got %d", info.Epoch)
	}
}

func TestSnapshotRoundTripPreservesOpenPosition(t *testing.T) {
	e := newTestEngine(t, 1000, 100)
	lp := testHolder(t, 1)
	owner := testHolder(t, 2)
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	_, id := openTestPosition(t, e, owner, 1000)

	snap := e.Snapshot()
	resumed := LoadSnapshot(snap)

	query, err := resumed.Position(id)
	if err != nil {
		t.Fatalf("Position after resume: %v", err)
	}
	if query.ActiveCollateral != decimalOf(t, 97).String() {
		t.Fatalf("expected active collateral to survive the round trip, got %s", query.ActiveCollateral)
	}
	status, err := resumed.Status()
	if err != nil {
		t.Fatalf("Status after resume: %v", err)
	}
	if status.OpenPositions != 1 {
		t.Fatalf("expected 1 open position to survive the round trip, got %d", status.OpenPositions)
	}
}
