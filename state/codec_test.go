package state

import (
	"testing"

	"marketd/crypto"
	"marketd/native/market"
)

func testConfig() market.Config {
	cfg := market.DefaultConfig()
	cfg.DeltaNeutrality.Sensitivity = market.Zero()
	cfg.DeltaNeutralityCap = market.Zero()
	return cfg
}

func decimalOf(t *testing.T, whole uint64) market.Decimal {
	t.Helper()
	d, err := market.NewDecimalFromUint64(whole)
	if err != nil {
		t.Fatalf("NewDecimalFromUint64(%d): %v", whole, err)
	}
	return d
}

func TestSaveAndLoadMarketRoundTrips(t *testing.T) {
	m := openTestManager(t)
	cfg := testConfig()
	e := market.NewEngine(cfg)
	if _, err := e.SetPrice(1000, decimalOf(t, 100), decimalOf(t, 100)); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	lp, err := crypto.NewAddress(crypto.TraderPrefix, make([]byte, 20))
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	if _, err := e.DepositLiquidity(lp, decimalOf(t, 1000), false); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}

	if err := m.SaveMarket("BTC-USD", e.Snapshot()); err != nil {
		t.Fatalf("SaveMarket: %v", err)
	}

	loaded, found, err := m.LoadMarket("BTC-USD", cfg)
	if err != nil {
		t.Fatalf("LoadMarket: %v", err)
	}
	if !found {
		t.Fatalf("expected a previously saved market to be found")
	}
	restored := market.LoadSnapshot(loaded)
	status, err := restored.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TotalCollateral.Cmp(decimalOf(t, 1000)) != 0 {
		t.Fatalf("expected the pool deposit preserved, got %s", status.TotalCollateral.String())
	}
}

func TestLoadMarketReportsMissing(t *testing.T) {
	m := openTestManager(t)
	_, found, err := m.LoadMarket("ETH-USD", testConfig())
	if err != nil {
		t.Fatalf("LoadMarket: %v", err)
	}
	if found {
		t.Fatalf("expected no snapshot for a market never saved")
	}
}

func TestRecordAndListKnownMarketSymbols(t *testing.T) {
	m := openTestManager(t)
	if err := m.RecordMarketSymbol("BTC-USD"); err != nil {
		t.Fatalf("RecordMarketSymbol: %v", err)
	}
	if err := m.RecordMarketSymbol("ETH-USD"); err != nil {
		t.Fatalf("RecordMarketSymbol: %v", err)
	}
	if err := m.RecordMarketSymbol("BTC-USD"); err != nil {
		t.Fatalf("RecordMarketSymbol (dup): %v", err)
	}

	symbols, err := m.KnownMarketSymbols()
	if err != nil {
		t.Fatalf("KnownMarketSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("expected 2 distinct symbols, got %v", symbols)
	}
	if symbols[0] != "BTC-USD" || symbols[1] != "ETH-USD" {
		t.Fatalf("expected insertion order preserved, got %v", symbols)
	}
}
