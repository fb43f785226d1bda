package main

import (
	"os"
	"path/filepath"
	"testing"

	"marketd/config"
	"marketd/crypto"
	"marketd/native/market"
	"marketd/state"
)

func testSpec(t *testing.T, symbol string) config.MarketSpec {
	t.Helper()
	cfg := market.DefaultConfig()
	cfg.DeltaNeutrality.Sensitivity = market.Zero()
	cfg.DeltaNeutralityCap = market.Zero()
	return config.MarketSpec{Symbol: symbol, Config: cfg}
}

func TestLoadOrSeedMarketSeedsFreshEngineWithInitialDeposit(t *testing.T) {
	dir := t.TempDir()
	mgr, err := state.Open(filepath.Join(dir, "state.leveldb"))
	if err != nil {
		t.Fatalf("open state manager: %v", err)
	}
	defer mgr.Close()

	depositor := crypto.MustNewAddress(crypto.TraderPrefix, bytesFilledN(20, 0xAA))
	spec := testSpec(t, "BTC-USD")
	spec.InitialLpDepositor = depositor
	spec.InitialLpDeposit = market.NewDecimalFromUint64(1000)

	engine, archive, err := loadOrSeedMarket(mgr, spec, dir)
	if err != nil {
		t.Fatalf("loadOrSeedMarket: %v", err)
	}
	defer archive.Close()

	status, err := engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.TotalCollateral.IsZero() {
		t.Fatalf("expected the initial lp deposit to be reflected in pool collateral")
	}

	if _, err := os.Stat(filepath.Join(dir, "btc-usd.archive.sqlite")); err != nil {
		t.Fatalf("expected the per-symbol archive to be created: %v", err)
	}
}

func TestLoadOrSeedMarketSkipsSeedWithoutDepositor(t *testing.T) {
	dir := t.TempDir()
	mgr, err := state.Open(filepath.Join(dir, "state.leveldb"))
	if err != nil {
		t.Fatalf("open state manager: %v", err)
	}
	defer mgr.Close()

	spec := testSpec(t, "ETH-USD")

	engine, archive, err := loadOrSeedMarket(mgr, spec, dir)
	if err != nil {
		t.Fatalf("loadOrSeedMarket: %v", err)
	}
	defer archive.Close()

	status, err := engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.TotalCollateral.IsZero() {
		t.Fatalf("expected no lp deposit without a configured depositor")
	}
}

func TestLoadOrSeedMarketResumesFromPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()
	mgr, err := state.Open(filepath.Join(dir, "state.leveldb"))
	if err != nil {
		t.Fatalf("open state manager: %v", err)
	}
	defer mgr.Close()

	spec := testSpec(t, "BTC-USD")

	depositor := crypto.MustNewAddress(crypto.TraderPrefix, bytesFilledN(20, 0xBB))
	seeded := market.NewEngine(spec.Config)
	if _, err := seeded.DepositLiquidity(depositor, market.NewDecimalFromUint64(2500), false); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := mgr.SaveMarket(spec.Symbol, seeded.Snapshot()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// A non-zero InitialLpDeposit here must be ignored: resuming from a
	// persisted snapshot must never double-seed liquidity.
	spec.InitialLpDepositor = crypto.MustNewAddress(crypto.TraderPrefix, bytesFilledN(20, 0xCC))
	spec.InitialLpDeposit = market.NewDecimalFromUint64(9999)

	engine, archive, err := loadOrSeedMarket(mgr, spec, dir)
	if err != nil {
		t.Fatalf("loadOrSeedMarket: %v", err)
	}
	defer archive.Close()

	status, err := engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := market.NewDecimalFromUint64(2500)
	if status.TotalCollateral.Cmp(want) != 0 {
		t.Fatalf("expected resumed snapshot collateral %s, got %s", want, status.TotalCollateral)
	}
}

func TestResolveJWTSecretPrefersEnvOverride(t *testing.T) {
	t.Setenv(jwtSecretEnv, "from-env")
	secret, err := resolveJWTSecret("from-config")
	if err != nil {
		t.Fatalf("resolveJWTSecret: %v", err)
	}
	if secret != "from-env" {
		t.Fatalf("expected env var to take precedence, got %q", secret)
	}
}

func TestResolveJWTSecretFallsBackToConfiguredValue(t *testing.T) {
	t.Setenv(jwtSecretEnv, "")
	os.Unsetenv(jwtSecretEnv)
	secret, err := resolveJWTSecret("from-config")
	if err != nil {
		t.Fatalf("resolveJWTSecret: %v", err)
	}
	if secret != "from-config" {
		t.Fatalf("expected the configured secret, got %q", secret)
	}
}

func TestResolveJWTSecretDisablesAuthWhenNonInteractive(t *testing.T) {
	os.Unsetenv(jwtSecretEnv)
	// go test's stdin is not a terminal, so this must short-circuit to an
	// empty secret rather than blocking on term.ReadPassword.
	secret, err := resolveJWTSecret("")
	if err != nil {
		t.Fatalf("resolveJWTSecret: %v", err)
	}
	if secret != "" {
		t.Fatalf("expected an empty secret when non-interactive and unconfigured, got %q", secret)
	}
}

func bytesFilledN(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}
