package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":7331" {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddress)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("expected default rpc address, got %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "./marketd-data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
	if cfg.GenesisPath != "./genesis.yaml" {
		t.Fatalf("expected default genesis path, got %q", cfg.GenesisPath)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("expected default rate limit 120, got %d", cfg.RateLimitPerMin)
	}
	if cfg.CrankInterval.Duration != 500*time.Millisecond {
		t.Fatalf("expected default crank interval 500ms, got %s", cfg.CrankInterval.Duration)
	}
	if cfg.CrankRewardBps != 50 {
		t.Fatalf("expected default crank reward bps 50, got %d", cfg.CrankRewardBps)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected createDefault to have written %s: %v", path, err)
	}
}

func TestLoadDecodesExistingFile(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9000"
RPCAddress = ":9001"
DataDir = "/var/lib/marketd"
GenesisPath = "/etc/marketd/genesis.yaml"
JWTSecret = "s3cr3t"
RateLimitPerMin = 30
CrankInterval = "250ms"
CrankRewardBps = 25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.RPCAddress != ":9001" {
		t.Fatalf("unexpected rpc address: %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "/var/lib/marketd" {
		t.Fatalf("unexpected data dir: %q", cfg.DataDir)
	}
	if cfg.GenesisPath != "/etc/marketd/genesis.yaml" {
		t.Fatalf("unexpected genesis path: %q", cfg.GenesisPath)
	}
	if cfg.JWTSecret != "s3cr3t" {
		t.Fatalf("unexpected jwt secret: %q", cfg.JWTSecret)
	}
	if cfg.RateLimitPerMin != 30 {
		t.Fatalf("unexpected rate limit: %d", cfg.RateLimitPerMin)
	}
	if cfg.CrankInterval.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected crank interval: %s", cfg.CrankInterval.Duration)
	}
	if cfg.CrankRewardBps != 25 {
		t.Fatalf("unexpected crank reward bps: %d", cfg.CrankRewardBps)
	}
}

func TestLoadFallsBackOnNonPositiveOverrides(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9000"
RPCAddress = ":9001"
DataDir = "/var/lib/marketd"
GenesisPath = "/etc/marketd/genesis.yaml"
RateLimitPerMin = 0
CrankInterval = "0s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("expected the zero rate limit replaced by the default, got %d", cfg.RateLimitPerMin)
	}
	if cfg.CrankInterval.Duration != 500*time.Millisecond {
		t.Fatalf("expected the zero crank interval replaced by the default, got %s", cfg.CrankInterval.Duration)
	}
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := writeConfig(t, `this is not = [valid toml`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error decoding malformed toml")
	}
}

func TestDurationTextRoundTrip(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "1m30s" {
		t.Fatalf("expected MarshalText to use time.Duration.String, got %q", text)
	}

	var round Duration
	if err := round.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if round.Duration != d.Duration {
		t.Fatalf("expected the round trip to preserve 90s, got %s", round.Duration)
	}
}

func TestDurationUnmarshalTextRejectsGarbage(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Fatal("expected an error unmarshalling an invalid duration string")
	}
}
