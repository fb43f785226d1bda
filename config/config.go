// Package config loads the marketd daemon's runtime configuration: listen
// addresses, the leveldb data directory, JWT/rate-limit settings for the
// command/query surface, and the path of the genesis file listing the
// markets to instantiate at startup. Markets' economic constants are loaded
// from that file by LoadGenesis in genesis.go (same package).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is marketd's top-level TOML configuration file.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	RPCAddress    string `toml:"RPCAddress"`
	DataDir       string `toml:"DataDir"`
	GenesisPath   string `toml:"GenesisPath"`

	JWTSecret       string `toml:"JWTSecret"`
	RateLimitPerMin int    `toml:"RateLimitPerMin"`

	CrankInterval  Duration `toml:"CrankInterval"`
	CrankRewardBps uint64   `toml:"CrankRewardBps"`
}

// Duration wraps time.Duration so it can round-trip through TOML as a plain
// string ("250ms", "1m") instead of an opaque integer of nanoseconds.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads the configuration at path, writing and returning a default
// configuration if the file does not yet exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = defaultRateLimitPerMin
	}
	if cfg.CrankInterval.Duration <= 0 {
		cfg.CrankInterval = Duration{defaultCrankInterval}
	}
	return cfg, nil
}

const (
	defaultRateLimitPerMin = 120
	defaultCrankInterval   = 500 * time.Millisecond
)

// createDefault writes and returns a default configuration file at path.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:   ":7331",
		RPCAddress:      ":8080",
		DataDir:         "./marketd-data",
		GenesisPath:     "./genesis.yaml",
		RateLimitPerMin: defaultRateLimitPerMin,
		CrankInterval:   Duration{defaultCrankInterval},
		CrankRewardBps:  50,
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
