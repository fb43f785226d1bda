package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"marketd/crypto"
	"marketd/native/market"
)

// GenesisFile is the human-edited YAML seed for every market marketd brings
// up at startup: its economic constants (spec §3) and, optionally, an
// initial LP deposit so a freshly bootstrapped market has liquidity to
// counter-party the first position.
type GenesisFile struct {
	Markets []MarketSeed `yaml:"markets"`
}

// MarketSeed mirrors market.Config field-for-field but in a YAML-friendly
// shape: rates as decimal strings (parsed exactly via big.Rat, never through
// a lossy float), durations as Go duration strings, addresses as bech32.
type MarketSeed struct {
	Symbol          string `yaml:"symbol"`
	CollateralAsset string `yaml:"collateralAsset"`
	Kind            string `yaml:"kind"` // "quote" or "base"

	MinLeverage string `yaml:"minLeverage"`
	MaxLeverage string `yaml:"maxLeverage"`
	MinDeposit  string `yaml:"minDeposit"`

	TradingFeeBps uint64 `yaml:"tradingFeeBps"`
	CrankFeeFlat  string `yaml:"crankFeeFlat"`

	BorrowRateBase   string      `yaml:"borrowRateBase"`
	BorrowRateSlopes []SlopeSeed `yaml:"borrowRateSlopes"`

	TargetUtilization         string `yaml:"targetUtilization"`
	ProtocolFeeBps            uint64 `yaml:"protocolFeeBps"`
	FundingSensitivity        string `yaml:"fundingSensitivity"`
	DeltaNeutralitySensitivity string `yaml:"deltaNeutralitySensitivity"`
	DeltaNeutralityCap        string `yaml:"deltaNeutralityCap"`

	LiquifundingInterval   string `yaml:"liquifundingInterval"`
	LiquifundingStaleBound string `yaml:"liquifundingStaleBound"`
	PriceStaleBound        string `yaml:"priceStaleBound"`
	UnstakePeriod          string `yaml:"unstakePeriod"`

	CrankBatchSize int `yaml:"crankBatchSize"`

	DeveloperFeeCollector string `yaml:"developerFeeCollector"`
	ProtocolFeeCollector  string `yaml:"protocolFeeCollector"`

	// InitialLpDeposit, if set, is credited to InitialLpDepositor as an LP
	// deposit the moment the market's engine is constructed, so the pool has
	// backing before the first OpenPosition.
	InitialLpDeposit   string `yaml:"initialLpDeposit"`
	InitialLpDepositor string `yaml:"initialLpDepositor"`
}

// SlopeSeed mirrors market.Slope.
type SlopeSeed struct {
	Kink string `yaml:"kink"`
	Rate string `yaml:"rate"`
}

// MarketSpec is one fully-parsed market ready to seed an Engine.
type MarketSpec struct {
	Symbol             string
	Config             market.Config
	InitialLpDeposit   market.Decimal
	InitialLpDepositor crypto.Address
}

// LoadGenesis reads and parses the YAML genesis file at path.
func LoadGenesis(path string) (*GenesisFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read genesis %s: %w", path, err)
	}
	var file GenesisFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse genesis %s: %w", path, err)
	}
	return &file, nil
}

// Build converts every MarketSeed into a market.Config plus its seed
// deposit, rejecting the whole file on the first malformed entry rather than
// starting a daemon with a half-parsed market.
func (f *GenesisFile) Build() ([]MarketSpec, error) {
	specs := make([]MarketSpec, 0, len(f.Markets))
	for _, seed := range f.Markets {
		spec, err := seed.build()
		if err != nil {
			return nil, fmt.Errorf("config: market %q: %w", seed.Symbol, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s MarketSeed) build() (MarketSpec, error) {
	var kind market.MarketKind
	switch s.Kind {
	case "quote", "":
		kind = market.CollateralIsQuote
	case "base":
		kind = market.CollateralIsBase
	default:
		return MarketSpec{}, fmt.Errorf("unknown kind %q", s.Kind)
	}

	minLeverage, err := parseDecimal(s.MinLeverage)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("minLeverage: %w", err)
	}
	maxLeverage, err := parseDecimal(s.MaxLeverage)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("maxLeverage: %w", err)
	}
	minDeposit, err := parseDecimal(s.MinDeposit)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("minDeposit: %w", err)
	}
	crankFeeFlat, err := parseDecimal(s.CrankFeeFlat)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("crankFeeFlat: %w", err)
	}
	borrowBase, err := parseDecimal(s.BorrowRateBase)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("borrowRateBase: %w", err)
	}
	slopes := make([]market.Slope, 0, len(s.BorrowRateSlopes))
	for i, sl := range s.BorrowRateSlopes {
		kink, err := parseDecimal(sl.Kink)
		if err != nil {
			return MarketSpec{}, fmt.Errorf("borrowRateSlopes[%d].kink: %w", i, err)
		}
		rate, err := parseDecimal(sl.Rate)
		if err != nil {
			return MarketSpec{}, fmt.Errorf("borrowRateSlopes[%d].rate: %w", i, err)
		}
		slopes = append(slopes, market.Slope{Kink: kink, Rate: rate})
	}
	targetUtilization, err := parseDecimal(s.TargetUtilization)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("targetUtilization: %w", err)
	}
	fundingSensitivity, err := parseDecimal(s.FundingSensitivity)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("fundingSensitivity: %w", err)
	}
	dnSensitivity, err := parseDecimal(s.DeltaNeutralitySensitivity)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("deltaNeutralitySensitivity: %w", err)
	}
	dnCap, err := parseDecimal(s.DeltaNeutralityCap)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("deltaNeutralityCap: %w", err)
	}

	liquifundingInterval, err := parseDuration(s.LiquifundingInterval, 24*time.Hour)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("liquifundingInterval: %w", err)
	}
	liquifundingStaleBound, err := parseDuration(s.LiquifundingStaleBound, 2*time.Hour)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("liquifundingStaleBound: %w", err)
	}
	priceStaleBound, err := parseDuration(s.PriceStaleBound, 60*time.Second)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("priceStaleBound: %w", err)
	}
	unstakePeriod, err := parseDuration(s.UnstakePeriod, 21*24*time.Hour)
	if err != nil {
		return MarketSpec{}, fmt.Errorf("unstakePeriod: %w", err)
	}

	batchSize := s.CrankBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var developerCollector, protocolCollector crypto.Address
	if s.DeveloperFeeCollector != "" {
		developerCollector, err = crypto.DecodeAddress(s.DeveloperFeeCollector)
		if err != nil {
			return MarketSpec{}, fmt.Errorf("developerFeeCollector: %w", err)
		}
	}
	if s.ProtocolFeeCollector != "" {
		protocolCollector, err = crypto.DecodeAddress(s.ProtocolFeeCollector)
		if err != nil {
			return MarketSpec{}, fmt.Errorf("protocolFeeCollector: %w", err)
		}
	}

	cfg := market.Config{
		CollateralAsset:        s.CollateralAsset,
		Kind:                   kind,
		MinLeverage:            minLeverage,
		MaxLeverage:            maxLeverage,
		MinDeposit:             minDeposit,
		TradingFeeBps:          s.TradingFeeBps,
		CrankFeeFlat:           crankFeeFlat,
		BorrowRate:             market.RateCurve{Base: borrowBase, Slopes: slopes},
		TargetUtilization:      targetUtilization,
		ProtocolFeeBps:         s.ProtocolFeeBps,
		FundingSensitivity:     fundingSensitivity,
		DeltaNeutrality:        market.DeltaNeutralityCurve{Sensitivity: dnSensitivity},
		DeltaNeutralityCap:     dnCap,
		LiquifundingInterval:   liquifundingInterval,
		LiquifundingStaleBound: liquifundingStaleBound,
		PriceStaleBound:        priceStaleBound,
		UnstakePeriod:          unstakePeriod,
		CrankBatchSize:         batchSize,
		DeveloperFeeCollector:  developerCollector,
		ProtocolFeeCollector:   protocolCollector,
	}

	spec := MarketSpec{Symbol: s.Symbol, Config: cfg}
	if s.InitialLpDeposit != "" {
		deposit, err := parseDecimal(s.InitialLpDeposit)
		if err != nil {
			return MarketSpec{}, fmt.Errorf("initialLpDeposit: %w", err)
		}
		spec.InitialLpDeposit = deposit
		if s.InitialLpDepositor != "" {
			depositor, err := crypto.DecodeAddress(s.InitialLpDepositor)
			if err != nil {
				return MarketSpec{}, fmt.Errorf("initialLpDepositor: %w", err)
			}
			spec.InitialLpDepositor = depositor
		}
	}
	return spec, nil
}

func parseDecimal(s string) (market.Decimal, error) {
	if s == "" {
		return market.Zero(), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return market.Decimal{}, fmt.Errorf("invalid decimal %q", s)
	}
	return market.DecimalFromRat(r)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
