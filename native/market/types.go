package market

import (
	"time"

	"marketd/crypto"
)

// RateCurve computes a rate as a function of utilization, the shape the
// source leaves as an injected function per spec §9 (Open Question:
// "the precise sensitivity curves ... are not fully captured here"). A
// piecewise-linear curve with a configurable number of slopes covers both
// the borrow curve (one kink) and any deployment that wants more.
type RateCurve struct {
	Base   Decimal
	Slopes []Slope
}

// Slope is one segment of a piecewise-linear curve: Rate applies per unit of
// utilization between the previous slope's Kink (zero for the first slope)
// and this Kink. Utilization beyond the last Kink adds nothing.
type Slope struct {
	Kink Decimal
	Rate Decimal
}

// Evaluate returns Base + sum of each slope's contribution below the
// utilization u, matching the teacher's kinked borrow-APR shape generalized
// to N slopes instead of exactly two.
func (c RateCurve) Evaluate(u Decimal) (Decimal, error) {
	result := c.Base
	prevKink := Zero()
	for _, s := range c.Slopes {
		if u.Cmp(s.Kink) <= 0 {
			span, err := u.Sub(prevKink)
			if err != nil {
				return Decimal{}, err
			}
			contribution, err := span.Mul(s.Rate, RoundHalfEven)
			if err != nil {
				return Decimal{}, err
			}
			return result.Add(contribution)
		}
		span, err := s.Kink.Sub(prevKink)
		if err != nil {
			return Decimal{}, err
		}
		contribution, err := span.Mul(s.Rate, RoundHalfEven)
		if err != nil {
			return Decimal{}, err
		}
		result, err = result.Add(contribution)
		if err != nil {
			return Decimal{}, err
		}
		prevKink = s.Kink
	}
	return result, nil
}

// DeltaNeutralityCurve computes the one-shot DN fee/credit as a function of
// signed distance from neutral (net notional), injected per spec §9.
type DeltaNeutralityCurve struct {
	Sensitivity Decimal
}

// Fee returns sensitivity * distance, sign following distance.
func (c DeltaNeutralityCurve) Fee(distance SignedDecimal) (SignedDecimal, error) {
	sens := NewSigned(c.Sensitivity, false)
	return distance.Mul(sens, RoundHalfEven)
}

// Config holds the per-market constants from spec §3 "Market configuration".
type Config struct {
	CollateralAsset string
	Kind            MarketKind

	MinLeverage Decimal
	MaxLeverage Decimal
	MinDeposit  Decimal

	TradingFeeBps uint64
	CrankFeeFlat  Decimal

	BorrowRate         RateCurve
	TargetUtilization  Decimal
	ProtocolFeeBps     uint64
	FundingSensitivity Decimal
	DeltaNeutrality    DeltaNeutralityCurve
	DeltaNeutralityCap Decimal

	LiquifundingInterval time.Duration
	LiquifundingStaleBound time.Duration
	PriceStaleBound      time.Duration
	UnstakePeriod        time.Duration

	CrankBatchSize int

	DeveloperFeeCollector crypto.Address
	ProtocolFeeCollector  crypto.Address
}

// DefaultConfig returns sane defaults (resolves spec §9's Open Question on
// the crank batch size default: 10).
func DefaultConfig() Config {
	one, _ := NewDecimalFromUint64(1)
	twenty, _ := NewDecimalFromUint64(20)
	ten, _ := NewDecimalFromUint64(10)
	half, _ := one.Div(mustDecimal(2), RoundHalfEven)
	eighty, _ := mustDecimal(80).Div(mustDecimal(100), RoundHalfEven)
	return Config{
		Kind:                 CollateralIsQuote,
		MinLeverage:          one,
		MaxLeverage:          twenty,
		MinDeposit:           ten,
		TradingFeeBps:        100,
		ProtocolFeeBps:       1000,
		TargetUtilization:    eighty,
		FundingSensitivity:   half,
		DeltaNeutrality:      DeltaNeutralityCurve{Sensitivity: half},
		LiquifundingInterval: 24 * time.Hour,
		LiquifundingStaleBound: 2 * time.Hour,
		PriceStaleBound:      60 * time.Second,
		UnstakePeriod:        21 * 24 * time.Hour,
		CrankBatchSize:       10,
	}
}

func mustDecimal(whole uint64) Decimal {
	d, err := NewDecimalFromUint64(whole)
	if err != nil {
		panic(err)
	}
	return d
}

// LiquidationMargin is the floor below which active_collateral triggers
// liquidation; it is broken out by reserve kind purely for reporting, the
// engine only ever compares against Total().
type LiquidationMargin struct {
	Borrow          Decimal
	Funding         Decimal
	DeltaNeutrality Decimal
	Crank           Decimal
}

// Total sums the reserve components.
func (m LiquidationMargin) Total() (Decimal, error) {
	sum, err := m.Borrow.Add(m.Funding)
	if err != nil {
		return Decimal{}, err
	}
	sum, err = sum.Add(m.DeltaNeutrality)
	if err != nil {
		return Decimal{}, err
	}
	return sum.Add(m.Crank)
}

// Direction reports whether a signed notional size is a long or a short.
type Direction int

const (
	Long Direction = iota
	Short
)

// DirectionOf returns Long for a non-negative notional size, Short
// otherwise.
func DirectionOf(notional SignedDecimal) Direction {
	if notional.Sign() < 0 {
		return Short
	}
	return Long
}
