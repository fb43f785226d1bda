package market

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrNumericOverflow is returned whenever a fixed-point operation would
// exceed the representable range.
var ErrNumericOverflow = errors.New("market: numeric overflow")

// ErrNumericDomain is returned for operations outside their mathematical
// domain, chiefly division by zero.
var ErrNumericDomain = errors.New("market: numeric domain error")

// decimals is the number of fractional digits carried by every Decimal.
const decimals = 18

var scale = func() *uint256.Int {
	s, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(1), uint256.NewInt(1))
	if overflow {
		panic("market: scale init overflow")
	}
	ten := uint256.NewInt(10)
	for i := 0; i < decimals; i++ {
		var of bool
		s, of = s.MulOverflow(s, ten)
		if of {
			panic("market: scale overflow")
		}
	}
	return s
}()

// RoundMode selects the rounding policy applied when a fixed-point division
// does not divide evenly.
type RoundMode int

const (
	// RoundHalfEven is used for display and read-only projections.
	RoundHalfEven RoundMode = iota
	// RoundUp always rounds away from zero; used for debits taken from a
	// trader, so the pool never comes up short.
	RoundUp
	// RoundDown always rounds toward zero; used for credits paid to a
	// trader, so the pool never pays out more than it owes.
	RoundDown
)

// Decimal is an unsigned fixed-point number with 18 fractional digits,
// backed by a 256-bit integer so arithmetic fails loudly on overflow instead
// of wrapping.
type Decimal struct {
	raw *uint256.Int
}

// Zero returns the additive identity.
func Zero() Decimal {
	return Decimal{raw: new(uint256.Int)}
}

// One returns the multiplicative identity.
func One() Decimal {
	return Decimal{raw: new(uint256.Int).Set(scale)}
}

// NewDecimalFromUint64 builds a Decimal representing the given whole number.
func NewDecimalFromUint64(whole uint64) (Decimal, error) {
	raw, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(whole), scale)
	if overflow {
		return Decimal{}, ErrNumericOverflow
	}
	return Decimal{raw: raw}, nil
}

// DecimalFromRaw wraps an already-scaled raw value (scaled by 10^18). Used
// when deserializing persisted state.
func DecimalFromRaw(raw *uint256.Int) Decimal {
	if raw == nil {
		return Zero()
	}
	return Decimal{raw: new(uint256.Int).Set(raw)}
}

// DecimalFromRat converts an exact rational into a Decimal, rounding half to
// even. Used for config-supplied rate curves (bps, slopes, kinks).
func DecimalFromRat(r *big.Rat) (Decimal, error) {
	if r == nil {
		return Zero(), nil
	}
	if r.Sign() < 0 {
		return Decimal{}, ErrNumericDomain
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scale.ToBig()))
	num := new(big.Int).Set(scaled.Num())
	den := new(big.Int).Set(scaled.Denom())
	q, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		twice := new(big.Int).Mul(rem, big.NewInt(2))
		if c := twice.CmpAbs(den); c > 0 || (c == 0 && q.Bit(0) == 1) {
			q.Add(q, big.NewInt(1))
		}
	}
	if q.Sign() < 0 || q.BitLen() > 256 {
		return Decimal{}, ErrNumericOverflow
	}
	raw, overflow := uint256.FromBig(q)
	if overflow {
		return Decimal{}, ErrNumericOverflow
	}
	return Decimal{raw: raw}, nil
}

// Raw exposes the underlying scaled integer, for persistence.
func (d Decimal) Raw() *uint256.Int {
	if d.raw == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(d.raw)
}

func (d Decimal) val() *uint256.Int {
	if d.raw == nil {
		return new(uint256.Int)
	}
	return d.raw
}

// IsZero reports whether the value is exactly zero.
func (d Decimal) IsZero() bool { return d.val().IsZero() }

// Cmp compares d to other, returning -1, 0, or 1.
func (d Decimal) Cmp(other Decimal) int { return d.val().Cmp(other.val()) }

// Add returns d+other, failing with ErrNumericOverflow on wraparound.
func (d Decimal) Add(other Decimal) (Decimal, error) {
	sum, overflow := new(uint256.Int).AddOverflow(d.val(), other.val())
	if overflow {
		return Decimal{}, ErrNumericOverflow
	}
	return Decimal{raw: sum}, nil
}

// Sub returns d-other, failing with ErrNumericOverflow if the result would
// be negative (Decimal is unsigned).
func (d Decimal) Sub(other Decimal) (Decimal, error) {
	diff, underflow := new(uint256.Int).SubOverflow(d.val(), other.val())
	if underflow {
		return Decimal{}, ErrNumericOverflow
	}
	return Decimal{raw: diff}, nil
}

// Mul returns d*other rounded per mode.
func (d Decimal) Mul(other Decimal, mode RoundMode) (Decimal, error) {
	product, overflow := new(uint256.Int).MulOverflow(d.val(), other.val())
	if overflow {
		return Decimal{}, ErrNumericOverflow
	}
	return divScaled(product, scale, mode)
}

// Div returns d/other rounded per mode.
func (d Decimal) Div(other Decimal, mode RoundMode) (Decimal, error) {
	if other.IsZero() {
		return Decimal{}, ErrNumericDomain
	}
	numerator, overflow := new(uint256.Int).MulOverflow(d.val(), scale)
	if overflow {
		return Decimal{}, ErrNumericOverflow
	}
	return divScaled(numerator, other.val(), mode)
}

// divScaled divides numerator by denom and applies the rounding mode. It is
// the sole place rounding policy is decided, per the "round toward the pool"
// design note: callers choose RoundUp for trader debits, RoundDown for
// trader credits, and RoundHalfEven for read-only display values.
func divScaled(numerator, denom *uint256.Int, mode RoundMode) (Decimal, error) {
	if denom.IsZero() {
		return Decimal{}, ErrNumericDomain
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(numerator, denom, r)
	if r.IsZero() {
		return Decimal{raw: q}, nil
	}
	switch mode {
	case RoundUp:
		q.AddUint64(q, 1)
	case RoundHalfEven:
		twice := new(uint256.Int).Lsh(r, 1)
		switch twice.Cmp(denom) {
		case 1:
			q.AddUint64(q, 1)
		case 0:
			if q.Uint64()%2 == 1 {
				q.AddUint64(q, 1)
			}
		}
	case RoundDown:
		// truncation already performed by DivMod
	}
	return Decimal{raw: q}, nil
}

// RoundTowardPool rounds a debit charged to a trader up and a credit paid to
// a trader down, so conservation (testable property 1) holds exactly.
func RoundTowardPool(chargedToTrader bool) RoundMode {
	if chargedToTrader {
		return RoundUp
	}
	return RoundDown
}

func (d Decimal) String() string {
	return new(big.Rat).SetFrac(d.val().ToBig(), scale.ToBig()).FloatString(decimals)
}

// SignedDecimal is a signed fixed-point value, used for net notional size,
// signed leverage, and realized PnL deltas — the only places the spec calls
// for a sign.
type SignedDecimal struct {
	neg bool
	mag Decimal
}

// ZeroSigned returns the signed additive identity.
func ZeroSigned() SignedDecimal { return SignedDecimal{mag: Zero()} }

// NewSigned builds a signed decimal from a magnitude and a sign flag.
func NewSigned(mag Decimal, negative bool) SignedDecimal {
	if mag.IsZero() {
		negative = false
	}
	return SignedDecimal{neg: negative, mag: mag}
}

// Sign returns -1, 0, or 1.
func (s SignedDecimal) Sign() int {
	if s.mag.IsZero() {
		return 0
	}
	if s.neg {
		return -1
	}
	return 1
}

// Abs returns the unsigned magnitude.
func (s SignedDecimal) Abs() Decimal { return s.mag }

// Neg returns -s.
func (s SignedDecimal) Neg() SignedDecimal { return NewSigned(s.mag, !s.neg) }

// Add returns s+other.
func (s SignedDecimal) Add(other SignedDecimal) (SignedDecimal, error) {
	if s.neg == other.neg {
		sum, err := s.mag.Add(other.mag)
		if err != nil {
			return SignedDecimal{}, err
		}
		return NewSigned(sum, s.neg), nil
	}
	if s.mag.Cmp(other.mag) >= 0 {
		diff, err := s.mag.Sub(other.mag)
		if err != nil {
			return SignedDecimal{}, err
		}
		return NewSigned(diff, s.neg), nil
	}
	diff, err := other.mag.Sub(s.mag)
	if err != nil {
		return SignedDecimal{}, err
	}
	return NewSigned(diff, other.neg), nil
}

// Sub returns s-other.
func (s SignedDecimal) Sub(other SignedDecimal) (SignedDecimal, error) {
	return s.Add(other.Neg())
}

// Mul returns s*other. Rounding always applies to the magnitude; sign is the
// XOR of operand signs.
func (s SignedDecimal) Mul(other SignedDecimal, mode RoundMode) (SignedDecimal, error) {
	mag, err := s.mag.Mul(other.mag, mode)
	if err != nil {
		return SignedDecimal{}, err
	}
	return NewSigned(mag, s.neg != other.neg), nil
}

// Div returns s/other. Rounding always applies to the magnitude; sign is the
// XOR of operand signs.
func (s SignedDecimal) Div(other SignedDecimal, mode RoundMode) (SignedDecimal, error) {
	mag, err := s.mag.Div(other.mag, mode)
	if err != nil {
		return SignedDecimal{}, err
	}
	return NewSigned(mag, s.neg != other.neg), nil
}

func (s SignedDecimal) String() string {
	if s.neg {
		return "-" + s.mag.String()
	}
	return s.mag.String()
}

// MarketKind distinguishes which leg of the BASE_QUOTE pair is the
// collateral asset.
type MarketKind int

const (
	CollateralIsQuote MarketKind = iota
	CollateralIsBase
)

// ToNotionalInCollateral converts a base-in-quote price to a
// notional-in-collateral price according to the market's kind (§4.1).
func ToNotionalInCollateral(priceBaseInQuote Decimal, kind MarketKind) (Decimal, error) {
	switch kind {
	case CollateralIsQuote:
		return priceBaseInQuote, nil
	case CollateralIsBase:
		return One().Div(priceBaseInQuote, RoundHalfEven)
	default:
		return Decimal{}, fmt.Errorf("market: unknown market kind %d", kind)
	}
}
