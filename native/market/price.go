package market

import "errors"

// ErrStalePrice is returned when an appended price point does not strictly
// advance the store's clock.
var ErrStalePrice = errors.New("market: stale price")

// PricePoint is an immutable, totally-ordered sample of the market's price.
type PricePoint struct {
	Ordinal   uint64
	Timestamp int64
	// PriceBase is the base asset's value expressed in the quote asset
	// (base -> quote).
	PriceBase Decimal
	// PriceUSD is the collateral asset's value expressed in USD, used for
	// USD-denominated risk reporting only; it never participates in
	// notional/collateral conversions.
	PriceUSD Decimal
	// Complete is set by the crank's mark_price_complete step, which runs
	// before its liquifunding and trigger steps and does not wait for their
	// obligations at or before this point to be processed.
	Complete bool
}

// PriceStore is an append-only, ordinal-indexed log of price points.
type PriceStore struct {
	points []PricePoint
}

// NewPriceStore returns an empty store.
func NewPriceStore() *PriceStore {
	return &PriceStore{}
}

// Append adds a new price point. The timestamp must be strictly greater
// than the previous point's timestamp; duplicate timestamps are rejected
// rather than collapsed, since the ordinal already guarantees a total
// order and silently merging two distinct price observations would hide a
// caller bug.
func (s *PriceStore) Append(timestamp int64, priceBase, priceUSD Decimal) (PricePoint, error) {
	if len(s.points) > 0 {
		last := s.points[len(s.points)-1]
		if timestamp <= last.Timestamp {
			return PricePoint{}, ErrStalePrice
		}
	}
	point := PricePoint{
		Ordinal:   uint64(len(s.points)),
		Timestamp: timestamp,
		PriceBase: priceBase,
		PriceUSD:  priceUSD,
	}
	s.points = append(s.points, point)
	return point, nil
}

// Latest returns the most recently appended point.
func (s *PriceStore) Latest() (PricePoint, bool) {
	if len(s.points) == 0 {
		return PricePoint{}, false
	}
	return s.points[len(s.points)-1], true
}

// ByOrdinal looks up a point by its assigned ordinal.
func (s *PriceStore) ByOrdinal(ordinal uint64) (PricePoint, bool) {
	if ordinal >= uint64(len(s.points)) {
		return PricePoint{}, false
	}
	return s.points[ordinal], true
}

// AtOrBefore returns the latest point whose timestamp is <= ts.
func (s *PriceStore) AtOrBefore(ts int64) (PricePoint, bool) {
	lo, hi := 0, len(s.points)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.points[mid].Timestamp <= ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return PricePoint{}, false
	}
	return s.points[lo-1], true
}

// OldestIncomplete returns the lowest-ordinal point not yet marked complete,
// the "P" of crank step 3.
func (s *PriceStore) OldestIncomplete() (PricePoint, bool) {
	for _, p := range s.points {
		if !p.Complete {
			return p, true
		}
	}
	return PricePoint{}, false
}

// MarkComplete flags a point as fully cranked.
func (s *PriceStore) MarkComplete(ordinal uint64) {
	if ordinal < uint64(len(s.points)) {
		s.points[ordinal].Complete = true
	}
}

// Count returns the number of appended points.
func (s *PriceStore) Count() int { return len(s.points) }
