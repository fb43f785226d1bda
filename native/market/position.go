package market

import (
	"sort"

	"github.com/google/uuid"
	"marketd/crypto"
)

// PositionID uniquely identifies a position for its lifetime.
type PositionID string

// NewPositionID mints a fresh, random position identifier.
func NewPositionID() PositionID {
	return PositionID(uuid.NewString())
}

// CloseReason records why a position left the open set (spec §6 events).
type CloseReason int

const (
	CloseTrader CloseReason = iota
	CloseLiquidation
	CloseTakeProfit
	CloseStopLoss
	CloseWindDown
)

// Position is the full record for one leveraged position (spec §3).
type Position struct {
	ID      PositionID
	Owner   crypto.Address
	Epoch   uint64 // pool balance-reset epoch this position's collateral belongs to

	NotionalSize SignedDecimal // positive = long, negative = short

	DepositCollateral Decimal // cumulative net user contribution
	ActiveCollateral  Decimal // after fees and realized PnL
	CounterCollateral Decimal // locked liquidity, max payout above deposit

	StopLossOverride   *Decimal
	TakeProfitOverride *Decimal

	NextLiquifundingAt        int64
	LastLiquifundingPriceOrd  uint64
	LastLiquifundingTimestamp int64

	Margin LiquidationMargin

	CrankFeeReserve Decimal

	Closed       bool
	CloseReason  CloseReason
}

// Direction reports Long or Short per the sign of NotionalSize.
func (p *Position) Direction() Direction { return DirectionOf(p.NotionalSize) }

// LiquidationPrice and TakeProfitPrice are computed, not stored — they are
// derived from current state each time they are needed (for trigger index
// maintenance and for the Position query). The formulas solve
// active_collateral == liquidation_margin.total (liquidation) or
// counter_collateral == 0 (take-profit) for price, holding everything else
// fixed, which is exact only at the instant they are computed and must be
// recomputed after every liquifunding or update — matching the spec's
// "weak reference, rebuilt on every state change" design note.

// triggerEntry is the value carried by each ordered trigger/limit map: a
// trigger price plus the position id, so duplicate price keys resolve
// deterministically by a secondary sort on id (spec §9).
type triggerEntry struct {
	Price Decimal
	ID    PositionID
}

// triggerIndex is an ordered map keyed by price, ascending. Liquidation maps
// for shorts and take-profit maps for longs are scanned ascending directly;
// the descending scans (longs-by-liquidation, shorts-by-take-profit) walk
// this same ascending slice from the tail.
type triggerIndex struct {
	entries []triggerEntry
}

func (t *triggerIndex) insert(id PositionID, price Decimal) {
	e := triggerEntry{Price: price, ID: id}
	i := sort.Search(len(t.entries), func(i int) bool {
		c := t.entries[i].Price.Cmp(price)
		if c != 0 {
			return c >= 0
		}
		return t.entries[i].ID >= id
	})
	t.entries = append(t.entries, triggerEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

func (t *triggerIndex) remove(id PositionID, price Decimal) {
	for i, e := range t.entries {
		if e.ID == id && e.Price.Cmp(price) == 0 {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// removeByID drops the entry for id regardless of price, used when closing a
// position whose trigger price is not at hand (e.g. a trader-initiated
// close).
func (t *triggerIndex) removeByID(id PositionID) {
	for i, e := range t.entries {
		if e.ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// scanAscendingUpTo returns every entry with Price <= threshold.
func (t *triggerIndex) scanAscendingUpTo(threshold Decimal) []triggerEntry {
	var out []triggerEntry
	for _, e := range t.entries {
		if e.Price.Cmp(threshold) <= 0 {
			out = append(out, e)
		}
	}
	return out
}

// scanDescendingDownTo returns every entry with Price >= threshold.
func (t *triggerIndex) scanDescendingDownTo(threshold Decimal) []triggerEntry {
	var out []triggerEntry
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Price.Cmp(threshold) >= 0 {
			out = append(out, t.entries[i])
		}
	}
	return out
}

// TriggerIndices holds the liquidation and take-profit maps for each side,
// the two stop-loss maps, the two limit-order maps and the unpend staging
// buffer.
type TriggerIndices struct {
	LongsByLiquidation  triggerIndex // scanned descending against price falling
	ShortsByLiquidation triggerIndex // scanned ascending against price rising
	LongsByTakeProfit   triggerIndex // scanned ascending
	ShortsByTakeProfit  triggerIndex // scanned descending
	LongsByStopLoss     triggerIndex // scanned descending, same direction as liquidation
	ShortsByStopLoss    triggerIndex // scanned ascending

	// LimitLongs holds pending "open long" orders keyed by the price at or
	// above which they fill; LimitShorts holds pending "open short" orders
	// keyed by the price at or below which they fill (spec §4.6 step 6).
	LimitLongs  triggerIndex
	LimitShorts triggerIndex

	unpend map[uint64][]unpendEntry
}

type unpendEntry struct {
	kind  unpendKind
	id    PositionID
	price Decimal
}

type unpendKind int

const (
	unpendLongLiquidation unpendKind = iota
	unpendShortLiquidation
	unpendLongTakeProfit
	unpendShortTakeProfit
	unpendLongStopLoss
	unpendShortStopLoss
	unpendLimitLong
	unpendLimitShort
)

// NewTriggerIndices returns an empty set of indices.
func NewTriggerIndices() *TriggerIndices {
	return &TriggerIndices{unpend: make(map[uint64][]unpendEntry)}
}

// Unpend stages a newly created position's triggers behind price-point
// ordinal until; they become visible to the scan only after UnpendBefore is
// called for an ordinal >= until (crank step 5).
func (t *TriggerIndices) Unpend(until uint64, kind unpendKind, id PositionID, price Decimal) {
	t.unpend[until] = append(t.unpend[until], unpendEntry{kind: kind, id: id, price: price})
}

// PendingBefore reports whether any unpend entry is staged at or before
// ordinal.
func (t *TriggerIndices) PendingBefore(ordinal uint64) bool {
	for at := range t.unpend {
		if at <= ordinal {
			return true
		}
	}
	return false
}

// UnpendBefore inserts every staged entry at or before ordinal into its
// target index, matching crank step 5.
func (t *TriggerIndices) UnpendBefore(ordinal uint64) {
	for at, entries := range t.unpend {
		if at > ordinal {
			continue
		}
		for _, e := range entries {
			switch e.kind {
			case unpendLongLiquidation:
				t.LongsByLiquidation.insert(e.id, e.price)
			case unpendShortLiquidation:
				t.ShortsByLiquidation.insert(e.id, e.price)
			case unpendLongTakeProfit:
				t.LongsByTakeProfit.insert(e.id, e.price)
			case unpendShortTakeProfit:
				t.ShortsByTakeProfit.insert(e.id, e.price)
			case unpendLongStopLoss:
				t.LongsByStopLoss.insert(e.id, e.price)
			case unpendShortStopLoss:
				t.ShortsByStopLoss.insert(e.id, e.price)
			case unpendLimitLong:
				t.LimitLongs.insert(e.id, e.price)
			case unpendLimitShort:
				t.LimitShorts.insert(e.id, e.price)
			}
		}
		delete(t.unpend, at)
	}
}

// PositionStore holds every open and closed position, keyed by id, plus the
// owner -> ids secondary index used by PositionsByOwner.
type PositionStore struct {
	open   map[PositionID]*Position
	closed map[PositionID]*Position
	byOwner map[string][]PositionID
}

// NewPositionStore returns an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		open:    make(map[PositionID]*Position),
		closed:  make(map[PositionID]*Position),
		byOwner: make(map[string][]PositionID),
	}
}

func ownerKey(addr crypto.Address) string { return string(addr.Bytes()) }

// Insert adds a freshly opened position.
func (s *PositionStore) Insert(p *Position) {
	s.open[p.ID] = p
	key := ownerKey(p.Owner)
	s.byOwner[key] = append(s.byOwner[key], p.ID)
}

// Get returns an open position by id.
func (s *PositionStore) Get(id PositionID) (*Position, bool) {
	p, ok := s.open[id]
	return p, ok
}

// Close moves a position from the open set to the closed set.
func (s *PositionStore) Close(id PositionID, reason CloseReason) {
	p, ok := s.open[id]
	if !ok {
		return
	}
	p.Closed = true
	p.CloseReason = reason
	delete(s.open, id)
	s.closed[id] = p
}

// ByOwner returns every position id (open or closed) ever recorded for
// owner, oldest first.
func (s *PositionStore) ByOwner(owner crypto.Address) []PositionID {
	ids := append([]PositionID(nil), s.byOwner[ownerKey(owner)]...)
	return ids
}

// Closed returns a closed position by id.
func (s *PositionStore) Closed(id PositionID) (*Position, bool) {
	p, ok := s.closed[id]
	return p, ok
}

// OpenCount returns the number of currently open positions.
func (s *PositionStore) OpenCount() int { return len(s.open) }

// AnyOpenID returns an arbitrary open position id, used by the close-all
// crank item (spec §4.6 step 1); deterministic lowest-id selection keeps
// wind-down order reproducible.
func (s *PositionStore) AnyOpenID() (PositionID, bool) {
	var best PositionID
	found := false
	for id := range s.open {
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}

// DueForLiquifunding returns the open position with the earliest
// NextLiquifundingAt strictly before ts, or false if none qualify (crank
// step 4). Ties broken by id for determinism.
func (s *PositionStore) DueForLiquifunding(ts int64) (*Position, bool) {
	var best *Position
	for _, p := range s.open {
		if p.NextLiquifundingAt >= ts {
			continue
		}
		if best == nil || p.NextLiquifundingAt < best.NextLiquifundingAt ||
			(p.NextLiquifundingAt == best.NextLiquifundingAt && p.ID < best.ID) {
			best = p
		}
	}
	return best, best != nil
}
