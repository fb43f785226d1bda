package market

import "marketd/crypto"

// PendingOrder captures every OpenPosition parameter for a limit order that
// has not yet filled. It is promoted into a real Position by the crank's
// limit-order scan once the notional price crosses LimitPrice (spec §4.6
// step 6, spec §6 OpenPosition's optional limit_trigger input).
type PendingOrder struct {
	ID         PositionID
	Params     OpenPositionParams
	LimitPrice Decimal
	Expiry     *int64
}

// OrderBook holds every unfilled limit order, keyed by id.
type OrderBook struct {
	pending map[PositionID]*PendingOrder
}

// NewOrderBook returns an empty order book.
func NewOrderBook() *OrderBook {
	return &OrderBook{pending: make(map[PositionID]*PendingOrder)}
}

func (b *OrderBook) insert(o *PendingOrder) { b.pending[o.ID] = o }

func (b *OrderBook) get(id PositionID) (*PendingOrder, bool) {
	o, ok := b.pending[id]
	return o, ok
}

func (b *OrderBook) remove(id PositionID) { delete(b.pending, id) }

// ByOwner returns every unfilled limit order placed by owner.
func (b *OrderBook) ByOwner(owner crypto.Address) []*PendingOrder {
	var out []*PendingOrder
	key := ownerKey(owner)
	for _, o := range b.pending {
		if ownerKey(o.Params.Owner) == key {
			out = append(out, o)
		}
	}
	return out
}
