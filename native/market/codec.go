package market

import (
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"marketd/crypto"
)

// This file converts the engine's live, pointer-heavy working state into a
// flat, RLP-encodable record and back, the same role the teacher's
// account/storage RLP records play for state/store.go's Manager. Every
// Decimal crosses the boundary as its raw *big.Int (scaled by 10^18) so a
// resumed engine is bit-for-bit identical to the one that was snapshotted,
// never reconstructed through a lossy decimal string.

func decToBig(d Decimal) *big.Int { return d.Raw().ToBig() }

func bigToDec(b *big.Int) Decimal {
	if b == nil {
		return Zero()
	}
	raw, overflow := uint256.FromBig(b)
	if overflow {
		return Zero()
	}
	return DecimalFromRaw(raw)
}

func addrBytes(a crypto.Address) ([]byte, string) { return a.Bytes(), string(a.Prefix()) }

func addrFrom(b []byte, prefix string) crypto.Address {
	if len(b) == 0 {
		return crypto.Address{}
	}
	addr, err := crypto.NewAddress(crypto.AddressPrefix(prefix), b)
	if err != nil {
		return crypto.Address{}
	}
	return addr
}

// PositionRecord is the RLP-safe mirror of Position.
type PositionRecord struct {
	ID          string
	OwnerBytes  []byte
	OwnerPrefix string
	Epoch       uint64

	NotionalNeg bool
	NotionalMag *big.Int

	DepositCollateral *big.Int
	ActiveCollateral  *big.Int
	CounterCollateral *big.Int

	HasStopLoss   bool
	StopLoss      *big.Int
	HasTakeProfit bool
	TakeProfit    *big.Int

	NextLiquifundingAt        int64
	LastLiquifundingPriceOrd  uint64
	LastLiquifundingTimestamp int64

	MarginBorrowBig *big.Int
	MarginFunding   *big.Int
	MarginDN        *big.Int
	MarginCrank     *big.Int

	CrankFeeReserve *big.Int

	Closed      bool
	CloseReason uint8
}

func exportPosition(p *Position) PositionRecord {
	ownerBytes, ownerPrefix := addrBytes(p.Owner)
	rec := PositionRecord{
		ID:                        string(p.ID),
		OwnerBytes:                ownerBytes,
		OwnerPrefix:               ownerPrefix,
		Epoch:                     p.Epoch,
		NotionalNeg:               p.NotionalSize.Sign() < 0,
		NotionalMag:               decToBig(p.NotionalSize.Abs()),
		DepositCollateral:         decToBig(p.DepositCollateral),
		ActiveCollateral:          decToBig(p.ActiveCollateral),
		CounterCollateral:         decToBig(p.CounterCollateral),
		NextLiquifundingAt:        p.NextLiquifundingAt,
		LastLiquifundingPriceOrd:  p.LastLiquifundingPriceOrd,
		LastLiquifundingTimestamp: p.LastLiquifundingTimestamp,
		MarginBorrowBig:           decToBig(p.Margin.Borrow),
		MarginFunding:             decToBig(p.Margin.Funding),
		MarginDN:                  decToBig(p.Margin.DeltaNeutrality),
		MarginCrank:               decToBig(p.Margin.Crank),
		CrankFeeReserve:           decToBig(p.CrankFeeReserve),
		Closed:                    p.Closed,
		CloseReason:               uint8(p.CloseReason),
	}
	if p.StopLossOverride != nil {
		rec.HasStopLoss = true
		rec.StopLoss = decToBig(*p.StopLossOverride)
	}
	if p.TakeProfitOverride != nil {
		rec.HasTakeProfit = true
		rec.TakeProfit = decToBig(*p.TakeProfitOverride)
	}
	return rec
}

func importPosition(rec PositionRecord) *Position {
	p := &Position{
		ID:                        PositionID(rec.ID),
		Owner:                     addrFrom(rec.OwnerBytes, rec.OwnerPrefix),
		Epoch:                     rec.Epoch,
		NotionalSize:              NewSigned(bigToDec(rec.NotionalMag), rec.NotionalNeg),
		DepositCollateral:         bigToDec(rec.DepositCollateral),
		ActiveCollateral:          bigToDec(rec.ActiveCollateral),
		CounterCollateral:         bigToDec(rec.CounterCollateral),
		NextLiquifundingAt:        rec.NextLiquifundingAt,
		LastLiquifundingPriceOrd:  rec.LastLiquifundingPriceOrd,
		LastLiquifundingTimestamp: rec.LastLiquifundingTimestamp,
		Margin: LiquidationMargin{
			Borrow:          bigToDec(rec.MarginBorrowBig),
			Funding:         bigToDec(rec.MarginFunding),
			DeltaNeutrality: bigToDec(rec.MarginDN),
			Crank:           bigToDec(rec.MarginCrank),
		},
		CrankFeeReserve: bigToDec(rec.CrankFeeReserve),
		Closed:          rec.Closed,
		CloseReason:     CloseReason(rec.CloseReason),
	}
	if rec.HasStopLoss {
		v := bigToDec(rec.StopLoss)
		p.StopLossOverride = &v
	}
	if rec.HasTakeProfit {
		v := bigToDec(rec.TakeProfit)
		p.TakeProfitOverride = &v
	}
	return p
}

// TriggerEntryRecord mirrors triggerEntry.
type TriggerEntryRecord struct {
	Price *big.Int
	ID    string
}

// TriggerIndexRecord mirrors triggerIndex.
type TriggerIndexRecord struct {
	Entries []TriggerEntryRecord
}

func exportIndex(idx triggerIndex) TriggerIndexRecord {
	rec := TriggerIndexRecord{Entries: make([]TriggerEntryRecord, len(idx.entries))}
	for i, e := range idx.entries {
		rec.Entries[i] = TriggerEntryRecord{Price: decToBig(e.Price), ID: string(e.ID)}
	}
	return rec
}

func importIndex(rec TriggerIndexRecord) triggerIndex {
	idx := triggerIndex{entries: make([]triggerEntry, len(rec.Entries))}
	for i, e := range rec.Entries {
		idx.entries[i] = triggerEntry{Price: bigToDec(e.Price), ID: PositionID(e.ID)}
	}
	return idx
}

// UnpendEntryRecord mirrors one staged unpendEntry at a given ordinal.
type UnpendEntryRecord struct {
	Ordinal uint64
	Kind    uint8
	ID      string
	Price   *big.Int
}

// TriggersRecord is the RLP-safe mirror of TriggerIndices.
type TriggersRecord struct {
	LongsByLiquidation  TriggerIndexRecord
	ShortsByLiquidation TriggerIndexRecord
	LongsByTakeProfit   TriggerIndexRecord
	ShortsByTakeProfit  TriggerIndexRecord
	LongsByStopLoss     TriggerIndexRecord
	ShortsByStopLoss    TriggerIndexRecord
	LimitLongs          TriggerIndexRecord
	LimitShorts         TriggerIndexRecord
	Unpend              []UnpendEntryRecord
}

func exportTriggers(t *TriggerIndices) TriggersRecord {
	rec := TriggersRecord{
		LongsByLiquidation:  exportIndex(t.LongsByLiquidation),
		ShortsByLiquidation: exportIndex(t.ShortsByLiquidation),
		LongsByTakeProfit:   exportIndex(t.LongsByTakeProfit),
		ShortsByTakeProfit:  exportIndex(t.ShortsByTakeProfit),
		LongsByStopLoss:     exportIndex(t.LongsByStopLoss),
		ShortsByStopLoss:    exportIndex(t.ShortsByStopLoss),
		LimitLongs:          exportIndex(t.LimitLongs),
		LimitShorts:         exportIndex(t.LimitShorts),
	}
	ordinals := make([]uint64, 0, len(t.unpend))
	for at := range t.unpend {
		ordinals = append(ordinals, at)
	}
	sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })
	for _, at := range ordinals {
		for _, e := range t.unpend[at] {
			rec.Unpend = append(rec.Unpend, UnpendEntryRecord{Ordinal: at, Kind: uint8(e.kind), ID: string(e.id), Price: decToBig(e.price)})
		}
	}
	return rec
}

func importTriggers(rec TriggersRecord) *TriggerIndices {
	t := NewTriggerIndices()
	t.LongsByLiquidation = importIndex(rec.LongsByLiquidation)
	t.ShortsByLiquidation = importIndex(rec.ShortsByLiquidation)
	t.LongsByTakeProfit = importIndex(rec.LongsByTakeProfit)
	t.ShortsByTakeProfit = importIndex(rec.ShortsByTakeProfit)
	t.LongsByStopLoss = importIndex(rec.LongsByStopLoss)
	t.ShortsByStopLoss = importIndex(rec.ShortsByStopLoss)
	t.LimitLongs = importIndex(rec.LimitLongs)
	t.LimitShorts = importIndex(rec.LimitShorts)
	for _, e := range rec.Unpend {
		t.unpend[e.Ordinal] = append(t.unpend[e.Ordinal], unpendEntry{kind: unpendKind(e.Kind), id: PositionID(e.ID), price: bigToDec(e.Price)})
	}
	return t
}

// PendingUnstakeRecord mirrors PendingUnstake.
type PendingUnstakeRecord struct {
	Amount    *big.Int
	Start     int64
	End       int64
	Collected *big.Int
}

// HolderRecord mirrors holderBalance.
type HolderRecord struct {
	OwnerBytes     []byte
	OwnerPrefix    string
	LPShares       *big.Int
	XLPShares      *big.Int
	YieldWatermark *big.Int
	Epoch          uint64
	Pending        []PendingUnstakeRecord
}

// PoolRecord is the RLP-safe mirror of LiquidityPool.
type PoolRecord struct {
	Unlocked          *big.Int
	Locked            *big.Int
	TotalLPShares     *big.Int
	TotalXLPShares    *big.Int
	YieldAccumulator  *big.Int
	BalanceResetEpoch uint64
	ResetInProgress   bool
	Holders           []HolderRecord
}

func exportPool(p *LiquidityPool) PoolRecord {
	rec := PoolRecord{
		Unlocked:          decToBig(p.unlockedLiquidity),
		Locked:            decToBig(p.lockedLiquidity),
		TotalLPShares:     decToBig(p.totalLPShares),
		TotalXLPShares:    decToBig(p.totalXLPShares),
		YieldAccumulator:  decToBig(p.yieldAccumulator),
		BalanceResetEpoch: p.balanceResetEpoch,
		ResetInProgress:   p.resetInProgress,
	}
	keys := make([]string, 0, len(p.holders))
	for k := range p.holders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h := p.holders[k]
		ownerBytes, ownerPrefix := addrBytes(h.Address)
		hrec := HolderRecord{
			OwnerBytes:     ownerBytes,
			OwnerPrefix:    ownerPrefix,
			LPShares:       decToBig(h.LPShares),
			XLPShares:      decToBig(h.XLPShares),
			YieldWatermark: decToBig(h.YieldWatermark),
			Epoch:          h.Epoch,
		}
		for _, pu := range h.Pending {
			hrec.Pending = append(hrec.Pending, PendingUnstakeRecord{
				Amount: decToBig(pu.Amount), Start: pu.Start, End: pu.End, Collected: decToBig(pu.Collected),
			})
		}
		rec.Holders = append(rec.Holders, hrec)
	}
	return rec
}

func importPool(rec PoolRecord) *LiquidityPool {
	p := &LiquidityPool{
		unlockedLiquidity: bigToDec(rec.Unlocked),
		lockedLiquidity:   bigToDec(rec.Locked),
		totalLPShares:     bigToDec(rec.TotalLPShares),
		totalXLPShares:    bigToDec(rec.TotalXLPShares),
		yieldAccumulator:  bigToDec(rec.YieldAccumulator),
		balanceResetEpoch: rec.BalanceResetEpoch,
		resetInProgress:   rec.ResetInProgress,
		holders:           make(map[string]*holderBalance, len(rec.Holders)),
	}
	for _, hrec := range rec.Holders {
		addr := addrFrom(hrec.OwnerBytes, hrec.OwnerPrefix)
		h := &holderBalance{
			Address:        addr,
			LPShares:       bigToDec(hrec.LPShares),
			XLPShares:      bigToDec(hrec.XLPShares),
			YieldWatermark: bigToDec(hrec.YieldWatermark),
			Epoch:          hrec.Epoch,
		}
		for _, pu := range hrec.Pending {
			h.Pending = append(h.Pending, PendingUnstake{
				Amount: bigToDec(pu.Amount), Start: pu.Start, End: pu.End, Collected: bigToDec(pu.Collected),
			})
		}
		p.holders[p.holderKey(addr)] = h
	}
	return p
}

// PriceRecord mirrors PricePoint.
type PriceRecord struct {
	Ordinal   uint64
	Timestamp int64
	PriceBase *big.Int
	PriceUSD  *big.Int
	Complete  bool
}

func exportPrices(s *PriceStore) []PriceRecord {
	out := make([]PriceRecord, len(s.points))
	for i, pt := range s.points {
		out[i] = PriceRecord{Ordinal: pt.Ordinal, Timestamp: pt.Timestamp, PriceBase: decToBig(pt.PriceBase), PriceUSD: decToBig(pt.PriceUSD), Complete: pt.Complete}
	}
	return out
}

func importPrices(recs []PriceRecord) *PriceStore {
	s := NewPriceStore()
	s.points = make([]PricePoint, len(recs))
	for i, r := range recs {
		s.points[i] = PricePoint{Ordinal: r.Ordinal, Timestamp: r.Timestamp, PriceBase: bigToDec(r.PriceBase), PriceUSD: bigToDec(r.PriceUSD), Complete: r.Complete}
	}
	return s
}

// FeesRecord mirrors FeeAccrual.
type FeesRecord struct {
	CrankRewardFund *big.Int
	DNFund          *big.Int
	ProtocolFees    *big.Int
}

func exportFees(f *FeeAccrual) FeesRecord {
	return FeesRecord{CrankRewardFund: decToBig(f.CrankRewardFund), DNFund: decToBig(f.DNFund), ProtocolFees: decToBig(f.ProtocolFees)}
}

func importFees(rec FeesRecord) *FeeAccrual {
	return &FeeAccrual{CrankRewardFund: bigToDec(rec.CrankRewardFund), DNFund: bigToDec(rec.DNFund), ProtocolFees: bigToDec(rec.ProtocolFees)}
}

// PendingOrderRecord mirrors PendingOrder.
type PendingOrderRecord struct {
	ID          string
	OwnerBytes  []byte
	OwnerPrefix string
	Collateral  *big.Int
	Leverage    *big.Int
	Direction   uint8
	MaxGains    *big.Int

	HasStopLoss bool
	StopLoss    *big.Int

	SlippageAssert *big.Int
	LimitPrice     *big.Int

	HasExpiry bool
	Expiry    int64
}

func exportOrders(b *OrderBook) []PendingOrderRecord {
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]PendingOrderRecord, 0, len(ids))
	for _, id := range ids {
		o := b.pending[PositionID(id)]
		ownerBytes, ownerPrefix := addrBytes(o.Params.Owner)
		rec := PendingOrderRecord{
			ID:             string(o.ID),
			OwnerBytes:     ownerBytes,
			OwnerPrefix:    ownerPrefix,
			Collateral:     decToBig(o.Params.Collateral),
			Leverage:       decToBig(o.Params.Leverage),
			Direction:      uint8(o.Params.Direction),
			MaxGains:       decToBig(o.Params.MaxGains),
			SlippageAssert: decToBig(o.Params.SlippageAssert),
			LimitPrice:     decToBig(o.LimitPrice),
		}
		if o.Params.StopLoss != nil {
			rec.HasStopLoss = true
			rec.StopLoss = decToBig(*o.Params.StopLoss)
		}
		if o.Expiry != nil {
			rec.HasExpiry = true
			rec.Expiry = *o.Expiry
		}
		out = append(out, rec)
	}
	return out
}

func importOrders(recs []PendingOrderRecord) *OrderBook {
	b := NewOrderBook()
	for _, rec := range recs {
		params := OpenPositionParams{
			Owner:          addrFrom(rec.OwnerBytes, rec.OwnerPrefix),
			Collateral:     bigToDec(rec.Collateral),
			Leverage:       bigToDec(rec.Leverage),
			Direction:      Direction(rec.Direction),
			MaxGains:       bigToDec(rec.MaxGains),
			SlippageAssert: bigToDec(rec.SlippageAssert),
		}
		if rec.HasStopLoss {
			v := bigToDec(rec.StopLoss)
			params.StopLoss = &v
		}
		order := &PendingOrder{ID: PositionID(rec.ID), Params: params, LimitPrice: bigToDec(rec.LimitPrice)}
		if rec.HasExpiry {
			exp := rec.Expiry
			order.Expiry = &exp
		}
		b.insert(order)
	}
	return b
}

// SnapshotRecord is the fully flattened, RLP-encodable form of Snapshot. The
// state package persists one of these per market under its
// "market/snapshot/<symbol>" key.
type SnapshotRecord struct {
	OpenPositions   []PositionRecord
	ClosedPositions []PositionRecord
	Pool            PoolRecord
	Triggers        TriggersRecord
	Prices          []PriceRecord
	Fees            FeesRecord
	Orders          []PendingOrderRecord
	Shutdown        bool
}

// ExportSnapshot flattens a Snapshot into its RLP-safe form.
func ExportSnapshot(snap Snapshot) SnapshotRecord {
	rec := SnapshotRecord{
		Pool:     exportPool(snap.Pool),
		Triggers: exportTriggers(snap.Triggers),
		Prices:   exportPrices(snap.Prices),
		Fees:     exportFees(snap.Fees),
		Orders:   exportOrders(snap.Orders),
		Shutdown: snap.Shutdown,
	}
	openIDs := make([]string, 0, len(snap.Positions.open))
	for id := range snap.Positions.open {
		openIDs = append(openIDs, string(id))
	}
	sort.Strings(openIDs)
	for _, id := range openIDs {
		rec.OpenPositions = append(rec.OpenPositions, exportPosition(snap.Positions.open[PositionID(id)]))
	}
	closedIDs := make([]string, 0, len(snap.Positions.closed))
	for id := range snap.Positions.closed {
		closedIDs = append(closedIDs, string(id))
	}
	sort.Strings(closedIDs)
	for _, id := range closedIDs {
		rec.ClosedPositions = append(rec.ClosedPositions, exportPosition(snap.Positions.closed[PositionID(id)]))
	}
	return rec
}

// ImportSnapshot rebuilds a Snapshot from its flattened form, pairing it with
// cfg (loaded separately from the genesis file, not persisted here).
func ImportSnapshot(cfg Config, rec SnapshotRecord) Snapshot {
	positions := NewPositionStore()
	for _, pr := range rec.OpenPositions {
		positions.Insert(importPosition(pr))
	}
	for _, pr := range rec.ClosedPositions {
		p := importPosition(pr)
		positions.closed[p.ID] = p
		key := ownerKey(p.Owner)
		positions.byOwner[key] = append(positions.byOwner[key], p.ID)
	}
	return Snapshot{
		Config:    cfg,
		Pool:      importPool(rec.Pool),
		Positions: positions,
		Triggers:  importTriggers(rec.Triggers),
		Prices:    importPrices(rec.Prices),
		Fees:      importFees(rec.Fees),
		Orders:    importOrders(rec.Orders),
		Shutdown:  rec.Shutdown,
	}
}
