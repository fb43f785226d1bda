package state

import (
	"fmt"

	"marketd/native/market"
)

// marketKey returns the KV key one market's flattened snapshot is stored
// under. Every market gets its own key so a multi-market daemon can persist
// and resume each independently.
func marketKey(symbol string) []byte {
	return []byte(fmt.Sprintf("market/snapshot/%s", symbol))
}

// SaveMarket RLP-encodes and persists one market's engine snapshot.
func (m *Manager) SaveMarket(symbol string, snap market.Snapshot) error {
	rec := market.ExportSnapshot(snap)
	return m.KVPut(marketKey(symbol), &rec)
}

// LoadMarket retrieves a previously saved market snapshot, pairing the
// flattened record with cfg (always reloaded from the genesis file rather
// than persisted, so an operator can roll out a new fee curve without a
// migration). The bool return reports whether a snapshot existed.
func (m *Manager) LoadMarket(symbol string, cfg market.Config) (market.Snapshot, bool, error) {
	var rec market.SnapshotRecord
	found, err := m.KVGet(marketKey(symbol), &rec)
	if err != nil {
		return market.Snapshot{}, false, fmt.Errorf("state: load market %q: %w", symbol, err)
	}
	if !found {
		return market.Snapshot{}, false, nil
	}
	return market.ImportSnapshot(cfg, rec), true, nil
}

// marketIndexKey is the append-only list of every market symbol ever saved,
// so a resuming daemon can enumerate markets without needing the genesis
// file to agree on the exact same set (a market dropped from genesis still
// shows up here for a one-time migration/drain).
var marketIndexKey = []byte("market/index")

// RecordMarketSymbol appends symbol to the durable set of known markets.
func (m *Manager) RecordMarketSymbol(symbol string) error {
	return m.KVAppend(marketIndexKey, []byte(symbol))
}

// KnownMarketSymbols lists every market symbol ever recorded.
func (m *Manager) KnownMarketSymbols() ([]string, error) {
	var raw [][]byte
	if err := m.KVGetList(marketIndexKey, &raw); err != nil {
		return nil, err
	}
	symbols := make([]string, len(raw))
	for i, b := range raw {
		symbols[i] = string(b)
	}
	return symbols, nil
}
