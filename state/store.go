// Package state persists market state in a goleveldb-backed keyed store,
// adapting the teacher's trie-backed Manager.KVGet/KVPut/KVGetList idiom to
// an embedded single-process database: RLP-encoded values under keccak256
// prefixed keys, without the host chain's trie/consensus layer this engine
// does not have.
package state

import (
	"bytes"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Manager wraps a goleveldb handle and exposes the RLP keyed-store
// operations the market engine persists through.
type Manager struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) the leveldb database at dir.
func Open(dir string) (*Manager, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", dir, err)
	}
	return &Manager{db: db}, nil
}

// Close releases the underlying database handle.
func (m *Manager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores value under key using RLP encoding, hashed with keccak256 to
// spread keys evenly across the underlying LSM tree.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded, nil)
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(kvKey(key), nil)
}

// KVGet retrieves and RLP-decodes the value under key into out. The bool
// return reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends value to the RLP-encoded byte-slice list stored under
// key, ignoring duplicates to keep any derived index deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.db.Get(hashed, nil)
	if err != nil && err != leveldb.ErrNotFound {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	found := false
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			found = true
			break
		}
	}
	if !found {
		list = append(list, append([]byte(nil), value...))
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(hashed, encoded, nil)
}

// KVGetList retrieves the RLP-encoded slice stored under key into out, an
// empty slice if absent.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key), nil)
	if err != nil && err != leveldb.ErrNotFound {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// IteratePrefix scans every stored entry whose stored key begins with
// prefix. Stored keys are keccak256-hashed, so prefix is matched against the
// hashed keyspace, not raw keys; callers pass an already-hashed key (a kvKey
// value) as prefix.
func (m *Manager) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter := m.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
