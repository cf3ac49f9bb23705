// Package storage provides the Pebble-backed durability layer for the
// exchange engine: balance cells, orders, the order-id sequence, and the
// append-only event journal.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/purpexlabs/purpex/pkg/exchange"
)

// Key layout:
//
//	bal/<asset 20><user 20> -> amount (8 bytes, big-endian)
//	ord/<id 8 BE>           -> Order (JSON)
//	seq/orders              -> last assigned order id (8 bytes, big-endian)
//	evt/<seq 8 BE>          -> event envelope (JSON)
var (
	balPrefix   = []byte("bal/")
	ordPrefix   = []byte("ord/")
	evtPrefix   = []byte("evt/")
	orderSeqKey = []byte("seq/orders")
)

// eventEnvelope wraps a typed event payload with its type tag so the journal
// can be rebuilt without knowing the concrete type up front.
type eventEnvelope struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// Store persists exchange state in a Pebble database.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:          32 << 20,                  // 32MB memtable
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBalance writes one (asset, user) balance cell. A zero amount is stored
// rather than deleted so restored state matches the engine's view exactly.
func (s *Store) SaveBalance(asset, user common.Address, amount uint64) error {
	if err := s.db.Set(balanceKey(asset, user), u64be(amount), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadBalances iterates every stored balance cell.
func (s *Store) LoadBalances(fn func(asset, user common.Address, amount uint64) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: balPrefix,
		UpperBound: keyUpperBound(balPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(balPrefix)+2*common.AddressLength {
			continue // skip malformed keys
		}
		asset := common.BytesToAddress(key[len(balPrefix) : len(balPrefix)+common.AddressLength])
		user := common.BytesToAddress(key[len(balPrefix)+common.AddressLength:])
		if err := fn(asset, user, beU64(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

// SaveOrder persists an order.
func (s *Store) SaveOrder(o *exchange.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return nil
}

// LoadOrders iterates every stored order in id order.
func (s *Store) LoadOrders(fn func(o *exchange.Order) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: ordPrefix,
		UpperBound: keyUpperBound(ordPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o exchange.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		if err := fn(&o); err != nil {
			return err
		}
	}
	return iter.Error()
}

// SaveOrderSeq records the last assigned order id.
func (s *Store) SaveOrderSeq(seq uint64) error {
	if err := s.db.Set(orderSeqKey, u64be(seq), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order seq: %w", err)
	}
	return nil
}

// LoadOrderSeq returns the last assigned order id, zero if none.
func (s *Store) LoadOrderSeq() (uint64, error) {
	data, closer, err := s.db.Get(orderSeqKey)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get order seq: %w", err)
	}
	defer closer.Close()
	return beU64(data), nil
}

// AppendEvent appends one journal entry under its sequence number.
func (s *Store) AppendEvent(seq uint64, typ string, payload []byte) error {
	env, err := json.Marshal(eventEnvelope{Type: typ, Event: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	if err := s.db.Set(eventKey(seq), env, pebble.Sync); err != nil {
		return fmt.Errorf("failed to append event %d: %w", seq, err)
	}
	return nil
}

// LoadEvents iterates the journal in sequence order.
func (s *Store) LoadEvents(fn func(seq uint64, typ string, payload []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: evtPrefix,
		UpperBound: keyUpperBound(evtPrefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(evtPrefix)+8 {
			continue
		}
		seq := beU64(key[len(evtPrefix):])

		var env eventEnvelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			return fmt.Errorf("failed to unmarshal event %d: %w", seq, err)
		}
		if err := fn(seq, env.Type, env.Event); err != nil {
			return err
		}
	}
	return iter.Error()
}

var _ exchange.Store = (*Store)(nil)
