package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Registry tracks deployed token ledgers by their contract-style address.
// The zero address is reserved as the native-asset sentinel and can never
// hold a ledger.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[common.Address]*Ledger
}

func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[common.Address]*Ledger)}
}

// Deploy creates a new ledger with a deterministic address derived from its
// identity, mints the supply to the deployer, and registers it.
func (r *Registry) Deploy(name, symbol string, decimals uint8, supply uint64, deployer common.Address) (*Ledger, error) {
	addr := DeriveAddress(name, symbol, deployer)
	l := NewLedger(addr, name, symbol, decimals, supply, deployer)
	if err := r.Register(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Register adds an existing ledger to the registry.
func (r *Registry) Register(l *Ledger) error {
	if l == nil {
		return fmt.Errorf("cannot register nil ledger")
	}
	if l.Address() == (common.Address{}) {
		return fmt.Errorf("address %s is reserved for the native asset", l.Address().Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ledgers[l.Address()]; exists {
		return fmt.Errorf("asset %s already registered", l.Address().Hex())
	}
	r.ledgers[l.Address()] = l
	return nil
}

// Get retrieves a ledger by asset address.
func (r *Registry) Get(asset common.Address) (*Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, exists := r.ledgers[asset]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset.Hex())
	}
	return l, nil
}

// List returns all registered ledgers.
func (r *Registry) List() []*Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Ledger, 0, len(r.ledgers))
	for _, l := range r.ledgers {
		out = append(out, l)
	}
	return out
}

// DeriveAddress computes a deterministic contract-style address for a ledger
// from its identity. Stable across restarts so persisted exchange balances
// keep pointing at the same asset.
func DeriveAddress(name, symbol string, deployer common.Address) common.Address {
	h := crypto.Keccak256([]byte(name), []byte(symbol), deployer.Bytes())
	return common.BytesToAddress(h[12:])
}
