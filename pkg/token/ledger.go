// Package token implements a minimal fungible-asset ledger with transfer,
// allowance, and delegated-transfer semantics. One Ledger instance tracks one
// asset; the exchange engine consumes it to move tokens in and out of custody.
package token

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidRecipient      = errors.New("token: invalid recipient")
	ErrAssetNotFound         = errors.New("token: asset not found")
)

// Event is implemented by TransferEvent and ApprovalEvent.
type Event interface {
	Type() string
}

// TransferEvent records a completed balance movement.
type TransferEvent struct {
	Asset  common.Address `json:"asset"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

func (TransferEvent) Type() string { return "transfer" }

// ApprovalEvent records an allowance grant.
type ApprovalEvent struct {
	Asset   common.Address `json:"asset"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  uint64         `json:"amount"`
}

func (ApprovalEvent) Type() string { return "approval" }

// Ledger is a thread-safe balance/allowance store for a single fungible asset.
// All mutations are atomic: either the full amount moves or the call fails
// with no effect.
type Ledger struct {
	mu         sync.RWMutex
	address    common.Address
	name       string
	symbol     string
	decimals   uint8
	supply     uint64
	balances   map[common.Address]uint64
	allowances map[common.Address]map[common.Address]uint64 // owner -> spender -> amount
	sink       func(Event)
}

// NewLedger creates a ledger and mints the entire supply to the deployer.
func NewLedger(address common.Address, name, symbol string, decimals uint8, supply uint64, deployer common.Address) *Ledger {
	l := &Ledger{
		address:    address,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		supply:     supply,
		balances:   make(map[common.Address]uint64),
		allowances: make(map[common.Address]map[common.Address]uint64),
	}
	l.balances[deployer] = supply
	return l
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Name() string            { return l.name }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Decimals() uint8         { return l.decimals }
func (l *Ledger) TotalSupply() uint64     { return l.supply }

// SetSink registers a callback invoked for every Transfer/Approval event.
// Must be set before the ledger is shared across goroutines.
func (l *Ledger) SetSink(sink func(Event)) { l.sink = sink }

// BalanceOf returns the balance of an account. Never fails.
func (l *Ledger) BalanceOf(account common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// Allowance returns the remaining amount spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[owner][spender]
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.move(from, to, amount); err != nil {
		return err
	}

	l.emit(TransferEvent{Asset: l.address, From: from, To: to, Amount: amount})
	return nil
}

// Approve grants spender the right to move up to amount on behalf of owner.
// Overwrites any previous allowance.
func (l *Ledger) Approve(owner, spender common.Address, amount uint64) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("%w: zero spender", ErrInvalidRecipient)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	grants, ok := l.allowances[owner]
	if !ok {
		grants = make(map[common.Address]uint64)
		l.allowances[owner] = grants
	}
	grants[spender] = amount

	l.emit(ApprovalEvent{Asset: l.address, Owner: owner, Spender: spender, Amount: amount})
	return nil
}

// TransferFrom moves amount from owner to recipient, consuming spender's
// allowance. Balance is checked before allowance, so an unfunded owner
// surfaces as ErrInsufficientBalance even when no allowance exists.
func (l *Ledger) TransferFrom(owner, spender, to common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[owner] < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, l.balances[owner], amount)
	}
	allowed := l.allowances[owner][spender]
	if allowed < amount {
		return fmt.Errorf("%w: allowed %d, need %d", ErrInsufficientAllowance, allowed, amount)
	}

	if err := l.move(owner, to, amount); err != nil {
		return err
	}
	l.allowances[owner][spender] = allowed - amount

	l.emit(TransferEvent{Asset: l.address, From: owner, To: to, Amount: amount})
	return nil
}

// move applies a balance movement. Caller must hold the lock.
func (l *Ledger) move(from, to common.Address, amount uint64) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}
	if l.balances[from] < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, l.balances[from], amount)
	}
	if l.balances[to] > math.MaxUint64-amount {
		return fmt.Errorf("%w: recipient balance overflow", ErrInvalidRecipient)
	}

	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *Ledger) emit(ev Event) {
	if l.sink != nil {
		l.sink(ev)
	}
}
