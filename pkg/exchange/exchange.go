// Package exchange implements the custodial escrow ledger, order registry,
// and settlement engine. Users deposit the native asset or registered tokens
// into exchange custody, post limit orders against that escrow, and have
// orders filled atomically by counterparties, with a fee taken on every
// trade. The engine exclusively owns the balance table and order registry;
// every public operation is all-or-nothing.
package exchange

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/purpexlabs/purpex/pkg/token"
	"github.com/purpexlabs/purpex/pkg/util"
)

// NativeAsset is the reserved sentinel denoting the host's built-in value
// unit in place of a token address.
var NativeAsset = common.Address{}

// balanceKey identifies one cell of the balance table.
type balanceKey struct {
	Asset common.Address
	User  common.Address
}

// Store is the durability layer the engine writes through. Writes are
// applied after the in-memory commit; the in-memory state is authoritative.
type Store interface {
	SaveBalance(asset, user common.Address, amount uint64) error
	SaveOrder(o *Order) error
	SaveOrderSeq(seq uint64) error
	AppendEvent(seq uint64, typ string, payload []byte) error

	LoadBalances(fn func(asset, user common.Address, amount uint64) error) error
	LoadOrders(fn func(o *Order) error) error
	LoadOrderSeq() (uint64, error)
	LoadEvents(fn func(seq uint64, typ string, payload []byte) error) error
}

// Config carries the immutable construction-time parameters plus injectable
// collaborators. FeeAccount and FeePercent cannot change for the lifetime of
// the engine.
type Config struct {
	FeeAccount common.Address
	FeePercent uint64 // integer percent, 0-100

	// Custody is the exchange's own account on the token ledgers. Derived
	// deterministically when left zero.
	Custody common.Address

	Registry *token.Registry
	Store    Store
	Sink     EventSink
	Clock    util.Clock
	Logger   *zap.SugaredLogger
}

// Exchange owns the per-user, per-asset escrow balances and the order
// registry. A single mutex serializes every operation, so each call applies
// atomically relative to every other.
type Exchange struct {
	mu sync.RWMutex

	feeAccount common.Address
	feePercent uint64
	custody    common.Address

	registry *token.Registry

	balances      map[balanceKey]uint64
	nativeCustody uint64 // total native value held in custody

	orders   map[uint64]*Order
	orderSeq uint64

	eventSeq uint64
	journal  []Event

	store Store
	sink  EventSink
	clock util.Clock
	log   *zap.SugaredLogger
}

// New creates an exchange engine. Fails if FeePercent is outside [0,100].
func New(cfg Config) (*Exchange, error) {
	if cfg.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent %d out of range [0,100]", cfg.FeePercent)
	}
	if cfg.Registry == nil {
		cfg.Registry = token.NewRegistry()
	}
	if cfg.Custody == (common.Address{}) {
		cfg.Custody = deriveCustodyAddress()
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	return &Exchange{
		feeAccount: cfg.FeeAccount,
		feePercent: cfg.FeePercent,
		custody:    cfg.Custody,
		registry:   cfg.Registry,
		balances:   make(map[balanceKey]uint64),
		orders:     make(map[uint64]*Order),
		store:      cfg.Store,
		sink:       cfg.Sink,
		clock:      cfg.Clock,
		log:        cfg.Logger,
	}, nil
}

func (x *Exchange) FeeAccount() common.Address { return x.feeAccount }
func (x *Exchange) FeePercent() uint64         { return x.feePercent }
func (x *Exchange) Custody() common.Address    { return x.custody }

// SetSink registers the event sink. Must be called before the engine is
// shared across goroutines.
func (x *Exchange) SetSink(sink EventSink) { x.sink = sink }

// DepositNative credits a confirmed native-value transfer into custody. The
// value transfer and the accounting are inseparable in the host model, so
// there is no allowance step.
func (x *Exchange) DepositNative(user common.Address, amount uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.nativeCustody > math.MaxUint64-amount {
		return fmt.Errorf("%w: custody overflow", ErrInvalidAmount)
	}

	bal, err := x.credit(NativeAsset, user, amount)
	if err != nil {
		return err
	}
	x.nativeCustody += amount
	x.persistBalance(balanceKey{Asset: NativeAsset, User: user})

	x.emit(DepositEvent{
		Sequence:  x.nextEventSeq(),
		Asset:     NativeAsset,
		User:      user,
		Amount:    amount,
		Balance:   bal,
		Timestamp: x.clock.Now().UnixMilli(),
	})
	return nil
}

// DepositToken pulls amount of a registered token from the user into custody
// via the token ledger's delegated transfer, then credits the user's escrow
// balance. The user must have approved the custody account beforehand; a
// ledger rejection surfaces as ErrLedgerTransferRejected with no accounting
// change.
func (x *Exchange) DepositToken(asset, user common.Address, amount uint64) error {
	if asset == NativeAsset {
		return fmt.Errorf("%w: use DepositNative for the native asset", ErrNativeAssetRejected)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	led, err := x.registry.Get(asset)
	if err != nil {
		return err
	}
	if err := led.TransferFrom(user, x.custody, x.custody, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerTransferRejected, err)
	}

	bal, err := x.credit(asset, user, amount)
	if err != nil {
		// Undo the ledger movement so the failure has no effect.
		if rerr := led.Transfer(x.custody, user, amount); rerr != nil {
			x.log.Errorw("deposit_rollback_failed", "asset", asset.Hex(), "user", user.Hex(), "err", rerr)
		}
		return err
	}
	x.persistBalance(balanceKey{Asset: asset, User: user})

	x.emit(DepositEvent{
		Sequence:  x.nextEventSeq(),
		Asset:     asset,
		User:      user,
		Amount:    amount,
		Balance:   bal,
		Timestamp: x.clock.Now().UnixMilli(),
	})
	return nil
}

// WithdrawNative debits the user's native escrow balance and releases the
// value from custody. The debit rolls back if the release fails.
func (x *Exchange) WithdrawNative(user common.Address, amount uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	k := balanceKey{Asset: NativeAsset, User: user}
	if x.balances[k] < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, x.balances[k], amount)
	}

	x.balances[k] -= amount
	if x.nativeCustody < amount {
		x.balances[k] += amount
		return fmt.Errorf("%w: custody holds %d, need %d", ErrInsufficientBalance, x.nativeCustody, amount)
	}
	x.nativeCustody -= amount
	x.persistBalance(k)

	x.emit(WithdrawEvent{
		Sequence:  x.nextEventSeq(),
		Asset:     NativeAsset,
		User:      user,
		Amount:    amount,
		Balance:   x.balances[k],
		Timestamp: x.clock.Now().UnixMilli(),
	})
	return nil
}

// WithdrawToken debits the user's escrow balance and pushes the tokens from
// custody back to the user on the token ledger. The debit rolls back if the
// ledger transfer fails.
func (x *Exchange) WithdrawToken(asset, user common.Address, amount uint64) error {
	if asset == NativeAsset {
		return fmt.Errorf("%w: use WithdrawNative for the native asset", ErrNativeAssetRejected)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	led, err := x.registry.Get(asset)
	if err != nil {
		return err
	}

	k := balanceKey{Asset: asset, User: user}
	if x.balances[k] < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, x.balances[k], amount)
	}

	x.balances[k] -= amount
	if err := led.Transfer(x.custody, user, amount); err != nil {
		x.balances[k] += amount
		return fmt.Errorf("%w: %w", ErrLedgerTransferRejected, err)
	}
	x.persistBalance(k)

	x.emit(WithdrawEvent{
		Sequence:  x.nextEventSeq(),
		Asset:     asset,
		User:      user,
		Amount:    amount,
		Balance:   x.balances[k],
		Timestamp: x.clock.Now().UnixMilli(),
	})
	return nil
}

// BalanceOf returns the escrowed balance for (asset, user). Pure read, never
// fails; unknown pairs read as zero.
func (x *Exchange) BalanceOf(asset, user common.Address) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.balances[balanceKey{Asset: asset, User: user}]
}

// BalancesFor returns every non-zero escrow balance held by a user.
func (x *Exchange) BalancesFor(user common.Address) map[common.Address]uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[common.Address]uint64)
	for k, v := range x.balances {
		if k.User == user && v > 0 {
			out[k.Asset] = v
		}
	}
	return out
}

// Events returns journal entries with sequence numbers greater than since.
func (x *Exchange) Events(since uint64) []Event {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Event, 0, len(x.journal))
	for _, ev := range x.journal {
		if ev.EventSeq() > since {
			out = append(out, ev)
		}
	}
	return out
}

// Restore reloads balances, orders, sequences, and the event journal from
// the store. Call once at startup, before serving traffic.
func (x *Exchange) Restore() error {
	if x.store == nil {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	seq, err := x.store.LoadOrderSeq()
	if err != nil {
		return fmt.Errorf("load order seq: %w", err)
	}
	x.orderSeq = seq

	err = x.store.LoadBalances(func(asset, user common.Address, amount uint64) error {
		x.balances[balanceKey{Asset: asset, User: user}] = amount
		if asset == NativeAsset {
			x.nativeCustody += amount
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}

	err = x.store.LoadOrders(func(o *Order) error {
		x.orders[o.ID] = o
		return nil
	})
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}

	err = x.store.LoadEvents(func(seq uint64, typ string, payload []byte) error {
		ev, err := decodeEvent(typ, payload)
		if err != nil {
			return err
		}
		x.journal = append(x.journal, ev)
		x.eventSeq = seq
		return nil
	})
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	x.log.Infow("state_restored",
		"balances", len(x.balances),
		"orders", len(x.orders),
		"order_seq", x.orderSeq,
		"events", len(x.journal),
	)
	return nil
}

// credit adds amount to (asset, user) and returns the new balance. Caller
// must hold the lock.
func (x *Exchange) credit(asset, user common.Address, amount uint64) (uint64, error) {
	k := balanceKey{Asset: asset, User: user}
	cur := x.balances[k]
	if cur > math.MaxUint64-amount {
		return 0, fmt.Errorf("%w: balance overflow for %s", ErrInvalidAmount, user.Hex())
	}
	x.balances[k] = cur + amount
	return cur + amount, nil
}

func (x *Exchange) nextEventSeq() uint64 {
	x.eventSeq++
	return x.eventSeq
}

// emit appends the event to the journal, persists it, and publishes it to
// the sink. Caller must hold the lock; the event must already carry its
// sequence number.
func (x *Exchange) emit(ev Event) {
	x.journal = append(x.journal, ev)

	if x.store != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			x.log.Errorw("event_marshal_failed", "type", ev.Type(), "err", err)
		} else if err := x.store.AppendEvent(ev.EventSeq(), ev.Type(), payload); err != nil {
			x.log.Errorw("event_persist_failed", "type", ev.Type(), "seq", ev.EventSeq(), "err", err)
		}
	}

	if x.sink != nil {
		x.sink.Publish(ev)
	}
}

// persistBalance writes one balance cell through to the store. Durability is
// write-behind: a store failure is logged, the in-memory commit stands.
func (x *Exchange) persistBalance(k balanceKey) {
	if x.store == nil {
		return
	}
	if err := x.store.SaveBalance(k.Asset, k.User, x.balances[k]); err != nil {
		x.log.Errorw("balance_persist_failed", "asset", k.Asset.Hex(), "user", k.User.Hex(), "err", err)
	}
}

func (x *Exchange) persistOrder(o *Order) {
	if x.store == nil {
		return
	}
	if err := x.store.SaveOrder(o); err != nil {
		x.log.Errorw("order_persist_failed", "id", o.ID, "err", err)
	}
}

func (x *Exchange) persistOrderSeq() {
	if x.store == nil {
		return
	}
	if err := x.store.SaveOrderSeq(x.orderSeq); err != nil {
		x.log.Errorw("order_seq_persist_failed", "seq", x.orderSeq, "err", err)
	}
}

func deriveCustodyAddress() common.Address {
	h := crypto.Keccak256([]byte("purpex/custody/v1"))
	return common.BytesToAddress(h[12:])
}
