package exchange

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus represents the lifecycle state of an order. Cancelled and
// filled are terminal, mutually exclusive, and irreversible.
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderCancelled
	OrderFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderCancelled:
		return "cancelled"
	case OrderFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// Order is a limit order against escrowed balances: the maker wants AmountGet
// of AssetGet in exchange for AmountGive of AssetGive. Immutable once created
// except for Status.
type Order struct {
	ID         uint64         `json:"id"`
	Maker      common.Address `json:"maker"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  uint64         `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive uint64         `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // Unix milliseconds
	Status     OrderStatus    `json:"status"`
}

// IsFinal returns true once the order has been cancelled or filled.
func (o *Order) IsFinal() bool {
	return o.Status == OrderCancelled || o.Status == OrderFilled
}

// MakeOrder posts a new order and returns its id. Ids start at 1, increase
// strictly, and are never reused, even after cancellation. The maker's
// AssetGive balance is deliberately not checked here: an order may be posted
// before it is funded, and insufficiency surfaces at fill time.
func (x *Exchange) MakeOrder(maker, assetGet common.Address, amountGet uint64, assetGive common.Address, amountGive uint64) (uint64, error) {
	if amountGet == 0 || amountGive == 0 {
		return 0, fmt.Errorf("%w: order amounts must be positive", ErrInvalidAmount)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.orderSeq++
	o := &Order{
		ID:         x.orderSeq,
		Maker:      maker,
		AssetGet:   assetGet,
		AmountGet:  amountGet,
		AssetGive:  assetGive,
		AmountGive: amountGive,
		Timestamp:  x.clock.Now().UnixMilli(),
		Status:     OrderOpen,
	}
	x.orders[o.ID] = o
	x.persistOrder(o)
	x.persistOrderSeq()

	x.emit(OrderEvent{
		Sequence:   x.nextEventSeq(),
		ID:         o.ID,
		Maker:      o.Maker,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
	})

	return o.ID, nil
}

// CancelOrder marks an open order cancelled. Maker-only; no balance changes.
func (x *Exchange) CancelOrder(id uint64, caller common.Address) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if caller != o.Maker {
		return fmt.Errorf("%w: only the maker may cancel order %d", ErrUnauthorized, id)
	}
	if o.IsFinal() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderAlreadyFinal, id, o.Status)
	}

	o.Status = OrderCancelled
	x.persistOrder(o)

	x.emit(CancelEvent{
		Sequence:   x.nextEventSeq(),
		ID:         o.ID,
		Maker:      o.Maker,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive,
		Timestamp:  x.clock.Now().UnixMilli(),
	})

	return nil
}

// FillOrder settles an open order against the caller's escrowed balances.
// The caller pays AmountGet plus the fee in AssetGet and receives AmountGive
// in AssetGive; the fee account receives the fee. Settlement is staged and
// committed as one atomic unit: any failure leaves every balance and the
// order status exactly as before the call.
func (x *Exchange) FillOrder(id uint64, caller common.Address) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.IsFinal() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderAlreadyFinal, id, o.Status)
	}

	fee := feeFor(o.AmountGet, x.feePercent)
	cost, ok := addU64(o.AmountGet, fee)
	if !ok {
		return fmt.Errorf("%w: fill cost overflows", ErrInvalidAmount)
	}

	// Stage the five balance movements in settlement order; discarding the
	// staging on any failure is the rollback.
	st := x.newStaging()
	if err := st.debit(o.AssetGet, caller, cost); err != nil {
		return fmt.Errorf("filler get-leg: %w", err)
	}
	if err := st.credit(o.AssetGet, o.Maker, o.AmountGet); err != nil {
		return err
	}
	if err := st.credit(o.AssetGet, x.feeAccount, fee); err != nil {
		return err
	}
	if err := st.debit(o.AssetGive, o.Maker, o.AmountGive); err != nil {
		return fmt.Errorf("maker give-leg: %w", err)
	}
	if err := st.credit(o.AssetGive, caller, o.AmountGive); err != nil {
		return err
	}
	st.commit()

	o.Status = OrderFilled
	x.persistOrder(o)

	x.emit(TradeEvent{
		Sequence:   x.nextEventSeq(),
		OrderID:    o.ID,
		Maker:      o.Maker,
		AssetGet:   o.AssetGet,
		AmountGet:  o.AmountGet,
		AssetGive:  o.AssetGive,
		AmountGive: o.AmountGive,
		Filler:     caller,
		Fee:        fee,
		Timestamp:  x.clock.Now().UnixMilli(),
	})

	return nil
}

// Order returns a copy of the order with the given id.
func (x *Exchange) Order(id uint64) (Order, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	o, ok := x.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return *o, nil
}

// Orders returns copies of all orders, sorted by id.
func (x *Exchange) Orders() []Order {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Order, 0, len(x.orders))
	for id := uint64(1); id <= x.orderSeq; id++ {
		if o, ok := x.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// OrderCount returns the highest order id assigned so far.
func (x *Exchange) OrderCount() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.orderSeq
}

// staging accumulates balance movements against a scratch view of the table.
// Reads fall through to the live table, writes stay staged until commit, so a
// discarded staging has no effect. Movements apply sequentially, which keeps
// the semantics exact when both legs reference the same asset.
type staging struct {
	x    *Exchange
	vals map[balanceKey]uint64
	keys []balanceKey
}

func (x *Exchange) newStaging() *staging {
	return &staging{x: x, vals: make(map[balanceKey]uint64)}
}

func (s *staging) balance(k balanceKey) uint64 {
	if v, ok := s.vals[k]; ok {
		return v
	}
	return s.x.balances[k]
}

func (s *staging) set(k balanceKey, v uint64) {
	if _, ok := s.vals[k]; !ok {
		s.keys = append(s.keys, k)
	}
	s.vals[k] = v
}

func (s *staging) credit(asset, user common.Address, amount uint64) error {
	k := balanceKey{Asset: asset, User: user}
	cur := s.balance(k)
	if cur > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance overflow for %s", ErrInvalidAmount, user.Hex())
	}
	s.set(k, cur+amount)
	return nil
}

func (s *staging) debit(asset, user common.Address, amount uint64) error {
	k := balanceKey{Asset: asset, User: user}
	cur := s.balance(k)
	if cur < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, cur, amount)
	}
	s.set(k, cur-amount)
	return nil
}

// commit writes the staged balances back to the live table. Caller must hold
// the engine lock.
func (s *staging) commit() {
	for _, k := range s.keys {
		s.x.balances[k] = s.vals[k]
		s.x.persistBalance(k)
	}
}

// feeFor computes floor(amount * percent / 100) without intermediate
// overflow; percent is at most 100.
func feeFor(amount, percent uint64) uint64 {
	q, r := amount/100, amount%100
	return q*percent + r*percent/100
}

func addU64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}
