package storage

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/purpexlabs/purpex/pkg/exchange"
	"github.com/purpexlabs/purpex/pkg/token"
)

var (
	assetA = common.HexToAddress("0x1100000000000000000000000000000000000001")
	userA  = common.HexToAddress("0xAA00000000000000000000000000000000000001")
	userB  = common.HexToAddress("0xBB00000000000000000000000000000000000002")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "purpex.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveBalance(assetA, userA, 1000); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.SaveBalance(exchange.NativeAsset, userB, 42); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// overwrites replace, not accumulate
	if err := s.SaveBalance(assetA, userA, 900); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	got := make(map[common.Address]map[common.Address]uint64)
	err := s.LoadBalances(func(asset, user common.Address, amount uint64) error {
		if got[asset] == nil {
			got[asset] = make(map[common.Address]uint64)
		}
		got[asset][user] = amount
		return nil
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got[assetA][userA] != 900 {
		t.Errorf("asset balance = %d, want 900", got[assetA][userA])
	}
	if got[exchange.NativeAsset][userB] != 42 {
		t.Errorf("native balance = %d, want 42", got[exchange.NativeAsset][userB])
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)

	orders := []*exchange.Order{
		{ID: 1, Maker: userA, AssetGet: assetA, AmountGet: 100, AssetGive: exchange.NativeAsset, AmountGive: 1, Timestamp: 1700000000000, Status: exchange.OrderFilled},
		{ID: 2, Maker: userB, AssetGet: exchange.NativeAsset, AmountGet: 1, AssetGive: assetA, AmountGive: 100, Timestamp: 1700000001000, Status: exchange.OrderOpen},
	}
	for _, o := range orders {
		if err := s.SaveOrder(o); err != nil {
			t.Fatalf("save order %d failed: %v", o.ID, err)
		}
	}

	var loaded []exchange.Order
	err := s.LoadOrders(func(o *exchange.Order) error {
		loaded = append(loaded, *o)
		return nil
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("loaded %d orders, want 2", len(loaded))
	}
	for i, o := range loaded {
		if o != *orders[i] {
			t.Errorf("order %d mismatch: got %+v, want %+v", o.ID, o, *orders[i])
		}
	}
}

func TestOrderSeqRoundTrip(t *testing.T) {
	s := newTestStore(t)

	seq, err := s.LoadOrderSeq()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("fresh store seq = %d, want 0", seq)
	}

	if err := s.SaveOrderSeq(17); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	seq, err = s.LoadOrderSeq()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if seq != 17 {
		t.Errorf("seq = %d, want 17", seq)
	}
}

func TestEventRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.AppendEvent(1, "deposit", []byte(`{"seq":1,"amount":100}`)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.AppendEvent(2, "order", []byte(`{"seq":2,"id":1}`)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	type entry struct {
		seq     uint64
		typ     string
		payload string
	}
	var loaded []entry
	err := s.LoadEvents(func(seq uint64, typ string, payload []byte) error {
		loaded = append(loaded, entry{seq, typ, string(payload)})
		return nil
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	want := []entry{
		{1, "deposit", `{"seq":1,"amount":100}`},
		{2, "order", `{"seq":2,"id":1}`},
	}
	if len(loaded) != len(want) {
		t.Fatalf("loaded %d events, want %d", len(loaded), len(want))
	}
	for i := range want {
		if loaded[i] != want[i] {
			t.Errorf("event %d: got %+v, want %+v", i, loaded[i], want[i])
		}
	}
}

// A full crash-restart cycle: one engine writes through the store, a second
// engine restores from it and must see identical state.
func TestEngineRestore(t *testing.T) {
	s := newTestStore(t)

	treasury := common.HexToAddress("0xDD00000000000000000000000000000000000009")
	feeAccount := common.HexToAddress("0xFE00000000000000000000000000000000000009")

	reg := token.NewRegistry()
	purp, err := reg.Deploy("Purp Token", "PURP", 6, 1_000_000, treasury)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	eng1, err := exchange.New(exchange.Config{
		FeeAccount: feeAccount,
		FeePercent: 10,
		Registry:   reg,
		Store:      s,
	})
	if err != nil {
		t.Fatalf("engine 1 failed: %v", err)
	}

	if err := eng1.DepositNative(userA, 5); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := purp.Transfer(treasury, userB, 110); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := purp.Approve(userB, eng1.Custody(), 110); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if err := eng1.DepositToken(purp.Address(), userB, 110); err != nil {
		t.Fatalf("token deposit failed: %v", err)
	}

	id, err := eng1.MakeOrder(userA, purp.Address(), 100, exchange.NativeAsset, 1)
	if err != nil {
		t.Fatalf("make order failed: %v", err)
	}
	if err := eng1.FillOrder(id, userB); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	cancelID, err := eng1.MakeOrder(userA, purp.Address(), 10, exchange.NativeAsset, 1)
	if err != nil {
		t.Fatalf("make order failed: %v", err)
	}
	if err := eng1.CancelOrder(cancelID, userA); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// second engine, same store
	eng2, err := exchange.New(exchange.Config{
		FeeAccount: feeAccount,
		FeePercent: 10,
		Registry:   reg,
		Store:      s,
	})
	if err != nil {
		t.Fatalf("engine 2 failed: %v", err)
	}
	if err := eng2.Restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	pairs := []struct {
		asset common.Address
		user  common.Address
	}{
		{exchange.NativeAsset, userA},
		{exchange.NativeAsset, userB},
		{purp.Address(), userA},
		{purp.Address(), userB},
		{purp.Address(), feeAccount},
	}
	for _, p := range pairs {
		if got, want := eng2.BalanceOf(p.asset, p.user), eng1.BalanceOf(p.asset, p.user); got != want {
			t.Errorf("restored balance (%s, %s) = %d, want %d", p.asset.Hex(), p.user.Hex(), got, want)
		}
	}

	if got, want := eng2.OrderCount(), eng1.OrderCount(); got != want {
		t.Errorf("restored order count = %d, want %d", got, want)
	}
	o1, err := eng2.Order(id)
	if err != nil {
		t.Fatalf("restored order %d missing: %v", id, err)
	}
	if o1.Status != exchange.OrderFilled {
		t.Errorf("restored order %d status = %s, want filled", id, o1.Status)
	}
	o2, err := eng2.Order(cancelID)
	if err != nil {
		t.Fatalf("restored order %d missing: %v", cancelID, err)
	}
	if o2.Status != exchange.OrderCancelled {
		t.Errorf("restored order %d status = %s, want cancelled", cancelID, o2.Status)
	}

	ev1, ev2 := eng1.Events(0), eng2.Events(0)
	if len(ev2) != len(ev1) {
		t.Fatalf("restored journal has %d events, want %d", len(ev2), len(ev1))
	}
	for i := range ev1 {
		if ev2[i].Type() != ev1[i].Type() || ev2[i].EventSeq() != ev1[i].EventSeq() {
			t.Errorf("restored event %d = (%s, %d), want (%s, %d)",
				i, ev2[i].Type(), ev2[i].EventSeq(), ev1[i].Type(), ev1[i].EventSeq())
		}
	}

	// restored sequences keep advancing from where they left off
	next, err := eng2.MakeOrder(userB, exchange.NativeAsset, 1, purp.Address(), 10)
	if err != nil {
		t.Fatalf("post-restore make order failed: %v", err)
	}
	if next != cancelID+1 {
		t.Errorf("post-restore order id = %d, want %d", next, cancelID+1)
	}
}
