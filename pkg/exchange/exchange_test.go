package exchange_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/purpexlabs/purpex/pkg/exchange"
	"github.com/purpexlabs/purpex/pkg/token"
)

var (
	feeAccount = common.HexToAddress("0xFE00000000000000000000000000000000000001")
	treasury   = common.HexToAddress("0xDD00000000000000000000000000000000000002")
	user1      = common.HexToAddress("0xAA00000000000000000000000000000000000003")
	user2      = common.HexToAddress("0xBB00000000000000000000000000000000000004")
)

// captureSink records every published event in order.
type captureSink struct {
	events []exchange.Event
}

func (s *captureSink) Publish(ev exchange.Event) { s.events = append(s.events, ev) }

func (s *captureSink) last(t *testing.T) exchange.Event {
	t.Helper()
	if len(s.events) == 0 {
		t.Fatal("no events published")
	}
	return s.events[len(s.events)-1]
}

type testEnv struct {
	eng  *exchange.Exchange
	purp *token.Ledger
	sink *captureSink
}

// newTestEnv builds an engine with a deployed PURP ledger and an in-memory
// event sink. No store: persistence is covered in pkg/storage.
func newTestEnv(t *testing.T, feePercent uint64) *testEnv {
	t.Helper()

	reg := token.NewRegistry()
	purp, err := reg.Deploy("Purp Token", "PURP", 6, 1_000_000_000, treasury)
	if err != nil {
		t.Fatalf("failed to deploy token: %v", err)
	}

	sink := &captureSink{}
	eng, err := exchange.New(exchange.Config{
		FeeAccount: feeAccount,
		FeePercent: feePercent,
		Registry:   reg,
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return &testEnv{eng: eng, purp: purp, sink: sink}
}

// fundToken escrows amount of PURP for user: treasury grant, custody
// approval, then deposit.
func (env *testEnv) fundToken(t *testing.T, user common.Address, amount uint64) {
	t.Helper()
	if err := env.purp.Transfer(treasury, user, amount); err != nil {
		t.Fatalf("treasury grant failed: %v", err)
	}
	if err := env.purp.Approve(user, env.eng.Custody(), amount); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if err := env.eng.DepositToken(env.purp.Address(), user, amount); err != nil {
		t.Fatalf("token deposit failed: %v", err)
	}
}

func TestNewRejectsFeePercentOutOfRange(t *testing.T) {
	_, err := exchange.New(exchange.Config{FeeAccount: feeAccount, FeePercent: 101})
	if err == nil {
		t.Error("expected error for fee percent > 100")
	}
}

func TestDepositNative(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.eng.DepositNative(user1, 1000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if got := env.eng.BalanceOf(exchange.NativeAsset, user1); got != 1000 {
		t.Errorf("native balance = %d, want 1000", got)
	}

	ev, ok := env.sink.last(t).(exchange.DepositEvent)
	if !ok {
		t.Fatalf("expected DepositEvent, got %T", env.sink.last(t))
	}
	if ev.Asset != exchange.NativeAsset {
		t.Errorf("event asset = %s, want native sentinel", ev.Asset.Hex())
	}
	if ev.User != user1 || ev.Amount != 1000 || ev.Balance != 1000 {
		t.Errorf("unexpected deposit event: %+v", ev)
	}
	if ev.Timestamp == 0 {
		t.Error("deposit event missing timestamp")
	}
}

func TestDepositNativeThenWithdrawRoundTrip(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.eng.DepositNative(user1, 500); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := env.eng.WithdrawNative(user1, 500); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := env.eng.BalanceOf(exchange.NativeAsset, user1); got != 0 {
		t.Errorf("balance after round trip = %d, want 0", got)
	}

	if len(env.sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(env.sink.events))
	}
	dep, ok := env.sink.events[0].(exchange.DepositEvent)
	if !ok {
		t.Fatalf("expected DepositEvent first, got %T", env.sink.events[0])
	}
	wd, ok := env.sink.events[1].(exchange.WithdrawEvent)
	if !ok {
		t.Fatalf("expected WithdrawEvent second, got %T", env.sink.events[1])
	}
	if dep.Amount != wd.Amount {
		t.Errorf("deposit amount %d != withdraw amount %d", dep.Amount, wd.Amount)
	}
	if wd.Balance != 0 {
		t.Errorf("withdraw event balance = %d, want 0", wd.Balance)
	}
}

func TestDepositToken(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.purp.Transfer(treasury, user1, 100); err != nil {
		t.Fatalf("treasury grant failed: %v", err)
	}
	if err := env.purp.Approve(user1, env.eng.Custody(), 100); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if err := env.eng.DepositToken(env.purp.Address(), user1, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if got := env.eng.BalanceOf(env.purp.Address(), user1); got != 100 {
		t.Errorf("escrow balance = %d, want 100", got)
	}
	// tokens actually moved into custody on the ledger
	if got := env.purp.BalanceOf(env.eng.Custody()); got != 100 {
		t.Errorf("custody ledger balance = %d, want 100", got)
	}
	if got := env.purp.BalanceOf(user1); got != 0 {
		t.Errorf("user ledger balance = %d, want 0", got)
	}

	ev, ok := env.sink.last(t).(exchange.DepositEvent)
	if !ok {
		t.Fatalf("expected DepositEvent, got %T", env.sink.last(t))
	}
	if ev.Asset != env.purp.Address() || ev.User != user1 || ev.Amount != 100 || ev.Balance != 100 {
		t.Errorf("unexpected deposit event: %+v", ev)
	}
}

func TestDepositTokenWithoutApproval(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.purp.Transfer(treasury, user1, 100); err != nil {
		t.Fatalf("treasury grant failed: %v", err)
	}

	err := env.eng.DepositToken(env.purp.Address(), user1, 100)
	if !errors.Is(err, exchange.ErrLedgerTransferRejected) {
		t.Errorf("expected ErrLedgerTransferRejected, got %v", err)
	}
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Errorf("expected wrapped ErrInsufficientAllowance, got %v", err)
	}

	// no accounting change
	if got := env.eng.BalanceOf(env.purp.Address(), user1); got != 0 {
		t.Errorf("escrow balance = %d, want 0", got)
	}
	if got := env.purp.BalanceOf(user1); got != 100 {
		t.Errorf("user ledger balance = %d, want 100", got)
	}
	if len(env.sink.events) != 0 {
		t.Errorf("failed deposit emitted %d events", len(env.sink.events))
	}
}

func TestDepositTokenRejectsNativeSentinel(t *testing.T) {
	env := newTestEnv(t, 10)

	err := env.eng.DepositToken(exchange.NativeAsset, user1, 100)
	if !errors.Is(err, exchange.ErrNativeAssetRejected) {
		t.Errorf("expected ErrNativeAssetRejected, got %v", err)
	}
}

func TestDepositTokenUnknownAsset(t *testing.T) {
	env := newTestEnv(t, 10)

	unknown := common.HexToAddress("0x1200000000000000000000000000000000000034")
	err := env.eng.DepositToken(unknown, user1, 100)
	if !errors.Is(err, token.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestWithdrawNativeInsufficientBalance(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.eng.DepositNative(user1, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	err := env.eng.WithdrawNative(user1, 101)
	if !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := env.eng.BalanceOf(exchange.NativeAsset, user1); got != 100 {
		t.Errorf("failed withdraw changed balance: %d, want 100", got)
	}
}

func TestWithdrawToken(t *testing.T) {
	env := newTestEnv(t, 10)
	env.fundToken(t, user1, 100)

	if err := env.eng.WithdrawToken(env.purp.Address(), user1, 100); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	if got := env.eng.BalanceOf(env.purp.Address(), user1); got != 0 {
		t.Errorf("escrow balance = %d, want 0", got)
	}
	if got := env.purp.BalanceOf(user1); got != 100 {
		t.Errorf("user ledger balance = %d, want 100", got)
	}
	if got := env.purp.BalanceOf(env.eng.Custody()); got != 0 {
		t.Errorf("custody ledger balance = %d, want 0", got)
	}

	ev, ok := env.sink.last(t).(exchange.WithdrawEvent)
	if !ok {
		t.Fatalf("expected WithdrawEvent, got %T", env.sink.last(t))
	}
	if ev.Asset != env.purp.Address() || ev.User != user1 || ev.Amount != 100 || ev.Balance != 0 {
		t.Errorf("unexpected withdraw event: %+v", ev)
	}
}

func TestWithdrawTokenRejectsNativeSentinel(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.eng.DepositNative(user1, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// rejected regardless of balance state
	err := env.eng.WithdrawToken(exchange.NativeAsset, user1, 100)
	if !errors.Is(err, exchange.ErrNativeAssetRejected) {
		t.Errorf("expected ErrNativeAssetRejected, got %v", err)
	}
	if got := env.eng.BalanceOf(exchange.NativeAsset, user1); got != 100 {
		t.Errorf("rejected withdraw changed balance: %d, want 100", got)
	}
}

func TestWithdrawTokenInsufficientBalance(t *testing.T) {
	env := newTestEnv(t, 10)
	env.fundToken(t, user1, 50)

	err := env.eng.WithdrawToken(env.purp.Address(), user1, 51)
	if !errors.Is(err, exchange.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := env.eng.BalanceOf(env.purp.Address(), user1); got != 50 {
		t.Errorf("failed withdraw changed balance: %d, want 50", got)
	}
}

func TestBalanceOfUnknownPairIsZero(t *testing.T) {
	env := newTestEnv(t, 10)

	if got := env.eng.BalanceOf(env.purp.Address(), user2); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestBalancesFor(t *testing.T) {
	env := newTestEnv(t, 10)
	env.fundToken(t, user1, 250)
	if err := env.eng.DepositNative(user1, 42); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	balances := env.eng.BalancesFor(user1)
	if len(balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(balances))
	}
	if balances[exchange.NativeAsset] != 42 {
		t.Errorf("native balance = %d, want 42", balances[exchange.NativeAsset])
	}
	if balances[env.purp.Address()] != 250 {
		t.Errorf("token balance = %d, want 250", balances[env.purp.Address()])
	}
}

func TestEventJournalSequence(t *testing.T) {
	env := newTestEnv(t, 10)

	if err := env.eng.DepositNative(user1, 100); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := env.eng.MakeOrder(user1, env.purp.Address(), 10, exchange.NativeAsset, 10); err != nil {
		t.Fatalf("make order failed: %v", err)
	}
	if err := env.eng.WithdrawNative(user1, 50); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	events := env.eng.Events(0)
	if len(events) != 3 {
		t.Fatalf("expected 3 journal entries, got %d", len(events))
	}
	for i, ev := range events {
		if ev.EventSeq() != uint64(i+1) {
			t.Errorf("event %d has seq %d, want %d", i, ev.EventSeq(), i+1)
		}
	}

	// since filter skips already-seen entries
	tail := env.eng.Events(2)
	if len(tail) != 1 || tail[0].EventSeq() != 3 {
		t.Errorf("Events(2) returned %d entries, want just seq 3", len(tail))
	}
}
