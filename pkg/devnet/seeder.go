// Package devnet generates demo traffic against a running engine: token
// grants, approvals, deposits, a cancelled order, a few filled trades, and a
// rolling ladder of open orders. Never enabled outside devnet.
package devnet

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/purpexlabs/purpex/pkg/exchange"
	"github.com/purpexlabs/purpex/pkg/token"
)

// nativeUnit is the devnet stand-in for one whole native coin.
const nativeUnit uint64 = 1_000_000

// SeederConfig controls the devnet traffic generator.
type SeederConfig struct {
	Interval time.Duration  // delay between seeded open orders
	Treasury common.Address // account holding the token supply
}

var (
	user1 = common.HexToAddress("0xAA00000000000000000000000000000000000001")
	user2 = common.HexToAddress("0xBB00000000000000000000000000000000000002")
)

// StartSeeder runs the seeding flow in a background goroutine and returns a
// cancel function.
func StartSeeder(ctx context.Context, eng *exchange.Exchange, led *token.Ledger, cfg SeederConfig) context.CancelFunc {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	seedCtx, cancel := context.WithCancel(ctx)

	go func() {
		u := unit(led)

		if err := seedAccounts(eng, led, cfg.Treasury, u); err != nil {
			log.Printf("[seeder] account seeding failed: %v", err)
			return
		}
		if err := seedTrades(eng, led, u); err != nil {
			log.Printf("[seeder] trade seeding failed: %v", err)
			return
		}

		// Rolling ladder of open orders, alternating sides.
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		i := 0
		for {
			select {
			case <-seedCtx.Done():
				log.Printf("[seeder] stopped after %d open orders", i)
				return
			case <-ticker.C:
				step := uint64(i%10 + 1)
				var err error
				if i%2 == 0 {
					// user1 buys tokens with native value
					_, err = eng.MakeOrder(user1, led.Address(), 10*step*u, exchange.NativeAsset, nativeUnit/100)
				} else {
					// user2 sells tokens for native value
					_, err = eng.MakeOrder(user2, exchange.NativeAsset, nativeUnit/100, led.Address(), 10*step*u)
				}
				if err != nil {
					log.Printf("[seeder] open order failed: %v", err)
				}
				i++
			}
		}
	}()

	return cancel
}

// seedAccounts funds the demo users: user1 deposits native value, user2
// receives tokens from the treasury, approves custody, and deposits them.
func seedAccounts(eng *exchange.Exchange, led *token.Ledger, treasury common.Address, u uint64) error {
	if err := led.Transfer(treasury, user2, 10_000*u); err != nil {
		return err
	}
	log.Printf("[seeder] transferred 10000 %s from treasury to %s", led.Symbol(), user2.Hex())

	if err := eng.DepositNative(user1, nativeUnit); err != nil {
		return err
	}
	log.Printf("[seeder] deposited native value from %s", user1.Hex())

	if err := led.Approve(user2, eng.Custody(), 10_000*u); err != nil {
		return err
	}
	if err := eng.DepositToken(led.Address(), user2, 10_000*u); err != nil {
		return err
	}
	log.Printf("[seeder] deposited 10000 %s from %s", led.Symbol(), user2.Hex())
	return nil
}

// seedTrades posts one cancelled order and three filled trades so the
// journal starts with some history.
func seedTrades(eng *exchange.Exchange, led *token.Ledger, u uint64) error {
	id, err := eng.MakeOrder(user1, led.Address(), 100*u, exchange.NativeAsset, nativeUnit/10)
	if err != nil {
		return err
	}
	if err := eng.CancelOrder(id, user1); err != nil {
		return err
	}
	log.Printf("[seeder] cancelled order %d from %s", id, user1.Hex())

	fills := []struct {
		amountGet  uint64
		amountGive uint64
	}{
		{100 * u, nativeUnit / 10},
		{50 * u, nativeUnit / 100},
		{200 * u, nativeUnit / 100 * 15},
	}
	for _, f := range fills {
		id, err := eng.MakeOrder(user1, led.Address(), f.amountGet, exchange.NativeAsset, f.amountGive)
		if err != nil {
			return err
		}
		if err := eng.FillOrder(id, user2); err != nil {
			return err
		}
		log.Printf("[seeder] order %d made by %s, filled by %s", id, user1.Hex(), user2.Hex())
	}
	return nil
}

func unit(led *token.Ledger) uint64 {
	u := uint64(1)
	for i := 0; i < int(led.Decimals()); i++ {
		u *= 10
	}
	return u
}
