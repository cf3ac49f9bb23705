package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/purpexlabs/purpex/params"
	"github.com/purpexlabs/purpex/pkg/api"
	"github.com/purpexlabs/purpex/pkg/devnet"
	"github.com/purpexlabs/purpex/pkg/exchange"
	"github.com/purpexlabs/purpex/pkg/storage"
	"github.com/purpexlabs/purpex/pkg/token"
	"github.com/purpexlabs/purpex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Durability ----
	store, err := storage.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Token ledger ----
	// The derived address is stable across restarts, so restored escrow
	// balances keep pointing at the same asset.
	registry := token.NewRegistry()
	purp, err := registry.Deploy(cfg.Token.Name, cfg.Token.Symbol, cfg.Token.Decimals, cfg.Token.Supply, cfg.Token.Treasury)
	if err != nil {
		sugar.Fatalw("token_deploy_failed", "err", err)
	}
	sugar.Infow("token_deployed",
		"address", purp.Address().Hex(),
		"symbol", purp.Symbol(),
		"supply", purp.TotalSupply(),
		"treasury", cfg.Token.Treasury.Hex(),
	)

	// ---- Exchange engine ----
	eng, err := exchange.New(exchange.Config{
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Registry:   registry,
		Store:      store,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	if err := eng.Restore(); err != nil {
		sugar.Fatalw("restore_failed", "err", err)
	}
	sugar.Infow("exchange_ready",
		"fee_account", eng.FeeAccount().Hex(),
		"fee_percent", eng.FeePercent(),
		"custody", eng.Custody().Hex(),
	)

	// ---- API ----
	srv := api.NewServer(eng, registry)
	eng.SetSink(srv.Hub())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Devnet seeder (optional) ----
	// Enable with: ENABLE_SEEDER=true
	if cfg.Seeder.Enabled {
		sugar.Infow("seeder_enabled", "interval", cfg.Seeder.Interval)
		cancelSeeder := devnet.StartSeeder(ctx, eng, purp, devnet.SeederConfig{
			Interval: cfg.Seeder.Interval,
			Treasury: cfg.Token.Treasury,
		})
		defer cancelSeeder()
	}

	go func() {
		if err := srv.Start(cfg.Node.Listen); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
