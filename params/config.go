package params

import (
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Exchange holds the engine's immutable construction-time parameters.
type Exchange struct {
	FeeAccount common.Address
	FeePercent uint64 // integer percent, 0-100
}

// Token describes the ledger deployed at startup for devnet use. The address
// is derived from name/symbol/treasury, so it is stable across restarts.
type Token struct {
	Name     string
	Symbol   string
	Decimals uint8
	Supply   uint64
	Treasury common.Address
}

type Node struct {
	Listen  string
	DBPath  string
	LogFile string
}

// Seeder controls the optional devnet traffic generator.
type Seeder struct {
	Enabled  bool
	Interval time.Duration
}

type Config struct {
	Exchange Exchange
	Token    Token
	Node     Node
	Seeder   Seeder
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount: common.HexToAddress("0x000000000000000000000000000000000000fee5"),
			FeePercent: 10,
		},
		Token: Token{
			Name:     "Purp Token",
			Symbol:   "PURP",
			Decimals: 6,
			Supply:   1_000_000_000_000, // 1M PURP in micro units
			Treasury: common.HexToAddress("0x0000000000000000000000000000000000a11ce5"),
		},
		Node: Node{
			Listen:  ":8080",
			DBPath:  "data/purpex.db",
			LogFile: "data/purpexd.log",
		},
		Seeder: Seeder{
			Enabled:  false,
			Interval: time.Second,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("FEE_ACCOUNT"); common.IsHexAddress(v) {
		cfg.Exchange.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if pct, err := strconv.ParseUint(v, 10, 64); err == nil && pct <= 100 {
			cfg.Exchange.FeePercent = pct
		}
	}

	if v := os.Getenv("TREASURY"); common.IsHexAddress(v) {
		cfg.Token.Treasury = common.HexToAddress(v)
	}

	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Node.Listen = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	if v := os.Getenv("ENABLE_SEEDER"); v != "" {
		cfg.Seeder.Enabled = v == "true"
	}
	if v := os.Getenv("SEED_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Seeder.Interval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
