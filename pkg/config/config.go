package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server controls the REST/WebSocket listener.
type Server struct {
	ListenAddr string
}

// Chain controls the chain adapter's RPC endpoints.
type Chain struct {
	RPCURL          string
	HorizonURL      string
	PaymentAsset    string // contract address of the asset traders settle in
	SubmitTimeout   time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
}

// Whitelist controls the Merkle tree dimensions.
type Whitelist struct {
	TreeDepth int
}

// Proofs controls the external proof-oracle client.
type Proofs struct {
	OracleURL string
	Timeout   time.Duration
}

// Logging holds the log file path, a log level and the redaction list.
// FilePath selects the logger's file sink; RedactKeys names the fields the
// REST server's transaction audit log replaces with "[redacted]". Level is
// loaded from LOG_LEVEL but not applied: the loggers in pkg/logging always
// log at info level.
type Logging struct {
	Level      string
	FilePath   string
	RedactKeys []string
}

type Config struct {
	Server    Server
	Chain     Chain
	Whitelist Whitelist
	Proofs    Proofs
	Logging   Logging
}

func Default() Config {
	return Config{
		Server: Server{
			ListenAddr: ":3001",
		},
		Chain: Chain{
			RPCURL:          "http://localhost:8000/soroban/rpc",
			HorizonURL:      "http://localhost:8000",
			PaymentAsset:    "",
			SubmitTimeout:   300 * time.Second,
			PollInterval:    1 * time.Second,
			PollMaxAttempts: 30,
		},
		Whitelist: Whitelist{
			TreeDepth: 20,
		},
		Proofs: Proofs{
			OracleURL: "http://localhost:9000",
			Timeout:   30 * time.Second,
		},
		Logging: Logging{
			Level:      "info",
			FilePath:   "data/engine.log",
			RedactKeys: []string{"secret", "nonce", "authorization", "cookie"},
		},
	}
}

// LoadFromEnv loads a .env file (if present) then applies environment
// variable overrides on top of Default(). Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("CHAIN_HORIZON_URL"); v != "" {
		cfg.Chain.HorizonURL = v
	}
	if v := os.Getenv("PAYMENT_ASSET_ADDRESS"); v != "" {
		cfg.Chain.PaymentAsset = v
	}
	if v := os.Getenv("CHAIN_SUBMIT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.SubmitTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CHAIN_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CHAIN_POLL_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chain.PollMaxAttempts = n
		}
	}
	if v := os.Getenv("WHITELIST_TREE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Whitelist.TreeDepth = n
		}
	}
	if v := os.Getenv("PROOF_ORACLE_URL"); v != "" {
		cfg.Proofs.OracleURL = v
	}
	if v := os.Getenv("PROOF_ORACLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Proofs.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.FilePath = v
	}
	if v := os.Getenv("LOG_REDACT_KEYS"); v != "" {
		cfg.Logging.RedactKeys = strings.Split(v, ",")
	}

	return cfg
}
