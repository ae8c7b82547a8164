package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	DataDir  string
	APIAddr  string
	LogFile  string
	LogLevel string
	ChainID  int64
}

type Engine struct {
	// BatchInterval is how often the node drains the mempool.
	//
	// Recommended values:
	//   - Devnet:     200ms (quiet logs)
	//   - Load tests: 10-50ms
	BatchInterval time.Duration
	MaxBatchBytes int64
	MaxPending    int
	// ConsumeBatch is how many events the node drains from every market
	// after each batch. 0 leaves consumption to signed consume txs.
	ConsumeBatch int
}

// Feed configures the Kafka event feed. No brokers disables it.
type Feed struct {
	Brokers []string
	Topic   string
}

type TxGen struct {
	Enabled bool
	Mode    string // default | high
}

// MarketSpec is a market created at startup when it does not exist yet.
// Assets are identified by symbol, taken from a "BASE-QUOTE" name.
type MarketSpec struct {
	Name        string
	Base        string
	Quote       string
	BaseLotSize uint64
	MinBase     uint64
	MinQuote    uint64
}

type Config struct {
	Node    Node
	Engine  Engine
	Feed    Feed
	TxGen   TxGen
	Markets []MarketSpec
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:  "data",
			APIAddr:  ":8080",
			LogFile:  "data/node.log",
			LogLevel: "info",
			ChainID:  1337,
		},
		Engine: Engine{
			BatchInterval: 200 * time.Millisecond, // Devnet default: prevent log spam
			MaxBatchBytes: 1 << 20,
			MaxPending:    100_000,
			ConsumeBatch:  7,
		},
		Feed: Feed{
			Topic: "hyperclob.events",
		},
		TxGen: TxGen{Mode: "default"},
		Markets: []MarketSpec{
			{Name: "HYPL-USDC", Base: "HYPL", Quote: "USDC", BaseLotSize: 1000, MinBase: 1000, MinQuote: 1},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Node.ChainID = id
		}
	}

	if v := os.Getenv("BATCH_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Engine.BatchInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_BATCH_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MaxBatchBytes = n
		}
	}
	if v := os.Getenv("MAX_PENDING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxPending = n
		}
	}
	if v := os.Getenv("CONSUME_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.ConsumeBatch = n
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Feed.Brokers = splitList(v)
	}
	cfg.Feed.Topic = getEnv("KAFKA_TOPIC", cfg.Feed.Topic)

	if v := os.Getenv("ENABLE_TXGEN"); v != "" {
		cfg.TxGen.Enabled = v == "true"
	}
	cfg.TxGen.Mode = getEnv("TXGEN_MODE", cfg.TxGen.Mode)

	if v := os.Getenv("MARKETS"); v != "" {
		markets, err := ParseMarkets(v)
		if err != nil {
			return cfg, err
		}
		cfg.Markets = markets
	}
	return cfg, nil
}

// ParseMarkets parses a comma-separated list of NAME:lot:minBase:minQuote,
// e.g. "HYPL-USDC:1000:1000:1,ETH-USDC:100:100:10".
func ParseMarkets(s string) ([]MarketSpec, error) {
	var out []MarketSpec
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("market %q: want NAME:lot:minBase:minQuote", item)
		}
		base, quote, ok := strings.Cut(parts[0], "-")
		if !ok || base == "" || quote == "" {
			return nil, fmt.Errorf("market %q: name must be BASE-QUOTE", item)
		}

		var nums [3]uint64
		for i, p := range parts[1:] {
			n, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("market %q: %w", item, err)
			}
			nums[i] = n
		}
		out = append(out, MarketSpec{
			Name:        parts[0],
			Base:        base,
			Quote:       quote,
			BaseLotSize: nums[0],
			MinBase:     nums[1],
			MinQuote:    nums[2],
		})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
