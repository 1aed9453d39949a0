// Package config loads the hedge engine's process configuration from
// environment variables, validating only the fields the selected
// broker kind actually needs.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"hedgeengine/internal/broker"
)

// Config is the full process configuration.
type Config struct {
	Database DatabaseConfig
	Chain    ChainConfig
	Broker   BrokerConfig
	Poller   PollerConfig
	Server   ServerConfig
	Logging  LoggingConfig

	// EncryptionKey is the decoded 32-byte AES-256 key for
	// broker-credential envelope encryption.
	EncryptionKey []byte
}

// DatabaseConfig points at the embedded ledger file.
type DatabaseConfig struct {
	Path string
}

// ChainConfig holds the on-chain ingest parameters.
type ChainConfig struct {
	WSURL            string
	HTTPURL          string
	Orderbook        common.Address
	OrderOwner       common.Address
	DeploymentBlock  uint64
	USDC             common.Address
	EquitySuffix     string
	BackfillPageSize uint64
}

// BrokerConfig selects and configures one of the three broker variants.
type BrokerConfig struct {
	Kind broker.Kind

	// OAuth-only.
	BaseURL     string
	AppKey      string
	AppSecret   string
	RedirectURI string

	// API-key-only.
	KeyID      string
	SecretKey  string
	TradingMode broker.TradingMode

	// Dry-run-only.
	DryRunPriceCents int64
}

// PollerConfig controls the execution poller's cadence.
type PollerConfig struct {
	Interval   time.Duration
	StuckAfter time.Duration
}

// ServerConfig is the health/status HTTP listener.
type ServerConfig struct {
	Port int
	Host string
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
}

// Load reads Config from the environment, validating the fields
// required regardless of broker kind plus the subset specific to
// whichever BROKER is selected.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/ledger.db"),
		},
		Chain: ChainConfig{
			WSURL:            getEnv("WS_RPC_URL", ""),
			HTTPURL:          getEnv("HTTP_RPC_URL", ""),
			DeploymentBlock:  uint64(getEnvAsInt("DEPLOYMENT_BLOCK", 0)),
			EquitySuffix:     getEnv("EQUITY_SUFFIX", "x"),
			BackfillPageSize: uint64(getEnvAsInt("BACKFILL_PAGE_SIZE", 2000)),
		},
		Broker: BrokerConfig{
			Kind:             broker.Kind(strings.ToLower(getEnv("BROKER", string(broker.KindDryRun)))),
			BaseURL:          getEnv("BASE_URL", ""),
			AppKey:           getEnv("APP_KEY", ""),
			AppSecret:        getEnv("APP_SECRET", ""),
			RedirectURI:      getEnv("REDIRECT_URI", ""),
			KeyID:            getEnv("KEY_ID", ""),
			SecretKey:        getEnv("SECRET_KEY", ""),
			TradingMode:      broker.TradingMode(strings.ToLower(getEnv("TRADING_MODE", string(broker.TradingModePaper)))),
			DryRunPriceCents: int64(getEnvAsInt("DRY_RUN_PRICE_CENTS", 10000)),
		},
		Poller: PollerConfig{
			Interval:   getEnvAsDuration("POLL_INTERVAL", 10*time.Second),
			StuckAfter: getEnvAsDuration("POLL_STUCK_AFTER", time.Hour),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if !broker.IsSupported(string(cfg.Broker.Kind)) {
		return nil, fmt.Errorf("unsupported BROKER %q, must be one of %v", cfg.Broker.Kind, broker.SupportedKinds)
	}

	if cfg.Chain.WSURL == "" {
		return nil, fmt.Errorf("WS_RPC_URL is required")
	}

	orderbook := getEnv("ORDERBOOK", "")
	if orderbook == "" {
		return nil, fmt.Errorf("ORDERBOOK is required")
	}
	cfg.Chain.Orderbook = common.HexToAddress(orderbook)

	orderOwner := getEnv("ORDER_OWNER", "")
	if orderOwner == "" {
		return nil, fmt.Errorf("ORDER_OWNER is required")
	}
	cfg.Chain.OrderOwner = common.HexToAddress(orderOwner)

	usdc := getEnv("USDC", "")
	if usdc == "" {
		return nil, fmt.Errorf("USDC is required")
	}
	cfg.Chain.USDC = common.HexToAddress(usdc)

	keyHex := getEnv("ENCRYPTION_KEY", "")
	if keyHex == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required for encrypting broker credentials")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to exactly 32 bytes for AES-256, got %d", len(key))
	}
	cfg.EncryptionKey = key

	switch cfg.Broker.Kind {
	case broker.KindOAuth:
		if cfg.Broker.BaseURL == "" || cfg.Broker.AppKey == "" || cfg.Broker.AppSecret == "" || cfg.Broker.RedirectURI == "" {
			return nil, fmt.Errorf("BASE_URL, APP_KEY, APP_SECRET, and REDIRECT_URI are required when BROKER=oauth")
		}
	case broker.KindAPIKey:
		if cfg.Broker.BaseURL == "" || cfg.Broker.KeyID == "" || cfg.Broker.SecretKey == "" {
			return nil, fmt.Errorf("BASE_URL, KEY_ID, and SECRET_KEY are required when BROKER=apikey")
		}
		if cfg.Broker.TradingMode != broker.TradingModePaper && cfg.Broker.TradingMode != broker.TradingModeLive {
			return nil, fmt.Errorf("TRADING_MODE must be %q or %q", broker.TradingModePaper, broker.TradingModeLive)
		}
	case broker.KindDryRun:
		// no external configuration required
	}

	return cfg, nil
}

// Helper functions for reading environment variables, following the
// same defaulting idiom across every type.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
