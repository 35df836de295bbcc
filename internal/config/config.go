// Package config defines the top-level configuration for marketd and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ingest   IngestConfig   `toml:"ingest"`
	Staking  StakingConfig  `toml:"staking"`
	Metadata MetadataConfig `toml:"metadata"`
	Explorer ExplorerConfig `toml:"explorer"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds ledger RPC parameters and the contract addresses the
// ingestor and explorer read from.
type ChainConfig struct {
	RPCURL              string   `toml:"rpc_url"`
	ChainID             int64    `toml:"chain_id"`
	MarketplaceAddress  string   `toml:"marketplace_address"`
	TokenFactoryAddress string   `toml:"token_factory_address"`
	// Confirmations is how far ingestion trails the chain head, as a cheap
	// stand-in for explicit reorg handling.
	Confirmations  uint64   `toml:"confirmations"`
	RequestTimeout duration `toml:"request_timeout"`
	RetryAttempts  int      `toml:"retry_attempts"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for event-batch
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig holds event ingestion parameters.
type IngestConfig struct {
	PollInterval   duration `toml:"poll_interval"`
	BlockBatchSize uint64   `toml:"block_batch_size"`
	StartBlock     uint64   `toml:"start_block"`
	ArchiveBatches bool     `toml:"archive_batches"`
}

// StakingConfig holds the staking pool parameters. Amount fields are decimal
// strings so the ledger never round-trips through float64.
type StakingConfig struct {
	TokenAddress   string `toml:"token_address"`
	APYRate        string `toml:"apy_rate"`
	MinimumStake   string `toml:"minimum_stake"`
	RewardsReserve string `toml:"rewards_reserve"`
}

// MetadataConfig holds parameters for the off-chain metadata fetcher.
type MetadataConfig struct {
	FetchTimeout  duration `toml:"fetch_timeout"`
	CacheTTL      duration `toml:"cache_ttl"`
	RetryAttempts int      `toml:"retry_attempts"`
}

// ExplorerConfig holds token explorer parameters.
type ExplorerConfig struct {
	// Blacklist is a list of token addresses hidden from the explorer.
	Blacklist []string `toml:"blacklist"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "http://localhost:8545",
			ChainID:        88882, // Chiliz Spicy testnet
			Confirmations:  3,
			RequestTimeout: duration{15 * time.Second},
			RetryAttempts:  4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-data",
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			PollInterval:   duration{15 * time.Second},
			BlockBatchSize: 2000,
			StartBlock:     0,
			ArchiveBatches: false,
		},
		Staking: StakingConfig{
			APYRate:        "0.08",
			MinimumStake:   "10",
			RewardsReserve: "15000",
		},
		Metadata: MetadataConfig{
			FetchTimeout:  duration{10 * time.Second},
			CacheTTL:      duration{30 * time.Minute},
			RetryAttempts: 3,
		},
		Server: ServerConfig{
			Port:            8080,
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Validate checks the configuration for missing or inconsistent values and
// returns a descriptive error listing every problem found.
func (c *Config) Validate() error {
	var problems []string

	mode := strings.ToLower(c.Mode)
	switch mode {
	case "ingest", "serve", "full":
	default:
		problems = append(problems, fmt.Sprintf("mode: unsupported value %q", c.Mode))
	}

	// Serve mode replays from the durable event log and never talks to the
	// chain, so RPC settings are only required when ingestion runs.
	chainRequired := mode == "ingest" || mode == "full"
	if chainRequired && strings.TrimSpace(c.Chain.RPCURL) == "" {
		problems = append(problems, "chain.rpc_url: required in ingest and full modes")
	}
	if c.Chain.RPCURL != "" && !isHexAddress(c.Chain.MarketplaceAddress) {
		problems = append(problems, fmt.Sprintf("chain.marketplace_address: %q is not a hex address", c.Chain.MarketplaceAddress))
	}
	if c.Chain.TokenFactoryAddress != "" && !isHexAddress(c.Chain.TokenFactoryAddress) {
		problems = append(problems, fmt.Sprintf("chain.token_factory_address: %q is not a hex address", c.Chain.TokenFactoryAddress))
	}
	if c.Chain.RetryAttempts < 1 {
		problems = append(problems, "chain.retry_attempts: must be at least 1")
	}

	if c.Ingest.BlockBatchSize == 0 {
		problems = append(problems, "ingest.block_batch_size: must be positive")
	}
	if c.Ingest.PollInterval.Duration <= 0 {
		problems = append(problems, "ingest.poll_interval: must be positive")
	}

	if c.Staking.TokenAddress != "" && !isHexAddress(c.Staking.TokenAddress) {
		problems = append(problems, fmt.Sprintf("staking.token_address: %q is not a hex address", c.Staking.TokenAddress))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port: %d out of range", c.Server.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// isHexAddress reports whether s looks like a 20-byte 0x hex address.
func isHexAddress(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
