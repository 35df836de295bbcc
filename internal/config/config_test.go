package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.MarketplaceAddress = "0x00000000000000000000000000000000000000aa"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_Mode(t *testing.T) {
	for _, mode := range []string{"ingest", "serve", "full", "INGEST"} {
		t.Run(mode, func(t *testing.T) {
			cfg := validConfig()
			cfg.Mode = mode
			assert.NoError(t, cfg.Validate())
		})
	}

	cfg := validConfig()
	cfg.Mode = "trade"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestValidate_ServeModeWithoutRPC(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "serve"
	cfg.Chain.RPCURL = ""
	assert.NoError(t, cfg.Validate())

	cfg.Mode = "ingest"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain.rpc_url")
}

func TestValidate_BadAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.MarketplaceAddress = "not-an-address"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marketplace_address")

	cfg = validConfig()
	cfg.Staking.TokenAddress = "0x123"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staking.token_address")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Ingest.BlockBatchSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "block_batch_size")
}

func TestDurationUnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_MODE", "serve")
	t.Setenv("MARKETD_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("MARKETD_INGEST_POLL_INTERVAL", "45s")
	t.Setenv("MARKETD_SERVER_RATE_LIMIT", "300")
	t.Setenv("MARKETD_S3_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 45*time.Second, cfg.Ingest.PollInterval.Duration)
	assert.Equal(t, 300, cfg.Server.RateLimit)
	assert.True(t, cfg.S3.Enabled)
}

func TestEnvOverrides_IgnoresUnparseable(t *testing.T) {
	t.Setenv("MARKETD_SERVER_PORT", "eighty")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}
