package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"Clawboard/internal/config"
	fpmath "Clawboard/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	ec := cfg.Engine()
	require.Nil(t, ec.Ledger.MaxSupply)
	require.Equal(t, common.HexToAddress(cfg.Token.Vault), ec.Vault.Address)
	require.Equal(t, 1_000_000, ec.LRUCapacity)
	require.Equal(t, int64(100), ec.InvariantCheckInterval)
	require.False(t, cfg.Server.GatewayCommands)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
token:
  owner: "0x00000000000000000000000000000000000000a1"
  max_supply: 500
  one_agent_per_wallet: true
idempotency:
  tier2: redis
  redis_ttl: 1h
engine:
  invariant_check_interval: 1
persistence:
  batch_size: 10
  flush_timeout: 5ms
`), 0o600))

	t.Setenv("CLAW_GRPC_ADDR", ":19090")
	t.Setenv("CLAW_PERSIST_BATCH_SIZE", "25")
	t.Setenv("CLAW_NATS_SUBSCRIBE", "false")
	t.Setenv("CLAW_GATEWAY_COMMANDS", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, ":19090", cfg.Server.GRPCAddr)
	require.Equal(t, 25, cfg.Persistence.BatchSize)
	require.Equal(t, 5*time.Millisecond, cfg.Persistence.FlushTimeout)
	require.False(t, cfg.Transport.Subscribe)
	require.True(t, cfg.Server.GatewayCommands)
	require.Equal(t, config.Tier2Redis, cfg.Idempotency.Tier2)
	require.Equal(t, time.Hour, cfg.Redis().TTL)

	ec := cfg.Engine()
	require.True(t, ec.Registry.OneAgentPerWallet)
	require.Equal(t, int64(1), ec.InvariantCheckInterval)
	require.Equal(t, fpmath.Units(500), ec.Ledger.MaxSupply)
	require.Equal(t, common.HexToAddress("0xa1"), ec.Ledger.Owner)
	// Unset keys keep their defaults.
	require.Equal(t, config.Default().Token.TeamWallet, cfg.Token.TeamWallet)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad owner", func(c *config.Config) { c.Token.Owner = "alice" }, "token.owner"},
		{"zero vault", func(c *config.Config) { c.Token.Vault = "0x0000000000000000000000000000000000000000" }, "token.vault"},
		{"unknown tier2", func(c *config.Config) { c.Idempotency.Tier2 = "memcached" }, "idempotency.tier2"},
		{"amqp without url", func(c *config.Config) { c.Transport.Publisher = config.PublisherAMQP }, "amqp_url"},
		{"unknown publisher", func(c *config.Config) { c.Transport.Publisher = "kafka" }, "transport.publisher"},
		{"zero batch", func(c *config.Config) { c.Persistence.BatchSize = 0 }, "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
