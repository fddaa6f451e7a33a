package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	p := writeFile(t, "server:\n  port: 9090\nwallet:\n  deposit_max: \"2000.00\"\n")
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Wallet.DepositMax.Equal(decimal.RequireFromString("2000")))
	assert.True(t, cfg.Wallet.DepositMin.Equal(decimal.RequireFromString("5")))
	assert.Equal(t, 24*time.Hour, cfg.Wallet.DepositTTL)
	assert.Equal(t, "PEN", cfg.Wallet.Currency)
	assert.Equal(t, 3*time.Second, cfg.Postgres.LockTimeout)
}

func TestLoadShippedFile(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Scheduler.RankingInterval)
	assert.True(t, cfg.Tournament.CommissionRate.Equal(decimal.RequireFromString("0.1")))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := Load(writeFile(t, "redis:\n  addr: localhost:6379\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	_, err := Load(writeFile(t, "wallet:\n  withdrawal_min: \"100\"\n  withdrawal_max: \"50\"\n"))
	assert.ErrorContains(t, err, "withdrawal bounds")

	cfg := Default()
	cfg.Tournament.CommissionRate = decimal.NewFromInt(1)
	assert.ErrorContains(t, cfg.Validate(), "commission_rate")
}

func TestValidateSchedulerIntervals(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.AuditInterval = 0
	assert.ErrorContains(t, cfg.Validate(), "audit_interval")
	assert.Equal(t, ":9102", Default().Scheduler.MetricsAddr)
}
