package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costledger/internal/domain/valuation"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "FIFO", cfg.DefaultMethod)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.DBStatementTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.DBSlowQuery)
	assert.Equal(t, "costledger", cfg.Logger().Service)
	assert.Empty(t, cfg.RedisAddr)
	assert.Error(t, cfg.RequireDatabase())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("VALUATION_DEFAULT_METHOD", "wac")
	t.Setenv("COGS_FALLBACK_POLICY", "last_known_cost")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("DATABASE_URL", "postgres://localhost/costledger")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.RequireDatabase())

	vc := cfg.Valuation()
	assert.Equal(t, valuation.MethodWeightedAverage, vc.DefaultMethod)
	assert.Equal(t, valuation.FallbackLastKnownCost, vc.Fallback)
	assert.Equal(t, 3, vc.Retry.MaxAttempts)
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	t.Setenv("VALUATION_DEFAULT_METHOD", "HIFO")
	t.Setenv("COGS_FALLBACK_POLICY", "guess")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HIFO")
	assert.Contains(t, err.Error(), "guess")
}
