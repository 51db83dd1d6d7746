package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("ORDER_SWEEP_INTERVAL", "")
	t.Setenv("COMMISSION_RATE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./data/paper.db", cfg.DBPath)
	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Equal(t, 0.0001, cfg.CommissionRate)
	assert.Equal(t, 0.8, cfg.FillProbability)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("ORDER_SWEEP_INTERVAL", "250")
	t.Setenv("TICK_INTERVAL", "2s")
	t.Setenv("SWEEP_WORKERS", "3")
	t.Setenv("LANGUAGE", "ZH")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, 3, cfg.SweepWorkers)
	assert.Equal(t, "zh", cfg.Language)
}
