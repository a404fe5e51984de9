package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "chime.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.Scheduler.TickerIntervalSeconds)
	assert.False(t, cfg.Scheduler.RunOnRegister)
	assert.Equal(t, 1, cfg.Worker.Workers)
	assert.Equal(t, 600, cfg.Worker.StaleAfterSeconds)
	assert.Equal(t, "memory", cfg.Bus.Broker)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := LoadWithViper(v)
		require.NoError(t, err)
		return cfg
	}

	t.Run("zero port rejected", func(t *testing.T) {
		cfg := base()
		port := 0
		cfg.Server.Port = &port
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative workers rejected", func(t *testing.T) {
		cfg := base()
		cfg.Worker.Workers = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown broker rejected", func(t *testing.T) {
		cfg := base()
		cfg.Bus.Broker = "kafka"
		assert.Error(t, cfg.Validate())
	})

	t.Run("redis broker requires addr", func(t *testing.T) {
		cfg := base()
		cfg.Bus.Broker = "redis"
		cfg.Bus.RedisAddr = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadWithViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("worker.workers", 4)
	v.Set("bus.broker", "redis")
	v.Set("bus.redis_addr", "redis.internal:6379")

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, "redis", cfg.Bus.Broker)
	assert.NoError(t, cfg.Validate())
}
