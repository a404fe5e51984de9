package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "chime.db")

	// Scheduler defaults
	v.SetDefault("scheduler.ticker_interval_seconds", 1)
	v.SetDefault("scheduler.run_on_register", false)

	// Worker defaults
	v.SetDefault("worker.workers", 1)
	v.SetDefault("worker.poll_interval_seconds", 1)
	v.SetDefault("worker.stale_after_seconds", 600) // 10 minutes before a running execution is presumed dead
	v.SetDefault("worker.retained_executions", 0)   // keep full history unless told otherwise

	// Bus defaults
	v.SetDefault("bus.broker", "memory")
	v.SetDefault("bus.redis_addr", "localhost:6379")
	v.SetDefault("bus.redis_db", 0)

	// Log defaults
	v.SetDefault("log.json", false)
}
