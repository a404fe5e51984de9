package config

import "github.com/chimeworks/chime/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.New("server.port cannot be 0 (omit for default port 8777)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	// Scheduler ticker interval: 0 = no periodic evaluation, negative = invalid
	if c.Scheduler.TickerIntervalSeconds < 0 {
		return errors.Newf("scheduler.ticker_interval_seconds must be >= 0, got %d", c.Scheduler.TickerIntervalSeconds)
	}

	// Workers: 0 = no background workers, negative = invalid
	if c.Worker.Workers < 0 {
		return errors.Newf("worker.workers must be >= 0, got %d", c.Worker.Workers)
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		return errors.Newf("worker.poll_interval_seconds must be > 0, got %d", c.Worker.PollIntervalSeconds)
	}
	if c.Worker.StaleAfterSeconds < 0 {
		return errors.Newf("worker.stale_after_seconds must be >= 0, got %d", c.Worker.StaleAfterSeconds)
	}
	if c.Worker.RetainedExecutions < 0 {
		return errors.Newf("worker.retained_executions must be >= 0, got %d", c.Worker.RetainedExecutions)
	}

	switch c.Bus.Broker {
	case "memory":
	case "redis":
		if c.Bus.RedisAddr == "" {
			return errors.New("bus.redis_addr cannot be empty when bus.broker is redis")
		}
	default:
		return errors.Newf("bus.broker must be memory or redis, got %q", c.Bus.Broker)
	}

	return nil
}
