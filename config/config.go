package config

// Config represents the core Chime configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Bus       BusConfig       `mapstructure:"bus"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the Chime admin HTTP server
type ServerConfig struct {
	Port *int `mapstructure:"port"` // Server port: nil = default 8777, 0 is invalid (omit for default)
}

// Server port constant
const DefaultServerPort = 8777

// SchedulerConfig configures the schedule evaluation loop
type SchedulerConfig struct {
	TickerIntervalSeconds int  `mapstructure:"ticker_interval_seconds"` // How often to evaluate due jobs (default: 1)
	RunOnRegister         bool `mapstructure:"run_on_register"`         // Dispatch immediately when a job is registered
}

// WorkerConfig configures the execution worker pool
type WorkerConfig struct {
	Workers             int `mapstructure:"workers"`               // Number of concurrent execution workers (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // How often idle workers poll for queued work (default: 1)
	StaleAfterSeconds   int `mapstructure:"stale_after_seconds"`   // Running executions older than this are reaped; 0 = no reaping
	RetainedExecutions  int `mapstructure:"retained_executions"`   // Finished executions kept per job; 0 = keep everything
}

// BusConfig configures event delivery between services
type BusConfig struct {
	// Broker selects the transport: "memory" for single-process delivery,
	// "redis" for cross-process delivery over Redis pub/sub.
	Broker    string `mapstructure:"broker"`
	RedisAddr string `mapstructure:"redis_addr"` // host:port, used when broker = "redis"
	RedisDB   int    `mapstructure:"redis_db"`
}

// JobsConfig configures declarative job sources
type JobsConfig struct {
	Paths []string `mapstructure:"paths"` // YAML job definition files loaded at startup
}

// LogConfig configures log output
type LogConfig struct {
	JSON bool `mapstructure:"json"` // Emit structured JSON instead of console output
}
