package config

import "time"

// Config is the root configuration for a reconstructor instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Log         LogConfig         `yaml:"log"`
	Exchanges   []ExchangeConfig  `yaml:"exchanges"`
	Engine      EngineConfig      `yaml:"engine"`
	Database    DatabaseConfig    `yaml:"database"`
	Sinks       SinksConfig       `yaml:"sinks"`
	Connections ConnectionsConfig `yaml:"connections"`
	Poller      PollerConfig      `yaml:"poller"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this reconstructor.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// LogConfig holds structured-log output settings. An empty File logs to
// stderr only.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ExchangeConfig holds one upstream venue: its endpoints and the
// perpetual symbols to reconstruct.
type ExchangeConfig struct {
	Name       string        `yaml:"name"`
	WSURL      string        `yaml:"ws_url"`
	RestURL    string        `yaml:"rest_url"`
	Symbols    []string      `yaml:"symbols"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// EngineConfig holds sequence-validation and emission tuning.
type EngineConfig struct {
	// ReorderWindow 0 means the default; use 1 for strict
	// gap-on-first-hole behavior.
	ReorderWindow     int           `yaml:"reorder_window"`
	ReplayBufferSize  int           `yaml:"replay_buffer_size"`
	InboxSize         int           `yaml:"inbox_size"`
	MaxResyncAttempts int           `yaml:"max_resync_attempts"`
	ResyncBaseDelay   time.Duration `yaml:"resync_base_delay"`
	ResyncMaxDelay    time.Duration `yaml:"resync_max_delay"`
	EmitMode          string        `yaml:"emit_mode"` // "full_book" or "delta"
	Depth             int           `yaml:"depth"`     // rendered levels per side, 0 = all
}

// DatabaseConfig holds the TimescaleDB connection for time-series data.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SinksConfig enables and tunes the record outputs. At least one of
// timescale or jsonl must be enabled.
type SinksConfig struct {
	Timescale TimescaleSinkConfig `yaml:"timescale"`
	JSONL     JSONLSinkConfig     `yaml:"jsonl"`
	Redis     RedisSinkConfig     `yaml:"redis"`
}

// TimescaleSinkConfig holds batch writer settings for the database sink.
type TimescaleSinkConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// JSONLSinkConfig holds the rotating file sink settings.
type JSONLSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	Prefix     string `yaml:"prefix"`
	BufferSize int    `yaml:"buffer_size"`
}

// RedisSinkConfig holds the top-of-book publisher settings.
type RedisSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"` // channel prefix, instrument key appended
}

// ConnectionsConfig holds websocket feed settings shared by all venues.
type ConnectionsConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
}

// PollerConfig holds periodic REST snapshot settings. Interval 0 keeps
// the default; set Disabled to turn polling off.
type PollerConfig struct {
	Disabled    bool          `yaml:"disabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Depth       int           `yaml:"depth"` // levels requested per snapshot
}

// MetricsConfig holds the observability HTTP endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
