package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel          = "info"
	DefaultLogMaxSizeMB      = 100
	DefaultLogMaxBackups     = 5
	DefaultLogMaxAgeDays     = 14
	DefaultAPITimeout        = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultReorderWindow     = 8
	DefaultReplayBufferSize  = 65536
	DefaultInboxSize         = 4096
	DefaultMaxResyncAttempts = 5
	DefaultResyncBaseDelay   = 250 * time.Millisecond
	DefaultResyncMaxDelay    = 10 * time.Second
	DefaultEmitMode          = "full_book"
	DefaultDepth             = 50
	DefaultBatchSize         = 1000
	DefaultFlushInterval     = 1 * time.Second
	DefaultBufferSize        = 10000
	DefaultJSONLPrefix       = "l2"
	DefaultRedisChannel      = "tob"
	DefaultReconnectBase     = 1 * time.Second
	DefaultReconnectMax      = 60 * time.Second
	DefaultPingInterval      = 15 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultPollInterval      = 15 * time.Minute
	DefaultPollConcurrency   = 4
	DefaultPollDepth         = 1000
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
)

// Built-in REST/WS endpoints per supported venue, used when the config
// leaves them empty.
var defaultEndpoints = map[string]struct{ ws, rest string }{
	"binance": {ws: "wss://fstream.binance.com/ws", rest: "https://fapi.binance.com"},
	"bybit":   {ws: "wss://stream.bybit.com/v5/public/linear", rest: "https://api.bybit.com"},
}

func (c *Config) applyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = DefaultLogMaxAgeDays
	}

	// Exchange defaults
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if ep, ok := defaultEndpoints[ex.Name]; ok {
			if ex.WSURL == "" {
				ex.WSURL = ep.ws
			}
			if ex.RestURL == "" {
				ex.RestURL = ep.rest
			}
		}
		if ex.Timeout == 0 {
			ex.Timeout = DefaultAPITimeout
		}
		if ex.MaxRetries == 0 {
			ex.MaxRetries = DefaultMaxRetries
		}
	}

	// Engine defaults
	if c.Engine.ReorderWindow == 0 {
		c.Engine.ReorderWindow = DefaultReorderWindow
	}
	if c.Engine.ReplayBufferSize == 0 {
		c.Engine.ReplayBufferSize = DefaultReplayBufferSize
	}
	if c.Engine.InboxSize == 0 {
		c.Engine.InboxSize = DefaultInboxSize
	}
	if c.Engine.MaxResyncAttempts == 0 {
		c.Engine.MaxResyncAttempts = DefaultMaxResyncAttempts
	}
	if c.Engine.ResyncBaseDelay == 0 {
		c.Engine.ResyncBaseDelay = DefaultResyncBaseDelay
	}
	if c.Engine.ResyncMaxDelay == 0 {
		c.Engine.ResyncMaxDelay = DefaultResyncMaxDelay
	}
	if c.Engine.EmitMode == "" {
		c.Engine.EmitMode = DefaultEmitMode
	}
	if c.Engine.Depth == 0 {
		c.Engine.Depth = DefaultDepth
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Sink defaults
	if c.Sinks.Timescale.BatchSize == 0 {
		c.Sinks.Timescale.BatchSize = DefaultBatchSize
	}
	if c.Sinks.Timescale.FlushInterval == 0 {
		c.Sinks.Timescale.FlushInterval = DefaultFlushInterval
	}
	if c.Sinks.Timescale.BufferSize == 0 {
		c.Sinks.Timescale.BufferSize = DefaultBufferSize
	}
	if c.Sinks.JSONL.Prefix == "" {
		c.Sinks.JSONL.Prefix = DefaultJSONLPrefix
	}
	if c.Sinks.JSONL.BufferSize == 0 {
		c.Sinks.JSONL.BufferSize = DefaultBufferSize
	}
	if c.Sinks.Redis.Channel == "" {
		c.Sinks.Redis.Channel = DefaultRedisChannel
	}

	// Connections defaults
	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBase
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMax
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.ReadTimeout == 0 {
		c.Connections.ReadTimeout = DefaultReadTimeout
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Depth == 0 {
		c.Poller.Depth = DefaultPollDepth
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
