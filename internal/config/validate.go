package config

import (
	"errors"
	"fmt"
)

var supportedExchanges = map[string]bool{
	"binance": true,
	"bybit":   true,
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Exchanges) == 0 {
		return errors.New("at least one exchange is required")
	}
	seen := make(map[string]bool, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if !supportedExchanges[ex.Name] {
			return fmt.Errorf("unsupported exchange %q", ex.Name)
		}
		if seen[ex.Name] {
			return fmt.Errorf("exchange %q listed twice", ex.Name)
		}
		seen[ex.Name] = true
		if ex.WSURL == "" {
			return fmt.Errorf("exchanges.%s.ws_url is required", ex.Name)
		}
		if ex.RestURL == "" {
			return fmt.Errorf("exchanges.%s.rest_url is required", ex.Name)
		}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("exchanges.%s.symbols must list at least one symbol", ex.Name)
		}
	}

	switch c.Engine.EmitMode {
	case "full_book", "delta":
	default:
		return fmt.Errorf("engine.emit_mode must be full_book or delta, got %q", c.Engine.EmitMode)
	}
	if c.Engine.ReorderWindow < 0 {
		return errors.New("engine.reorder_window must be >= 0")
	}
	if c.Engine.ReplayBufferSize < 1 {
		return errors.New("engine.replay_buffer_size must be >= 1")
	}
	if c.Engine.MaxResyncAttempts < 1 {
		return errors.New("engine.max_resync_attempts must be >= 1")
	}

	if !c.Sinks.Timescale.Enabled && !c.Sinks.JSONL.Enabled {
		return errors.New("at least one of sinks.timescale or sinks.jsonl must be enabled")
	}
	if c.Sinks.Timescale.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Sinks.Timescale.BatchSize < 1 {
			return errors.New("sinks.timescale.batch_size must be >= 1")
		}
		if c.Sinks.Timescale.BufferSize < 1 {
			return errors.New("sinks.timescale.buffer_size must be >= 1")
		}
	}
	if c.Sinks.JSONL.Enabled && c.Sinks.JSONL.Dir == "" {
		return errors.New("sinks.jsonl.dir is required when the jsonl sink is enabled")
	}
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Addr == "" {
		return errors.New("sinks.redis.addr is required when the redis sink is enabled")
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
