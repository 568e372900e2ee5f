package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-reconstructor
  az: us-east-1a
exchanges:
  - name: binance
    ws_url: wss://fstream.binance.com/ws
    rest_url: https://fapi.binance.com
    symbols: [BTCUSDT, ETHUSDT]
database:
  timescale:
    host: localhost
    port: 5432
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-reconstructor" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-reconstructor")
	}
	if len(cfg.Exchanges) != 1 || cfg.Exchanges[0].Name != "binance" {
		t.Fatalf("Exchanges = %+v", cfg.Exchanges)
	}
	if got := cfg.Exchanges[0].Symbols; len(got) != 2 || got[0] != "BTCUSDT" {
		t.Errorf("Symbols = %v", got)
	}
	if cfg.Database.Timescale.Host != "localhost" {
		t.Errorf("Database.Timescale.Host = %q, want %q", cfg.Database.Timescale.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-reconstructor
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Timescale.Password != "secret123" {
		t.Errorf("Database.Timescale.Password = %q, want %q", cfg.Database.Timescale.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-reconstructor
exchanges:
  - name: binance
    symbols: [BTCUSDT]
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Exchanges[0].WSURL == "" || cfg.Exchanges[0].RestURL == "" {
		t.Errorf("exchange endpoints not defaulted: %+v", cfg.Exchanges[0])
	}
	if cfg.Exchanges[0].Timeout != DefaultAPITimeout {
		t.Errorf("Timeout = %v, want default %v", cfg.Exchanges[0].Timeout, DefaultAPITimeout)
	}
	if cfg.Engine.ReorderWindow != DefaultReorderWindow {
		t.Errorf("Engine.ReorderWindow = %d, want default %d", cfg.Engine.ReorderWindow, DefaultReorderWindow)
	}
	if cfg.Engine.EmitMode != DefaultEmitMode {
		t.Errorf("Engine.EmitMode = %q, want default %q", cfg.Engine.EmitMode, DefaultEmitMode)
	}
	if cfg.Database.Timescale.Port != DefaultDBPort {
		t.Errorf("Database.Timescale.Port = %d, want default %d", cfg.Database.Timescale.Port, DefaultDBPort)
	}
	if cfg.Database.Timescale.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Timescale.MaxConns = %d, want default %d", cfg.Database.Timescale.MaxConns, DefaultMaxConns)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Sinks.JSONL.BufferSize != DefaultBufferSize {
		t.Errorf("Sinks.JSONL.BufferSize = %d, want default %d", cfg.Sinks.JSONL.BufferSize, DefaultBufferSize)
	}
}

func validBase() Config {
	return Config{
		Instance: InstanceConfig{ID: "test"},
		Exchanges: []ExchangeConfig{{
			Name:    "binance",
			WSURL:   "wss://fstream.binance.com/ws",
			RestURL: "https://fapi.binance.com",
			Symbols: []string{"BTCUSDT"},
		}},
		Engine: EngineConfig{
			ReorderWindow:     8,
			ReplayBufferSize:  1024,
			MaxResyncAttempts: 5,
			EmitMode:          "full_book",
		},
		Database: DatabaseConfig{
			Timescale: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2},
		},
		Sinks: SinksConfig{
			Timescale: TimescaleSinkConfig{Enabled: true, BatchSize: 1000, FlushInterval: time.Second, BufferSize: 10000},
		},
		Poller:  PollerConfig{Concurrency: 4},
		Metrics: MetricsConfig{Port: 9090},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "no exchanges",
			mutate:  func(c *Config) { c.Exchanges = nil },
			wantErr: "at least one exchange is required",
		},
		{
			name:    "unsupported exchange",
			mutate:  func(c *Config) { c.Exchanges[0].Name = "okx" },
			wantErr: `unsupported exchange "okx"`,
		},
		{
			name:    "no symbols",
			mutate:  func(c *Config) { c.Exchanges[0].Symbols = nil },
			wantErr: "exchanges.binance.symbols must list at least one symbol",
		},
		{
			name:    "bad emit mode",
			mutate:  func(c *Config) { c.Engine.EmitMode = "both" },
			wantErr: `engine.emit_mode must be full_book or delta, got "both"`,
		},
		{
			name: "no sinks enabled",
			mutate: func(c *Config) {
				c.Sinks.Timescale.Enabled = false
			},
			wantErr: "at least one of sinks.timescale or sinks.jsonl must be enabled",
		},
		{
			name: "jsonl without dir",
			mutate: func(c *Config) {
				c.Sinks.JSONL.Enabled = true
				c.Sinks.JSONL.Dir = ""
			},
			wantErr: "sinks.jsonl.dir is required when the jsonl sink is enabled",
		},
		{
			name:    "missing timescale host",
			mutate:  func(c *Config) { c.Database.Timescale.Host = "" },
			wantErr: "database.timescale.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Timescale.MaxConns = 5
				c.Database.Timescale.MinConns = 10
			},
			wantErr: "database.timescale.min_conns (10) cannot exceed max_conns (5)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
