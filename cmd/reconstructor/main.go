package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pentzer/perp-microstructure-depth/internal/api"
	"github.com/pentzer/perp-microstructure-depth/internal/config"
	"github.com/pentzer/perp-microstructure-depth/internal/connection"
	"github.com/pentzer/perp-microstructure-depth/internal/database"
	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/engine"
	"github.com/pentzer/perp-microstructure-depth/internal/metrics"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
	"github.com/pentzer/perp-microstructure-depth/internal/normalize"
	"github.com/pentzer/perp-microstructure-depth/internal/poller"
	"github.com/pentzer/perp-microstructure-depth/internal/sink"
	"github.com/pentzer/perp-microstructure-depth/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/reconstructor.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting reconstructor",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reconstructor exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("reconstructor stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Database pool, only when the timescale sink needs it
	var pool *pgxpool.Pool
	if cfg.Sinks.Timescale.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"database", cfg.Database.Timescale.Name,
		)
		var err error
		pool, err = database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
	}

	// Record sinks
	var sinks []sink.Sink
	if cfg.Sinks.Timescale.Enabled {
		sinks = append(sinks, sink.NewTimescaleSink(sink.TimescaleConfig{
			BatchSize:     cfg.Sinks.Timescale.BatchSize,
			FlushInterval: cfg.Sinks.Timescale.FlushInterval,
			BufferSize:    cfg.Sinks.Timescale.BufferSize,
		}, pool, logger))
	}
	if cfg.Sinks.JSONL.Enabled {
		sinks = append(sinks, sink.NewJSONLSink(sink.JSONLConfig{
			Dir:        cfg.Sinks.JSONL.Dir,
			Prefix:     cfg.Sinks.JSONL.Prefix,
			BufferSize: cfg.Sinks.JSONL.BufferSize,
		}, logger))
	}
	multi := sink.NewMulti(sinks...)
	if err := multi.Start(ctx); err != nil {
		return fmt.Errorf("starting sinks: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		multi.Stop(stopCtx)
	}()

	// Optional top-of-book publisher
	var top engine.TopEmitter
	if cfg.Sinks.Redis.Enabled {
		pub, err := sink.NewTopPublisher(ctx, sink.RedisConfig{
			Addr:     cfg.Sinks.Redis.Addr,
			Password: cfg.Sinks.Redis.Password,
			DB:       cfg.Sinks.Redis.DB,
			Channel:  cfg.Sinks.Redis.Channel,
		}, logger)
		if err != nil {
			return fmt.Errorf("starting redis publisher: %w", err)
		}
		defer pub.Close()
		top = pub
	}

	// REST depth provider, one client per venue
	provider := api.NewProvider(cfg.Poller.Depth)
	var instruments []model.Instrument
	for _, ex := range cfg.Exchanges {
		client := api.NewClient(ex.RestURL,
			api.WithLogger(logger),
			api.WithTimeout(ex.Timeout),
			api.WithRetries(ex.MaxRetries, time.Second),
		)
		switch ex.Name {
		case "binance":
			provider.Register(ex.Name, api.NewBinanceDepth(client))
		case "bybit":
			provider.Register(ex.Name, api.NewBybitDepth(client))
		}
		for _, sym := range ex.Symbols {
			instruments = append(instruments, model.Instrument{Exchange: ex.Name, Symbol: sym})
		}
	}

	emitMode, err := normalize.ParseMode(cfg.Engine.EmitMode)
	if err != nil {
		return err
	}

	// Reconstruction engine
	registry := metrics.NewRegistry()
	decoders := decode.NewRegistry(decode.NewBinanceDecoder(), decode.NewBybitDecoder())
	eng := engine.New(engine.Config{
		Machine: engine.MachineConfig{
			ReorderWindow:    cfg.Engine.ReorderWindow,
			ReplayBufferSize: cfg.Engine.ReplayBufferSize,
		},
		InboxSize:         cfg.Engine.InboxSize,
		MaxResyncAttempts: cfg.Engine.MaxResyncAttempts,
		ResyncBaseDelay:   cfg.Engine.ResyncBaseDelay,
		ResyncMaxDelay:    cfg.Engine.ResyncMaxDelay,
		EmitMode:          emitMode,
		Depth:             cfg.Engine.Depth,
	}, decoders, provider, multi, top, registry, logger)

	for _, inst := range instruments {
		if err := eng.Track(inst); err != nil {
			return fmt.Errorf("tracking %s: %w", inst, err)
		}
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		eng.Stop(stopCtx)
	}()

	// Websocket feeds
	var feeds []*connection.Feed
	for _, ex := range cfg.Exchanges {
		feed, err := connection.NewFeed(connection.FeedConfig{
			Exchange:           ex.Name,
			URL:                ex.WSURL,
			Symbols:            ex.Symbols,
			ReconnectBaseDelay: cfg.Connections.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Connections.ReconnectMaxDelay,
			PingTimeout:        cfg.Connections.ReadTimeout,
		}, eng.Dispatch, logger)
		if err != nil {
			return fmt.Errorf("creating %s feed: %w", ex.Name, err)
		}
		if err := feed.Start(ctx); err != nil {
			return fmt.Errorf("starting %s feed: %w", ex.Name, err)
		}
		feeds = append(feeds, feed)
	}
	defer func() {
		for _, f := range feeds {
			f.Stop()
		}
	}()

	// Periodic REST snapshot refresh
	if !cfg.Poller.Disabled {
		p := poller.New(poller.Config{
			Interval:    cfg.Poller.Interval,
			Concurrency: cfg.Poller.Concurrency,
		}, provider, eng, instruments, logger)
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("starting poller: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			p.Stop(stopCtx)
		}()
	}

	// Observability endpoint
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newObservabilityHandler(cfg, pool, registry, eng),
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("reconstructor running",
		"instruments", len(instruments),
		"exchanges", len(cfg.Exchanges),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}

// newLogger builds the process logger. With a file configured, output
// goes to both stderr and a rotated log file.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newObservabilityHandler serves health and counter endpoints.
func newObservabilityHandler(cfg *config.Config, pool *pgxpool.Pool, registry *metrics.Registry, eng *engine.Engine) http.Handler {
	mux := http.NewServeMux()

	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	mux.HandleFunc(metricsPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"instance": cfg.Instance.ID,
			"states":   eng.States(),
			"counters": registry.Report(),
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		states := eng.States()
		live := 0
		for _, s := range states {
			if s == "live" {
				live++
			}
		}
		health.Components["books"] = map[string]any{
			"tracked": len(states),
			"live":    live,
		}
		if live == 0 && len(states) > 0 {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
