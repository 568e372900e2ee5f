package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pentzer/perp-microstructure-depth/internal/decode"
)

// Handler consumes raw frames from a feed.
type Handler func(raw decode.RawPayload)

// Feed supervises one venue's websocket connection: subscribe on
// connect, forward frames, reconnect with backoff on failure. Each
// connection epoch gets a fresh ConnID so downstream consumers can tell
// frames from different connections apart.
type Feed struct {
	cfg     FeedConfig
	handler Handler
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	reconnects atomic.Int64
	started    bool
}

// NewFeed creates a feed supervisor. The handler is called from the
// feed's goroutine and must not block.
func NewFeed(cfg FeedConfig, handler Handler, logger *slog.Logger) (*Feed, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed %s: url is required", cfg.Exchange)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("feed %s: no symbols", cfg.Exchange)
	}
	if _, err := subscribePayloads(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "feed", "exchange", cfg.Exchange),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the supervision loop.
func (f *Feed) Start(ctx context.Context) error {
	if f.started {
		return fmt.Errorf("feed %s already started", f.cfg.Exchange)
	}
	f.started = true

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.run(runCtx)
	return nil
}

// Stop terminates the feed and waits for the loop to exit.
func (f *Feed) Stop() {
	if !f.started {
		return
	}
	f.cancel()
	<-f.done
}

// Reconnects returns how many times the feed re-dialed.
func (f *Feed) Reconnects() int64 {
	return f.reconnects.Load()
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	backoff := f.cfg.ReconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		startedAt := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("connection lost", "error", err)
		f.reconnects.Add(1)

		// A connection that lived a while earns a fresh backoff.
		if time.Since(startedAt) > 30*time.Second {
			backoff = f.cfg.ReconnectBaseDelay
		}
		jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
		f.logger.Info("reconnecting", "backoff", jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
		backoff *= 2
		if backoff > f.cfg.ReconnectMaxDelay {
			backoff = f.cfg.ReconnectMaxDelay
		}
	}
}

// runConnection dials once and pumps frames until the connection dies.
func (f *Feed) runConnection(ctx context.Context) error {
	connID := uuid.New()
	client := NewClient(ClientConfig{
		URL:          f.cfg.URL,
		PingTimeout:  f.cfg.PingTimeout,
		WriteTimeout: f.cfg.WriteTimeout,
		BufferSize:   f.cfg.BufferSize,
	}, f.logger)

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	payloads, err := subscribePayloads(f.cfg)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		if err := client.Send(p); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	f.logger.Info("subscribed", "conn_id", connID, "symbols", len(f.cfg.Symbols))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-client.Errors():
			return err
		case msg := <-client.Messages():
			f.handler(decode.RawPayload{
				Exchange:   f.cfg.Exchange,
				Data:       msg.Data,
				ConnID:     connID,
				ReceivedAt: msg.ReceivedAt,
			})
		}
	}
}

// subscribePayloads builds the venue-specific subscribe frames.
func subscribePayloads(cfg FeedConfig) ([][]byte, error) {
	switch cfg.Exchange {
	case "binance":
		params := make([]string, 0, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			params = append(params, strings.ToLower(sym)+"@depth@100ms")
		}
		msg, err := json.Marshal(map[string]any{
			"method": "SUBSCRIBE",
			"params": params,
			"id":     1,
		})
		if err != nil {
			return nil, err
		}
		return [][]byte{msg}, nil

	case "bybit":
		args := make([]string, 0, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			args = append(args, fmt.Sprintf("orderbook.%d.%s", cfg.BybitDepth, strings.ToUpper(sym)))
		}
		msg, err := json.Marshal(map[string]any{
			"op":   "subscribe",
			"args": args,
		})
		if err != nil {
			return nil, err
		}
		return [][]byte{msg}, nil

	default:
		return nil, fmt.Errorf("unsupported exchange %q", cfg.Exchange)
	}
}
