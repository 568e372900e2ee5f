// streamtest connects to a venue depth stream and prints decoded events
// to the console. It is a debugging aid for verifying endpoints,
// subscribe payloads, and decoder behavior without running the full
// pipeline.
//
// Usage: go run ./cmd/streamtest --exchange binance --symbols BTCUSDT,ETHUSDT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pentzer/perp-microstructure-depth/internal/connection"
	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

var defaultURLs = map[string]string{
	"binance": "wss://fstream.binance.com/ws",
	"bybit":   "wss://stream.bybit.com/v5/public/linear",
}

func main() {
	exchange := flag.String("exchange", "binance", "venue to connect to (binance or bybit)")
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated symbols")
	url := flag.String("url", "", "websocket URL (defaults to the venue's public endpoint)")
	verbose := flag.Bool("verbose", false, "print every delta, not a 1s summary")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	wsURL := *url
	if wsURL == "" {
		wsURL = defaultURLs[*exchange]
	}
	if wsURL == "" {
		logger.Error("unknown exchange and no --url given", "exchange", *exchange)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	decoders := decode.NewRegistry(decode.NewBinanceDecoder(), decode.NewBybitDecoder())

	var frames, deltas, skipped, failed atomic.Int64

	handler := func(raw decode.RawPayload) {
		frames.Add(1)
		d, ok := decoders.Lookup(raw.Exchange)
		if !ok {
			return
		}
		ev, err := d.Decode(raw)
		if err != nil {
			if errors.Is(err, decode.ErrSkip) {
				skipped.Add(1)
				return
			}
			failed.Add(1)
			logger.Warn("decode failed", "error", err, "raw", string(raw.Data))
			return
		}
		deltas.Add(1)
		if *verbose {
			printEvent(ev)
		}
	}

	feed, err := connection.NewFeed(connection.FeedConfig{
		Exchange: *exchange,
		URL:      wsURL,
		Symbols:  strings.Split(*symbols, ","),
	}, handler, logger)
	if err != nil {
		logger.Error("creating feed", "error", err)
		os.Exit(1)
	}
	if err := feed.Start(ctx); err != nil {
		logger.Error("starting feed", "error", err)
		os.Exit(1)
	}
	defer feed.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\ntotal: frames=%d events=%d skipped=%d failed=%d reconnects=%d\n",
				frames.Load(), deltas.Load(), skipped.Load(), failed.Load(), feed.Reconnects())
			return
		case <-ticker.C:
			if !*verbose {
				fmt.Printf("frames=%d events=%d skipped=%d failed=%d\n",
					frames.Load(), deltas.Load(), skipped.Load(), failed.Load())
			}
		}
	}
}

func printEvent(ev decode.Event) {
	switch ev.Kind {
	case decode.KindSnapshot:
		fmt.Printf("[%s] SNAPSHOT seq=%d bids=%d asks=%d\n",
			ev.Instrument, ev.Sequence, len(ev.Snapshot.Bids), len(ev.Snapshot.Asks))
	case decode.KindDelta:
		fmt.Printf("[%s] DELTA seq=%d..%d levels=%d\n",
			ev.Instrument, ev.FirstSequence, ev.Sequence, len(ev.Deltas))
		for _, d := range ev.Deltas {
			fmt.Printf("  %-3s %s x %s\n", d.Side, model.FormatFixed(d.Price), model.FormatFixed(d.Size))
		}
	}
}
