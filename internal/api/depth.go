package api

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// DepthFetcher fetches one venue's depth snapshot for a symbol.
type DepthFetcher interface {
	Fetch(ctx context.Context, symbol string, depth int) (*model.BookSnapshot, error)
}

// Provider multiplexes depth fetchers by exchange name. It satisfies
// the engine's snapshot lookup.
type Provider struct {
	fetchers map[string]DepthFetcher
	depth    int
}

// NewProvider creates a provider requesting the given number of levels
// per snapshot.
func NewProvider(depth int) *Provider {
	return &Provider{fetchers: make(map[string]DepthFetcher), depth: depth}
}

// Register adds a fetcher for an exchange. Not safe for concurrent use
// with Snapshot; register everything during startup.
func (p *Provider) Register(exchange string, f DepthFetcher) {
	p.fetchers[exchange] = f
}

// Snapshot fetches an authoritative book snapshot for the instrument.
func (p *Provider) Snapshot(ctx context.Context, inst model.Instrument) (*model.BookSnapshot, error) {
	f, ok := p.fetchers[inst.Exchange]
	if !ok {
		return nil, fmt.Errorf("no depth fetcher for exchange %q", inst.Exchange)
	}
	snap, err := f.Fetch(ctx, inst.Symbol, p.depth)
	if err != nil {
		return nil, err
	}
	snap.Instrument = inst
	return snap, nil
}

// BinanceDepth fetches futures depth snapshots from /fapi/v1/depth.
type BinanceDepth struct {
	client *Client
}

// NewBinanceDepth wraps a client for the Binance futures REST API.
func NewBinanceDepth(c *Client) *BinanceDepth {
	return &BinanceDepth{client: c}
}

type binanceDepthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	EventTime    int64      `json:"E"` // ms
	TxTime       int64      `json:"T"` // ms
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Fetch requests a depth snapshot. Sequence is lastUpdateId; deltas
// with FirstSequence <= lastUpdateId+1 <= Sequence apply on top.
func (b *BinanceDepth) Fetch(ctx context.Context, symbol string, depth int) (*model.BookSnapshot, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	if depth > 0 {
		query.Set("limit", strconv.Itoa(depth))
	}

	var resp binanceDepthResponse
	if err := b.client.get(ctx, "/fapi/v1/depth", query, &resp); err != nil {
		return nil, fmt.Errorf("binance depth %s: %w", symbol, err)
	}
	if resp.LastUpdateID <= 0 {
		return nil, fmt.Errorf("binance depth %s: missing lastUpdateId", symbol)
	}

	bids, err := parseDepthLevels(resp.Bids, model.Bid)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s bids: %w", symbol, err)
	}
	asks, err := parseDepthLevels(resp.Asks, model.Ask)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s asks: %w", symbol, err)
	}

	return &model.BookSnapshot{
		Sequence:   resp.LastUpdateID,
		ExchangeTS: resp.EventTime * int64(1_000_000),
		Bids:       bids,
		Asks:       asks,
	}, nil
}

// BybitDepth fetches linear-perp depth snapshots from /v5/market/orderbook.
type BybitDepth struct {
	client *Client
}

// NewBybitDepth wraps a client for the Bybit v5 REST API.
func NewBybitDepth(c *Client) *BybitDepth {
	return &BybitDepth{client: c}
}

type bybitDepthResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol   string     `json:"s"`
		Bids     [][]string `json:"b"`
		Asks     [][]string `json:"a"`
		UpdateID int64      `json:"u"`
		Ts       int64      `json:"ts"` // ms
	} `json:"result"`
}

// Fetch requests an orderbook snapshot for a linear perpetual.
func (b *BybitDepth) Fetch(ctx context.Context, symbol string, depth int) (*model.BookSnapshot, error) {
	query := url.Values{}
	query.Set("category", "linear")
	query.Set("symbol", symbol)
	if depth > 0 {
		// Bybit caps the orderbook endpoint at 500 levels for linear.
		if depth > 500 {
			depth = 500
		}
		query.Set("limit", strconv.Itoa(depth))
	}

	var resp bybitDepthResponse
	if err := b.client.get(ctx, "/v5/market/orderbook", query, &resp); err != nil {
		return nil, fmt.Errorf("bybit orderbook %s: %w", symbol, err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit orderbook %s: retCode %d: %s", symbol, resp.RetCode, resp.RetMsg)
	}
	if resp.Result.UpdateID <= 0 {
		return nil, fmt.Errorf("bybit orderbook %s: missing update id", symbol)
	}

	bids, err := parseDepthLevels(resp.Result.Bids, model.Bid)
	if err != nil {
		return nil, fmt.Errorf("bybit orderbook %s bids: %w", symbol, err)
	}
	asks, err := parseDepthLevels(resp.Result.Asks, model.Ask)
	if err != nil {
		return nil, fmt.Errorf("bybit orderbook %s asks: %w", symbol, err)
	}

	return &model.BookSnapshot{
		Sequence:   resp.Result.UpdateID,
		ExchangeTS: resp.Result.Ts * int64(1_000_000),
		Bids:       bids,
		Asks:       asks,
	}, nil
}

// parseDepthLevels converts [price, size] string pairs to fixed-point
// levels in the side's sort order.
func parseDepthLevels(raw [][]string, side model.Side) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("level has %d fields, want 2", len(pair))
		}
		price, err := model.ParseFixed(pair[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		size, err := model.ParseFixed(pair[1])
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", pair[1], err)
		}
		if size == 0 {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Size: size})
	}

	if side == model.Bid {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	}
	return levels, nil
}
