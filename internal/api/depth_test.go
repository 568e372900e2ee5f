package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

func TestBinanceDepthFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/depth" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %q", got)
		}
		w.Write([]byte(`{
			"lastUpdateId": 160076480,
			"E": 1718613596120,
			"T": 1718613596110,
			"bids": [["65000.10","1.5"],["64999.90","0.2"]],
			"asks": [["65000.50","0.8"]]
		}`))
	}))
	defer srv.Close()

	d := NewBinanceDepth(NewClient(srv.URL))
	snap, err := d.Fetch(context.Background(), "BTCUSDT", 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if snap.Sequence != 160076480 {
		t.Errorf("Sequence = %d", snap.Sequence)
	}
	if snap.ExchangeTS != 1718613596120*int64(1_000_000) {
		t.Errorf("ExchangeTS = %d", snap.ExchangeTS)
	}
	if len(snap.Bids) != 2 || snap.Bids[0].Price != 65000_10000000 {
		t.Errorf("Bids = %+v", snap.Bids)
	}
	if snap.Bids[0].Price <= snap.Bids[1].Price {
		t.Error("bids not descending")
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Size != 80000000 {
		t.Errorf("Asks = %+v", snap.Asks)
	}
}

func TestBybitDepthFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/orderbook" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("category"); got != "linear" {
			t.Errorf("category = %q", got)
		}
		w.Write([]byte(`{
			"retCode": 0,
			"retMsg": "OK",
			"result": {
				"s": "ETHUSDT",
				"b": [["3400.00","10"],["3399.50","4"]],
				"a": [["3400.50","2"],["3401.00","6"]],
				"u": 88999,
				"ts": 1718613600000
			}
		}`))
	}))
	defer srv.Close()

	d := NewBybitDepth(NewClient(srv.URL))
	snap, err := d.Fetch(context.Background(), "ETHUSDT", 200)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Sequence != 88999 {
		t.Errorf("Sequence = %d", snap.Sequence)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 2 {
		t.Fatalf("levels = %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
	if snap.Asks[0].Price >= snap.Asks[1].Price {
		t.Error("asks not ascending")
	}
}

func TestBybitDepthRetCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()

	d := NewBybitDepth(NewClient(srv.URL))
	if _, err := d.Fetch(context.Background(), "NOPE", 50); err == nil {
		t.Fatal("Fetch succeeded on non-zero retCode")
	}
}

func TestProviderRouting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"lastUpdateId": 42,
			"E": 1718613596120,
			"bids": [["100.0","1"]],
			"asks": [["101.0","1"]]
		}`))
	}))
	defer srv.Close()

	p := NewProvider(100)
	p.Register("binance", NewBinanceDepth(NewClient(srv.URL)))

	inst := model.Instrument{Exchange: "binance", Symbol: "BTCUSDT"}
	snap, err := p.Snapshot(context.Background(), inst)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Instrument != inst {
		t.Errorf("Instrument = %+v", snap.Instrument)
	}
	if snap.Sequence != 42 {
		t.Errorf("Sequence = %d", snap.Sequence)
	}

	if _, err := p.Snapshot(context.Background(), model.Instrument{Exchange: "okx", Symbol: "X"}); err == nil {
		t.Fatal("Snapshot for unregistered exchange succeeded")
	}
}
