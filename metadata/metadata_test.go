package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fundingflow/config"
)

func TestIntervalStaticVenues(t *testing.T) {
	r := NewRegistry(config.MetadataConfig{})

	if hours, ok := r.Interval("hyperliquid", "BTC"); !ok || hours != 1 {
		t.Errorf("hyperliquid = %d, %v", hours, ok)
	}
	if hours, ok := r.Interval("asterdex", "BTCUSDT"); !ok || hours != 8 {
		t.Errorf("asterdex = %d, %v", hours, ok)
	}
	// Binance defaults venue-wide, other venues are unknown until fetched.
	if hours, ok := r.Interval("binance", "BTCUSDT"); !ok || hours != 8 {
		t.Errorf("binance default = %d, %v", hours, ok)
	}
	if _, ok := r.Interval("bybit", "BTCUSDT"); ok {
		t.Error("bybit should be unknown before refresh")
	}
	if _, ok := r.Interval("okx", "BTC-USDT-SWAP"); ok {
		t.Error("okx is never populated by the registry")
	}
}

func TestRefreshBinanceOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BLZUSDT","fundingIntervalHours":4},
			{"symbol":"BTCUSDT","fundingIntervalHours":8},
			{"symbol":"","fundingIntervalHours":4},
			{"symbol":"XUSDT","fundingIntervalHours":0}
		]`))
	}))
	defer srv.Close()

	r := NewRegistry(config.MetadataConfig{BinanceURL: srv.URL})
	n, err := r.refreshBinance(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 2 {
		t.Errorf("stored %d overrides, want 2", n)
	}
	if hours, _ := r.Interval("binance", "BLZUSDT"); hours != 4 {
		t.Errorf("BLZUSDT = %d, want 4", hours)
	}
	if hours, _ := r.Interval("binance", "ETHUSDT"); hours != 8 {
		t.Errorf("ETHUSDT fallback = %d, want 8", hours)
	}
}

func TestStoreBybitConvertsMinutes(t *testing.T) {
	r := NewRegistry(config.MetadataConfig{})
	n := r.storeBybit([]bybitInstrument{
		{Symbol: "BTCUSDT", FundingInterval: 480},
		{Symbol: "SOLUSDT", FundingInterval: 240},
		{Symbol: "JUNKUSDT", FundingInterval: 0},
		{Symbol: "", FundingInterval: 480},
	})
	if n != 2 {
		t.Errorf("stored %d instruments, want 2", n)
	}
	if hours, ok := r.Interval("bybit", "BTCUSDT"); !ok || hours != 8 {
		t.Errorf("BTCUSDT = %d, %v", hours, ok)
	}
	if hours, _ := r.Interval("bybit", "SOLUSDT"); hours != 4 {
		t.Errorf("SOLUSDT = %d, want 4", hours)
	}
}
