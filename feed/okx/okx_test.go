package okx

import (
	"context"
	"testing"

	"fundingflow/config"
)

func TestHandleMarkPriceAndFundingMerge(t *testing.T) {
	r := NewReader(config.OkxFeedConfig{}, []string{"BTC-USDT-SWAP"})

	r.handleMessage([]byte(`{"arg":{"channel":"mark-price","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","markPx":"65000.5","ts":"1756600000000"}]}`))
	r.handleMessage([]byte(`{"arg":{"channel":"funding-rate","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","fundingRate":"0.0001","fundingTime":"1756628000000","nextFundingTime":"1756656800000"}]}`))

	snap, ok := r.Snapshot("BTC-USDT-SWAP")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if snap.MarkPrice != 65000.5 {
		t.Errorf("mark price = %v", snap.MarkPrice)
	}
	// Wire rate 0.0001 is a fraction; stored as 0.01 percent.
	if snap.FundingRate != 0.01 || snap.NextFundingTime != 1756628000000 {
		t.Errorf("funding fields = %+v", snap)
	}
	// 8h gap between settlements observed from the stream.
	if snap.FundingIntervalHours != 8 {
		t.Errorf("interval = %d, want 8", snap.FundingIntervalHours)
	}
}

func TestHandleControlFrames(t *testing.T) {
	r := NewReader(config.OkxFeedConfig{}, []string{"BTC-USDT-SWAP"})

	r.handleMessage([]byte(`pong`))
	r.handleMessage([]byte(`{"event":"subscribe","arg":{"channel":"mark-price","instId":"BTC-USDT-SWAP"}}`))
	r.handleMessage([]byte(`{"event":"error","msg":"channel not found"}`))
	r.handleMessage([]byte(`{"arg":{"channel":"mark-price"},"data":[{"instId":"","markPx":"1"}]}`))

	if len(r.GetData()) != 0 {
		t.Errorf("table not empty: %v", r.GetData())
	}
}

func TestConnectRequiresSymbols(t *testing.T) {
	r := NewReader(config.OkxFeedConfig{}, nil)
	if err := r.Connect(context.Background()); err == nil {
		t.Error("expected error for empty instrument list")
	}
}
