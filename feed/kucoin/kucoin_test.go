package kucoin

import (
	"context"
	"testing"
	"time"

	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"

	"fundingflow/config"
	"fundingflow/feed"
)

func TestContractSnapshot(t *testing.T) {
	now := int64(1756600000000)
	snap := contractSnapshot(&futuresmarket.GetSymbolResp{
		Symbol:                 "XBTUSDTM",
		MarkPrice:              65000.5,
		FundingFeeRate:         0.0001,
		NextFundingRateTime:    3600000,
		FundingRateGranularity: 28800000,
	}, now)

	// The SDK rate 0.0001 is a fraction; stored as 0.01 percent.
	if snap.FundingRate != 0.01 {
		t.Errorf("funding rate = %v, want 0.01", snap.FundingRate)
	}
	if snap.NextFundingTime != now+3600000 {
		t.Errorf("next funding = %v", snap.NextFundingTime)
	}
	if snap.FundingIntervalHours != 8 {
		t.Errorf("interval = %d, want 8", snap.FundingIntervalHours)
	}
	if snap.MarkPrice != 65000.5 || snap.Symbol != "XBTUSDTM" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestConnectRequiresSymbols(t *testing.T) {
	r := NewReader(config.KucoinFeedConfig{}, nil)
	if err := r.Connect(context.Background()); err == nil {
		t.Error("expected error for empty symbol list")
	}
	if r.State() != feed.StateDisconnected {
		t.Errorf("state = %v", r.State())
	}
}

func TestPollIntervalDefault(t *testing.T) {
	r := NewReader(config.KucoinFeedConfig{}, []string{"XBTUSDTM"})
	if r.pollInterval() != 15*time.Second {
		t.Errorf("default interval = %v", r.pollInterval())
	}
	r = NewReader(config.KucoinFeedConfig{PollIntervalMs: 5000}, []string{"XBTUSDTM"})
	if r.pollInterval() != 5*time.Second {
		t.Errorf("configured interval = %v", r.pollInterval())
	}
}

func TestLifecycle(t *testing.T) {
	r := NewReader(config.KucoinFeedConfig{PollIntervalMs: 60000}, []string{"XBTUSDTM"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if r.State() != feed.StateConnected {
		t.Errorf("state after connect = %v", r.State())
	}
	if err := r.Connect(ctx); err == nil {
		t.Error("second connect should fail")
	}

	r.Disconnect()
	if r.State() != feed.StateDisconnected {
		t.Errorf("state after disconnect = %v", r.State())
	}
}
