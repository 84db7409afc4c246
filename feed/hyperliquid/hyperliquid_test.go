package hyperliquid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"fundingflow/config"
	"fundingflow/logger"
)

func TestHandleAllMids(t *testing.T) {
	r := NewReader(config.HyperliquidFeedConfig{})

	r.handleMessage([]byte(`{"channel":"allMids","data":{"mids":{"BTC":"65000.5","kPEPE":"0.0123","@1":"1.0001","ETH":"bad"}}}`))

	btc, ok := r.Snapshot("BTC")
	if !ok || btc.MarkPrice != 65000.5 {
		t.Errorf("BTC snapshot = %+v, ok=%v", btc, ok)
	}
	if kpepe, ok := r.Snapshot("kPEPE"); !ok || kpepe.MarkPrice != 0.0123 {
		t.Errorf("kPEPE snapshot = %+v", kpepe)
	}
	if _, ok := r.Snapshot("@1"); ok {
		t.Error("spot index pair should be skipped")
	}
	if _, ok := r.Snapshot("ETH"); ok {
		t.Error("unparseable mid should be skipped")
	}
}

func TestHandleNonDataFrames(t *testing.T) {
	r := NewReader(config.HyperliquidFeedConfig{})
	r.handleMessage([]byte(`{"channel":"pong"}`))
	r.handleMessage([]byte(`{"channel":"subscriptionResponse","data":{"method":"subscribe"}}`))
	r.handleMessage([]byte(`junk`))
	if len(r.GetData()) != 0 {
		t.Errorf("table not empty: %v", r.GetData())
	}
}

func TestFetchFunding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Errorf("method = %s", req.Method)
		}
		w.Write([]byte(`[
			{"universe":[{"name":"BTC"},{"name":"kPEPE"}]},
			[{"funding":"0.0000125","markPx":"65000.5"},{"funding":"-0.0000500","markPx":"0.0123"}]
		]`))
	}))
	defer srv.Close()

	r := NewReader(config.HyperliquidFeedConfig{InfoURL: srv.URL})
	r.fetchFunding(context.Background(), logger.GetLogger().WithComponent("test"))

	btc, ok := r.Snapshot("BTC")
	if !ok {
		t.Fatal("BTC snapshot missing")
	}
	// Wire rate 0.0000125 is a fraction; stored as 0.00125 percent.
	if btc.FundingRate != 0.00125 || btc.FundingIntervalHours != 1 || btc.MarkPrice != 65000.5 {
		t.Errorf("BTC snapshot = %+v", btc)
	}
	if btc.NextFundingTime == 0 {
		t.Error("next funding time not set")
	}

	kpepe, _ := r.Snapshot("kPEPE")
	if kpepe.FundingRate != -0.005 {
		t.Errorf("kPEPE funding = %v", kpepe.FundingRate)
	}
}
