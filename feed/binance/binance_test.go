package binance

import (
	"testing"

	"fundingflow/config"
)

func TestHandleMessageBatch(t *testing.T) {
	r := NewReader(config.BinanceFeedConfig{})

	msg := []byte(`[
		{"e":"markPriceUpdate","E":1756600000000,"s":"BTCUSDT","p":"65000.10","i":"64990.00","P":"65010.00","r":"0.00010000","T":1756628000000},
		{"e":"markPriceUpdate","E":1756600000000,"s":"ETHUSDT","p":"3000.50","r":"-0.00005000","T":1756628000000}
	]`)
	r.handleMessage(msg)

	snap, ok := r.Snapshot("BTCUSDT")
	if !ok {
		t.Fatal("BTCUSDT snapshot missing")
	}
	// Wire rate 0.0001 is a fraction; the snapshot carries 0.01 percent.
	if snap.MarkPrice != 65000.10 || snap.FundingRate != 0.01 || snap.NextFundingTime != 1756628000000 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.ObservedAt == 0 {
		t.Error("observed at not stamped")
	}

	eth, _ := r.Snapshot("ETHUSDT")
	if eth.FundingRate != -0.005 {
		t.Errorf("eth funding rate = %v", eth.FundingRate)
	}
}

func TestHandleMessageBadFrames(t *testing.T) {
	r := NewReader(config.BinanceFeedConfig{})

	// Unparseable, wrong event type, and unparseable numerics must all be
	// dropped without touching the table.
	r.handleMessage([]byte(`{"result":null,"id":1}`))
	r.handleMessage([]byte(`[{"e":"bookTicker","s":"BTCUSDT","p":"1","r":"1"}]`))
	r.handleMessage([]byte(`[{"e":"markPriceUpdate","s":"BTCUSDT","p":"not-a-number","r":"0.0001"}]`))

	if len(r.GetData()) != 0 {
		t.Errorf("table not empty: %v", r.GetData())
	}
}
