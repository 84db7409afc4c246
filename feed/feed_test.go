package feed

import (
	"testing"
	"time"

	"fundingflow/config"
	"fundingflow/models"
)

func TestTableMergeKeepsPriorFields(t *testing.T) {
	tbl := NewTable()
	tbl.Put(models.InstrumentSnapshot{
		Symbol:               "BTCUSDT",
		MarkPrice:            65000,
		FundingRate:          0.01,
		FundingIntervalHours: 8,
		NextFundingTime:      1700000000000,
		ObservedAt:           1000,
	})

	// Mark-price-only tick must not clobber funding fields.
	tbl.Merge(models.InstrumentSnapshot{Symbol: "BTCUSDT", MarkPrice: 65100, ObservedAt: 2000})

	snap, ok := tbl.Get("BTCUSDT")
	if !ok {
		t.Fatal("snapshot missing after merge")
	}
	if snap.MarkPrice != 65100 {
		t.Errorf("mark price = %v, want 65100", snap.MarkPrice)
	}
	if snap.FundingRate != 0.01 || snap.FundingIntervalHours != 8 || snap.NextFundingTime != 1700000000000 {
		t.Errorf("funding fields lost: %+v", snap)
	}
	if snap.ObservedAt != 2000 {
		t.Errorf("observed at = %d, want 2000", snap.ObservedAt)
	}
}

func TestTableMergeFundingUpdate(t *testing.T) {
	tbl := NewTable()
	tbl.Merge(models.InstrumentSnapshot{Symbol: "ETHUSDT", MarkPrice: 3000, ObservedAt: 1})
	// Funding update carrying a genuinely zero rate still lands because it
	// comes with a settlement time.
	tbl.Merge(models.InstrumentSnapshot{Symbol: "ETHUSDT", FundingRate: 0, NextFundingTime: 42, ObservedAt: 2})

	snap, _ := tbl.Get("ETHUSDT")
	if snap.MarkPrice != 3000 || snap.NextFundingTime != 42 {
		t.Errorf("unexpected merged snapshot: %+v", snap)
	}
}

func TestTableAllIsACopy(t *testing.T) {
	tbl := NewTable()
	tbl.Put(models.InstrumentSnapshot{Symbol: "A", MarkPrice: 1})
	all := tbl.All()
	all["A"] = models.InstrumentSnapshot{Symbol: "A", MarkPrice: 99}
	if snap, _ := tbl.Get("A"); snap.MarkPrice != 1 {
		t.Errorf("table mutated through All() copy")
	}
	if tbl.Len() != 1 {
		t.Errorf("len = %d, want 1", tbl.Len())
	}
}

func TestConnStateTransitions(t *testing.T) {
	s := NewConnState()
	if s.Get() != StateDisconnected {
		t.Fatalf("initial state = %v", s.Get())
	}
	s.Set(StateConnecting)
	s.Set(StateConnected)
	if !s.Connected() {
		t.Error("expected connected")
	}
	s.Set(StateDisconnected)
	if s.Connected() {
		t.Error("expected disconnected")
	}
}

func TestBackoffSchedule(t *testing.T) {
	b := NewBackoff(config.ReconnectConfig{BaseDelayMs: 1000, MaxDelayMs: 30000})

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := b.Duration(); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i, got, w)
		}
	}

	// A successful connect resets the schedule to the base delay.
	b.Reset()
	if got := b.Duration(); got != time.Second {
		t.Errorf("after reset: delay = %v, want 1s", got)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(config.ReconnectConfig{})
	if b.Min != time.Second || b.Max != 30*time.Second {
		t.Errorf("defaults = min %v max %v", b.Min, b.Max)
	}
}
