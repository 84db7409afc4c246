package metrics

import "testing"

func TestCountersAccumulate(t *testing.T) {
	before := Count(MetricVenueReconnect, "testvenue")
	EmitReconnect("testvenue")
	EmitReconnect("testvenue")
	if got := Count(MetricVenueReconnect, "testvenue"); got != before+2 {
		t.Errorf("count = %d, want %d", got, before+2)
	}
}

func TestSnapshotIncludesLabelledCounters(t *testing.T) {
	EmitDiscard("snapvenue")
	snap := Snapshot()
	if snap[MetricMessagesDiscarded+"/snapvenue"] < 1 {
		t.Errorf("snapshot missing discard counter: %v", snap)
	}
}

func TestLabelsAreIndependent(t *testing.T) {
	a := Count(MetricInstrumentSkipped, SkipReasonStale)
	Inc(MetricInstrumentSkipped, SkipReasonPriceRatio)
	if got := Count(MetricInstrumentSkipped, SkipReasonStale); got != a {
		t.Errorf("stale counter moved with price_ratio increment")
	}
}
