package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/metrics"
	"fundingflow/models"
	"fundingflow/universe"
)

type fakeAdapter struct {
	venue string
	data  map[string]models.InstrumentSnapshot
}

func (f *fakeAdapter) Venue() string                                 { return f.venue }
func (f *fakeAdapter) Connect(context.Context) error                 { return nil }
func (f *fakeAdapter) Disconnect()                                   {}
func (f *fakeAdapter) State() feed.State                             { return feed.StateConnected }
func (f *fakeAdapter) GetData() map[string]models.InstrumentSnapshot { return f.data }
func (f *fakeAdapter) Snapshot(symbol string) (models.InstrumentSnapshot, bool) {
	snap, ok := f.data[symbol]
	return snap, ok
}

type fakeIntervals map[string]int

func (f fakeIntervals) Interval(venue, symbol string) (int, bool) {
	hours, ok := f[venue+"/"+symbol]
	return hours, ok
}

func testUniverse() *universe.Universe {
	return &universe.Universe{Instruments: []universe.Instrument{
		{Symbol: "BTC", Name: "Bitcoin", Binance: "BTCUSDT", Okx: "BTC-USDT-SWAP"},
		{Symbol: "ETH", Name: "Ethereum", Binance: "ETHUSDT", Okx: "ETH-USDT-SWAP"},
		{Symbol: "SOL", Name: "Solana", Binance: "SOLUSDT"},
	}}
}

func defaultOptions() Options {
	return Options{
		NotionalUSD:     100,
		TakerFeeRate:    0.0005,
		FreshnessWindow: 5 * time.Minute,
		MinPriceRatio:   0.01,
		MaxPriceRatio:   100,
	}
}

func snapshotAt(now time.Time, mark, rate float64, next time.Time) models.InstrumentSnapshot {
	return models.InstrumentSnapshot{
		MarkPrice:       mark,
		FundingRate:     rate,
		NextFundingTime: next.UnixMilli(),
		ObservedAt:      now.UnixMilli(),
	}
}

func TestEvaluatePairPicksBetterDirection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(4 * time.Hour)

	binance := &fakeAdapter{venue: "binance", data: map[string]models.InstrumentSnapshot{
		"BTCUSDT": snapshotAt(now, 65000, 0.01, next),
	}}
	okx := &fakeAdapter{venue: "okx", data: map[string]models.InstrumentSnapshot{
		"BTC-USDT-SWAP": snapshotAt(now, 65000, 0.04, next),
	}}
	adapters := map[string]feed.Adapter{"binance": binance, "okx": okx}
	intervals := fakeIntervals{"binance/BTCUSDT": 8, "okx/BTC-USDT-SWAP": 8}

	s := New(adapters, intervals, testUniverse(), defaultOptions())
	opps, err := s.EvaluatePair("binance", "okx", now)
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	require.Equal(t, "BTC", opp.Symbol)
	require.Equal(t, models.DirectionLongAShortB, opp.Projection.Direction)
	require.InDelta(t, 0.03, opp.Projection.NetCycleIncomePercent, 1e-12)
	// Identical marks: no spread, only fees against the funding income.
	require.Zero(t, opp.PriceSpreadPercent)
	require.InDelta(t, 0.2, opp.FeeCostPercent, 1e-12)
	require.InDelta(t, 0.03-0.2, opp.NetProfitPercent, 1e-12)
	require.False(t, opp.IsOpportunity)
}

func TestEvaluatePairSpreadFollowsDirection(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)

	// Funding favors shorting binance; buying okx below and selling binance
	// above adds the convergence gap.
	binance := &fakeAdapter{venue: "binance", data: map[string]models.InstrumentSnapshot{
		"ETHUSDT": snapshotAt(now, 3030, 0.05, next),
	}}
	okx := &fakeAdapter{venue: "okx", data: map[string]models.InstrumentSnapshot{
		"ETH-USDT-SWAP": snapshotAt(now, 3000, 0.0, next),
	}}
	adapters := map[string]feed.Adapter{"binance": binance, "okx": okx}
	intervals := fakeIntervals{"binance/ETHUSDT": 8, "okx/ETH-USDT-SWAP": 8}

	s := New(adapters, intervals, testUniverse(), defaultOptions())
	opps, err := s.EvaluatePair("binance", "okx", now)
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	require.Equal(t, models.DirectionShortALongB, opp.Projection.Direction)
	require.InDelta(t, (3030.0-3000.0)/3000.0*100, opp.PriceSpreadPercent, 1e-12)
	require.True(t, opp.IsOpportunity)
}

func TestEvaluatePairSkipReasons(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)

	stale := snapshotAt(now.Add(-10*time.Minute), 3000, 0.01, next)
	binance := &fakeAdapter{venue: "binance", data: map[string]models.InstrumentSnapshot{
		"BTCUSDT": snapshotAt(now, 100, 0.01, next), // denomination mismatch vs okx
		"ETHUSDT": stale,
	}}
	okx := &fakeAdapter{venue: "okx", data: map[string]models.InstrumentSnapshot{
		"BTC-USDT-SWAP": snapshotAt(now, 100000, 0.01, next),
		"ETH-USDT-SWAP": snapshotAt(now, 3000, 0.01, next),
	}}
	adapters := map[string]feed.Adapter{"binance": binance, "okx": okx}
	intervals := fakeIntervals{}

	pair := "binance-okx"
	ratioBefore := metrics.Count(metrics.MetricInstrumentSkipped, pair+"/"+metrics.SkipReasonPriceRatio)
	staleBefore := metrics.Count(metrics.MetricInstrumentSkipped, pair+"/"+metrics.SkipReasonStale)
	mappingBefore := metrics.Count(metrics.MetricInstrumentSkipped, pair+"/"+metrics.SkipReasonNoMapping)

	s := New(adapters, intervals, testUniverse(), defaultOptions())
	opps, err := s.EvaluatePair("binance", "okx", now)
	require.NoError(t, err)
	require.Empty(t, opps)

	require.Equal(t, ratioBefore+1, metrics.Count(metrics.MetricInstrumentSkipped, pair+"/"+metrics.SkipReasonPriceRatio))
	require.Equal(t, staleBefore+1, metrics.Count(metrics.MetricInstrumentSkipped, pair+"/"+metrics.SkipReasonStale))
	// SOL has no okx listing.
	require.Equal(t, mappingBefore+1, metrics.Count(metrics.MetricInstrumentSkipped, pair+"/"+metrics.SkipReasonNoMapping))
}

func TestEvaluatePairRanking(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)

	binance := &fakeAdapter{venue: "binance", data: map[string]models.InstrumentSnapshot{
		"BTCUSDT": snapshotAt(now, 65000, 0.0, next),
		"ETHUSDT": snapshotAt(now, 3000, 0.0, next),
	}}
	okx := &fakeAdapter{venue: "okx", data: map[string]models.InstrumentSnapshot{
		"BTC-USDT-SWAP": snapshotAt(now, 65000, 0.01, next),
		"ETH-USDT-SWAP": snapshotAt(now, 3000, 0.05, next),
	}}
	adapters := map[string]feed.Adapter{"binance": binance, "okx": okx}
	intervals := fakeIntervals{
		"binance/BTCUSDT": 8, "binance/ETHUSDT": 8,
		"okx/BTC-USDT-SWAP": 8, "okx/ETH-USDT-SWAP": 8,
	}

	s := New(adapters, intervals, testUniverse(), defaultOptions())
	opps, err := s.EvaluatePair("binance", "okx", now)
	require.NoError(t, err)
	require.Len(t, opps, 2)
	require.Equal(t, "ETH", opps[0].Symbol)
	require.Equal(t, "BTC", opps[1].Symbol)

	// Two passes over the same data produce identical output.
	again, err := s.EvaluatePair("binance", "okx", now)
	require.NoError(t, err)
	require.Equal(t, opps, again)
}

func TestEvaluatePairUnknownVenue(t *testing.T) {
	s := New(map[string]feed.Adapter{}, fakeIntervals{}, testUniverse(), defaultOptions())
	_, err := s.EvaluatePair("binance", "okx", time.Now())
	require.Error(t, err)
}

func TestResolveIntervalFallback(t *testing.T) {
	s := New(nil, fakeIntervals{}, testUniverse(), defaultOptions())
	now := time.Now()

	// Metadata beats the observed value, the observed value beats the
	// default.
	withMeta := New(nil, fakeIntervals{"bybit/BTCUSDT": 4}, testUniverse(), defaultOptions())
	require.Equal(t, 4, withMeta.resolveInterval("bybit", "BTCUSDT", models.InstrumentSnapshot{FundingIntervalHours: 8}))
	require.Equal(t, 8, s.resolveInterval("bybit", "BTCUSDT", models.InstrumentSnapshot{FundingIntervalHours: 8}))

	before := metrics.Count(metrics.MetricIntervalFallback, "okx")
	require.Equal(t, defaultIntervalHours, s.resolveInterval("okx", "X-USDT-SWAP", models.InstrumentSnapshot{ObservedAt: now.UnixMilli()}))
	require.Equal(t, before+1, metrics.Count(metrics.MetricIntervalFallback, "okx"))
}

func TestRunnerPassAndOverview(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)

	binance := &fakeAdapter{venue: "binance", data: map[string]models.InstrumentSnapshot{
		"BTCUSDT": snapshotAt(now, 65000, 0.01, next),
		"SOLUSDT": snapshotAt(now, 150, 0.02, next),
	}}
	okx := &fakeAdapter{venue: "okx", data: map[string]models.InstrumentSnapshot{
		"BTC-USDT-SWAP": snapshotAt(now, 65000, 0.04, next),
	}}
	adapters := map[string]feed.Adapter{"binance": binance, "okx": okx}
	intervals := fakeIntervals{"binance/BTCUSDT": 8, "okx/BTC-USDT-SWAP": 8, "binance/SOLUSDT": 8}

	uni := testUniverse()
	s := New(adapters, intervals, uni, defaultOptions())
	runner := NewRunner(s, adapters, uni, config.ScorerConfig{
		IntervalMs: 1000,
		Pairs:      []config.PairConfig{{A: "binance", B: "okx"}},
	})

	require.Equal(t, []string{"binance-okx"}, runner.Pairs())

	runner.runPass(now)
	opps, ok := runner.Results("binance-okx")
	require.True(t, ok)
	require.Len(t, opps, 1)
	require.Equal(t, "BTC", opps[0].Symbol)

	rows := runner.Overview()
	require.Len(t, rows, 2) // BTC on both venues, SOL on binance only
	require.Equal(t, "BTC", rows[0].Symbol)
	require.Len(t, rows[0].Venues, 2)
	require.Equal(t, "SOL", rows[1].Symbol)
	require.Len(t, rows[1].Venues, 1)
	require.InDelta(t, 0.02, rows[1].Venues["binance"].FundingRate, 1e-12)
}
