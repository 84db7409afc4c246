// Package scorer evaluates venue pairs against live feed data: for every
// instrument listed on both venues it projects funding income over the shared
// cycle, nets out taker fees and the entry price spread, and ranks the
// results. Instruments that fail validation are skipped with a reason
// counter, never aborting the pass.
package scorer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"fundingflow/feed"
	"fundingflow/funding"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
	"fundingflow/universe"
)

const defaultIntervalHours = 8

// IntervalSource resolves funding intervals from venue metadata.
type IntervalSource interface {
	Interval(venue, symbol string) (int, bool)
}

// Scorer evaluates one venue pair at a time against the adapters' latest
// snapshots. It holds no mutable state of its own, so one instance serves
// every pair.
type Scorer struct {
	adapters  map[string]feed.Adapter
	intervals IntervalSource
	uni       *universe.Universe
	log       *logger.Log

	notionalUSD     float64
	takerFeeRate    float64
	freshnessWindow time.Duration
	minPriceRatio   float64
	maxPriceRatio   float64
}

type Options struct {
	NotionalUSD     float64
	TakerFeeRate    float64
	FreshnessWindow time.Duration
	MinPriceRatio   float64
	MaxPriceRatio   float64
}

func New(adapters map[string]feed.Adapter, intervals IntervalSource, uni *universe.Universe, opts Options) *Scorer {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = models.FreshnessWindow
	}
	return &Scorer{
		adapters:        adapters,
		intervals:       intervals,
		uni:             uni,
		log:             logger.GetLogger(),
		notionalUSD:     opts.NotionalUSD,
		takerFeeRate:    opts.TakerFeeRate,
		freshnessWindow: opts.FreshnessWindow,
		minPriceRatio:   opts.MinPriceRatio,
		maxPriceRatio:   opts.MaxPriceRatio,
	}
}

// EvaluatePair scores every universe instrument listed on both venues and
// returns the results sorted by annualized return, best first, with the
// symbol as tiebreaker so passes are deterministic.
func (s *Scorer) EvaluatePair(venueA, venueB string, now time.Time) ([]models.Opportunity, error) {
	adapterA, okA := s.adapters[venueA]
	adapterB, okB := s.adapters[venueB]
	if !okA || !okB {
		return nil, fmt.Errorf("pair %s-%s references an unconfigured venue", venueA, venueB)
	}

	pair := venueA + "-" + venueB
	out := make([]models.Opportunity, 0, len(s.uni.Instruments))
	for _, inst := range s.uni.Instruments {
		opp, ok := s.evaluateInstrument(pair, inst, venueA, venueB, adapterA, adapterB, now)
		if !ok {
			continue
		}
		out = append(out, opp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Projection.AnnualizedReturnPercent != out[j].Projection.AnnualizedReturnPercent {
			return out[i].Projection.AnnualizedReturnPercent > out[j].Projection.AnnualizedReturnPercent
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (s *Scorer) evaluateInstrument(pair string, inst universe.Instrument, venueA, venueB string, adapterA, adapterB feed.Adapter, now time.Time) (models.Opportunity, bool) {
	nativeA := inst.Native(venueA)
	nativeB := inst.Native(venueB)
	if nativeA == "" || nativeB == "" {
		metrics.EmitSkip(s.log, pair, inst.Symbol, metrics.SkipReasonNoMapping)
		return models.Opportunity{}, false
	}

	snapA, okA := adapterA.Snapshot(nativeA)
	snapB, okB := adapterB.Snapshot(nativeB)
	if !okA || !okB || snapA.NextFundingTime == 0 || snapB.NextFundingTime == 0 {
		metrics.EmitSkip(s.log, pair, inst.Symbol, metrics.SkipReasonNoData)
		return models.Opportunity{}, false
	}

	if !snapA.HasFiniteNumbers() || !snapB.HasFiniteNumbers() || snapA.MarkPrice <= 0 || snapB.MarkPrice <= 0 {
		metrics.EmitSkip(s.log, pair, inst.Symbol, metrics.SkipReasonInvalidNumber)
		return models.Opportunity{}, false
	}

	if !snapA.FreshAt(now, s.freshnessWindow) || !snapB.FreshAt(now, s.freshnessWindow) {
		metrics.EmitSkip(s.log, pair, inst.Symbol, metrics.SkipReasonStale)
		return models.Opportunity{}, false
	}

	// Mismatched denominations (1000-units vs whole units) slip past symbol
	// mapping on venues with unusual contract sizes; a sanity band on the
	// price ratio catches them.
	ratio := snapA.MarkPrice / snapB.MarkPrice
	if math.IsNaN(ratio) || ratio < s.minPriceRatio || ratio > s.maxPriceRatio {
		metrics.EmitSkip(s.log, pair, inst.Symbol, metrics.SkipReasonPriceRatio)
		return models.Opportunity{}, false
	}

	legA := funding.Leg{
		Rate:            snapA.FundingRate,
		IntervalHours:   s.resolveInterval(venueA, nativeA, snapA),
		NextFundingTime: snapA.NextFundingTime,
	}
	legB := funding.Leg{
		Rate:            snapB.FundingRate,
		IntervalHours:   s.resolveInterval(venueB, nativeB, snapB),
		NextFundingTime: snapB.NextFundingTime,
	}

	proj, err := funding.BestProjection(legA, legB, now, s.notionalUSD)
	if err != nil {
		metrics.EmitSkip(s.log, pair, inst.Symbol, metrics.SkipReasonProjectionError)
		s.log.WithComponent("scorer").WithFields(logger.Fields{
			"pair":   pair,
			"symbol": inst.Symbol,
		}).WithError(err).Debug("projection failed")
		return models.Opportunity{}, false
	}

	// Entering long below and short above the other leg's price earns the
	// convergence gap; the reverse pays it.
	var spreadPercent float64
	switch proj.Direction {
	case models.DirectionLongAShortB:
		spreadPercent = (snapB.MarkPrice - snapA.MarkPrice) / snapA.MarkPrice * 100
	case models.DirectionShortALongB:
		spreadPercent = (snapA.MarkPrice - snapB.MarkPrice) / snapB.MarkPrice * 100
	}

	// Four taker fills at the one configured rate: entry and exit on each of
	// the two legs.
	feePercent := 4 * s.takerFeeRate * 100
	netPercent := proj.NetCycleIncomePercent - feePercent + spreadPercent

	return models.Opportunity{
		Symbol: inst.Symbol,
		LegA: models.VenueQuote{
			Venue:                venueA,
			Symbol:               nativeA,
			MarkPrice:            snapA.MarkPrice,
			FundingRate:          snapA.FundingRate,
			FundingIntervalHours: legA.IntervalHours,
			NextFundingTime:      snapA.NextFundingTime,
		},
		LegB: models.VenueQuote{
			Venue:                venueB,
			Symbol:               nativeB,
			MarkPrice:            snapB.MarkPrice,
			FundingRate:          snapB.FundingRate,
			FundingIntervalHours: legB.IntervalHours,
			NextFundingTime:      snapB.NextFundingTime,
		},
		Projection:         proj,
		PriceSpreadPercent: spreadPercent,
		FeeCostPercent:     feePercent,
		NetProfitPercent:   netPercent,
		IsOpportunity:      netPercent > 0,
		EvaluatedAt:        now.UnixMilli(),
	}, true
}

// resolveInterval picks the funding interval for a leg: venue metadata wins,
// then the stream-observed value, then the 8h default under protest.
func (s *Scorer) resolveInterval(venue, symbol string, snap models.InstrumentSnapshot) int {
	if hours, ok := s.intervals.Interval(venue, symbol); ok && hours > 0 {
		return hours
	}
	if snap.FundingIntervalHours > 0 {
		return snap.FundingIntervalHours
	}
	metrics.EmitIntervalFallback(venue)
	s.log.WithComponent("scorer").WithFields(logger.Fields{
		"venue":  venue,
		"symbol": symbol,
		"hours":  defaultIntervalHours,
	}).Debug("funding interval unknown, assuming default")
	return defaultIntervalHours
}
