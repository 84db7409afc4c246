package scorer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/models"
	"fundingflow/universe"
)

// PairKey names a venue pair the way the API exposes it.
func PairKey(venueA, venueB string) string { return venueA + "-" + venueB }

// VenueRate is one cell of the overview grid: an instrument's latest funding
// terms on one venue.
type VenueRate struct {
	Venue                string  `json:"venue"`
	MarkPrice            float64 `json:"mark_price"`
	FundingRate          float64 `json:"funding_rate"`
	FundingIntervalHours int     `json:"funding_interval_hours"`
	NextFundingTime      int64   `json:"next_funding_time"`
}

// OverviewRow collects one instrument's rates across every connected venue.
type OverviewRow struct {
	Symbol string               `json:"symbol"`
	Venues map[string]VenueRate `json:"venues"`
}

// Runner drives the scorer on a fixed cadence over the configured venue
// pairs and caches the latest results for the HTTP and websocket layers.
type Runner struct {
	scorer   *Scorer
	adapters map[string]feed.Adapter
	uni      *universe.Universe
	pairs    []config.PairConfig
	interval time.Duration
	log      *logger.Log

	results *xsync.Map[string, []models.Opportunity]
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex

	running bool
}

func NewRunner(s *Scorer, adapters map[string]feed.Adapter, uni *universe.Universe, cfg config.ScorerConfig) *Runner {
	return &Runner{
		scorer:   s,
		adapters: adapters,
		uni:      uni,
		pairs:    cfg.Pairs,
		interval: cfg.Interval(),
		log:      logger.GetLogger(),
		results:  xsync.NewMap[string, []models.Opportunity](),
	}
}

// Pairs lists the configured pair keys in configuration order.
func (r *Runner) Pairs() []string {
	keys := make([]string, 0, len(r.pairs))
	for _, p := range r.pairs {
		keys = append(keys, PairKey(p.A, p.B))
	}
	return keys
}

// Results returns the latest pass's opportunities for a pair key.
func (r *Runner) Results(pair string) ([]models.Opportunity, bool) {
	return r.results.Load(pair)
}

// Overview assembles the cross-venue funding grid from the adapters' current
// snapshots, one row per universe instrument, sorted by symbol.
func (r *Runner) Overview() []OverviewRow {
	rows := make([]OverviewRow, 0, len(r.uni.Instruments))
	for _, inst := range r.uni.Instruments {
		row := OverviewRow{Symbol: inst.Symbol, Venues: make(map[string]VenueRate)}
		for venue, adapter := range r.adapters {
			native := inst.Native(venue)
			if native == "" {
				continue
			}
			snap, ok := adapter.Snapshot(native)
			if !ok {
				continue
			}
			row.Venues[venue] = VenueRate{
				Venue:                venue,
				MarkPrice:            snap.MarkPrice,
				FundingRate:          snap.FundingRate,
				FundingIntervalHours: snap.FundingIntervalHours,
				NextFundingTime:      snap.NextFundingTime,
			}
		}
		if len(row.Venues) > 0 {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows
}

// Start launches the evaluation loop. The first pass runs immediately so the
// API has data as soon as feeds warm up.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("scorer runner already running")
	}
	if len(r.pairs) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("no venue pairs configured")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.WithComponent("scorer").WithFields(logger.Fields{
		"pairs":    len(r.pairs),
		"interval": r.interval.String(),
	}).Info("scorer runner started")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			r.runPass(time.Now())
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.log.WithComponent("scorer").Info("scorer runner stopped")
}

func (r *Runner) runPass(now time.Time) {
	log := r.log.WithComponent("scorer")
	for _, p := range r.pairs {
		key := PairKey(p.A, p.B)
		opps, err := r.scorer.EvaluatePair(p.A, p.B, now)
		if err != nil {
			log.WithFields(logger.Fields{"pair": key}).WithError(err).Warn("pair evaluation failed")
			continue
		}
		r.results.Store(key, opps)

		positive := 0
		for _, o := range opps {
			if o.IsOpportunity {
				positive++
			}
		}
		log.WithFields(logger.Fields{
			"pair":          key,
			"evaluated":     len(opps),
			"opportunities": positive,
		}).Debug("pair evaluated")
	}
}
