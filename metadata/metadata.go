// Package metadata maintains the per-venue funding interval registry. Stream
// payloads rarely carry interval lengths, so the scorer resolves them here
// first, falling back to stream-observed values and finally to the 8h
// industry default.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	bybitapi "github.com/bybit-exchange/bybit.go.api"
	"github.com/puzpuzpuz/xsync/v4"

	"fundingflow/config"
	"fundingflow/logger"
)

const (
	defaultRefresh = time.Hour

	// Venue-wide constants: Hyperliquid settles hourly on everything,
	// AsterDEX follows the Binance-style 8h schedule, and Binance itself
	// defaults to 8h with per-symbol overrides from the fundingInfo
	// endpoint.
	hyperliquidIntervalHours = 1
	asterdexIntervalHours    = 8
	binanceDefaultHours      = 8
)

// Registry resolves funding intervals by venue and native symbol. Lookups
// are lock-free; the refresh loop swaps entries in place.
type Registry struct {
	cfg       config.MetadataConfig
	client    *http.Client
	intervals *xsync.Map[string, int]
	log       *logger.Log
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex

	running bool
}

func NewRegistry(cfg config.MetadataConfig) *Registry {
	timeout := 10 * time.Second
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	return &Registry{
		cfg:       cfg,
		client:    &http.Client{Timeout: timeout},
		intervals: xsync.NewMap[string, int](),
		log:       logger.GetLogger(),
	}
}

func key(venue, symbol string) string { return venue + "/" + symbol }

// Interval returns the funding interval in hours for a native symbol on a
// venue, and whether the registry knows it.
func (r *Registry) Interval(venue, symbol string) (int, bool) {
	switch venue {
	case "hyperliquid":
		return hyperliquidIntervalHours, true
	case "asterdex":
		return asterdexIntervalHours, true
	}
	if hours, ok := r.intervals.Load(key(venue, symbol)); ok {
		return hours, true
	}
	if venue == "binance" {
		// fundingInfo only lists exceptions; anything absent funds on the
		// venue default.
		return binanceDefaultHours, true
	}
	return 0, false
}

// Start performs an initial fetch and then refreshes on a fixed cadence.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("metadata registry already running")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	refresh := defaultRefresh
	if r.cfg.RefreshMinutes > 0 {
		refresh = time.Duration(r.cfg.RefreshMinutes) * time.Minute
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.refresh(ctx)

		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refresh(ctx)
			}
		}
	}()

	r.log.WithComponent("metadata").WithFields(logger.Fields{
		"refresh": refresh.String(),
	}).Info("metadata registry started")
	return nil
}

func (r *Registry) Stop() {
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
	r.log.WithComponent("metadata").Info("metadata registry stopped")
}

func (r *Registry) refresh(ctx context.Context) {
	log := r.log.WithComponent("metadata")

	if n, err := r.refreshBinance(ctx); err != nil {
		log.WithError(err).Warn("failed to refresh binance funding intervals")
	} else {
		log.WithFields(logger.Fields{"venue": "binance", "overrides": n}).Debug("funding intervals refreshed")
	}

	if n, err := r.refreshBybit(ctx); err != nil {
		log.WithError(err).Warn("failed to refresh bybit funding intervals")
	} else {
		log.WithFields(logger.Fields{"venue": "bybit", "instruments": n}).Debug("funding intervals refreshed")
	}
}

type binanceFundingInfo struct {
	Symbol               string `json:"symbol"`
	FundingIntervalHours int    `json:"fundingIntervalHours"`
}

// refreshBinance loads the per-symbol interval exceptions from the
// fundingInfo endpoint. Symbols missing from the response use the venue
// default.
func (r *Registry) refreshBinance(ctx context.Context) (int, error) {
	if r.cfg.BinanceURL == "" {
		return 0, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BinanceURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fundingInfo returned status %d", resp.StatusCode)
	}

	var rows []binanceFundingInfo
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return 0, err
	}

	n := 0
	for _, row := range rows {
		if row.Symbol == "" || row.FundingIntervalHours <= 0 {
			continue
		}
		r.intervals.Store(key("binance", row.Symbol), row.FundingIntervalHours)
		n++
	}
	return n, nil
}

type bybitInstrument struct {
	Symbol          string `json:"symbol"`
	FundingInterval int    `json:"fundingInterval"` // minutes
}

type bybitInstrumentResult struct {
	List []bybitInstrument `json:"list"`
}

// refreshBybit pulls funding intervals from the instruments-info endpoint,
// which reports them in minutes.
func (r *Registry) refreshBybit(ctx context.Context) (int, error) {
	client := bybitapi.NewBybitHttpClient("", "", bybitapi.WithBaseURL(r.bybitBaseURL()))

	params := map[string]interface{}{
		"category": "linear",
		"limit":    1000,
	}
	resp, err := client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return 0, err
	}
	if resp == nil || resp.RetCode != 0 {
		return 0, fmt.Errorf("instruments-info rejected: %v", resp)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return 0, err
	}
	var result bybitInstrumentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, err
	}
	return r.storeBybit(result.List), nil
}

func (r *Registry) storeBybit(list []bybitInstrument) int {
	n := 0
	for _, inst := range list {
		if inst.Symbol == "" || inst.FundingInterval <= 0 {
			continue
		}
		hours := inst.FundingInterval / 60
		if hours <= 0 {
			continue
		}
		r.intervals.Store(key("bybit", inst.Symbol), hours)
		n++
	}
	return n
}

func (r *Registry) bybitBaseURL() string {
	if r.cfg.BybitURL != "" {
		return r.cfg.BybitURL
	}
	return "https://api.bybit.com"
}
