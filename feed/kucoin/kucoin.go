// Package kucoin polls KuCoin futures contract details over REST. KuCoin has
// no public combined mark-price stream, and the per-contract endpoint already
// carries everything needed: mark price, funding rate, the countdown to the
// next settlement, and the funding granularity.
package kucoin

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"golang.org/x/time/rate"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
)

const (
	Venue = "kucoin"

	defaultPollInterval = 15 * time.Second
)

type Reader struct {
	cfg       config.KucoinFeedConfig
	symbols   []string
	marketAPI futuresmarket.MarketAPI
	table     *feed.Table
	state     *feed.ConnState
	log       *logger.Log
	limiter   *rate.Limiter
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex

	running bool
}

// NewReader builds the KuCoin adapter for the given native contract symbols
// (XBTUSDTM style), typically the universe's kucoin symbol list.
func NewReader(cfg config.KucoinFeedConfig, symbols []string) *Reader {
	baseURL := cfg.RestURL
	if baseURL == "" {
		baseURL = "https://api-futures.kucoin.com"
	} else if u, err := url.Parse(cfg.RestURL); err == nil && u.Host != "" {
		baseURL = fmt.Sprintf("https://%s", u.Host)
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetTimeout(10 * time.Second).
		Build()
	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(baseURL).
		WithTransportOption(transportOpt).
		Build()
	client := sdkapi.NewClient(option)

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Reader{
		cfg:       cfg,
		symbols:   symbols,
		marketAPI: client.RestService().GetFuturesService().GetMarketAPI(),
		table:     feed.NewTable(),
		state:     feed.NewConnState(),
		log:       logger.GetLogger(),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *Reader) Venue() string { return Venue }

func (r *Reader) pollInterval() time.Duration {
	if r.cfg.PollIntervalMs > 0 {
		return time.Duration(r.cfg.PollIntervalMs) * time.Millisecond
	}
	return defaultPollInterval
}

func (r *Reader) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("kucoin reader already running")
	}
	if len(r.symbols) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("kucoin reader has no symbols to poll")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.WithComponent("kucoin_feed").WithFields(logger.Fields{
		"symbols":  len(r.symbols),
		"interval": r.pollInterval().String(),
	}).Info("starting kucoin feed")

	// REST pollers have no connection to lose; the state reflects whether
	// the pollers are scheduled.
	r.state.Set(feed.StateConnected)

	for _, symbol := range r.symbols {
		sym := strings.ToUpper(symbol)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.pollSymbol(ctx, sym)
		}()
	}
	return nil
}

func (r *Reader) Disconnect() {
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
	r.state.Set(feed.StateDisconnected)
	r.log.WithComponent("kucoin_feed").Info("kucoin feed stopped")
}

func (r *Reader) GetData() map[string]models.InstrumentSnapshot { return r.table.All() }

func (r *Reader) Snapshot(symbol string) (models.InstrumentSnapshot, bool) {
	return r.table.Get(symbol)
}

func (r *Reader) State() feed.State { return r.state.Get() }

func (r *Reader) pollSymbol(ctx context.Context, symbol string) {
	log := r.log.WithComponent("kucoin_feed").WithFields(logger.Fields{"symbol": symbol})

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	for {
		if err := r.fetchOnce(ctx, symbol); err != nil && ctx.Err() == nil {
			metrics.EmitDiscard(Venue)
			log.WithError(err).Debug("failed to fetch kucoin contract")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reader) fetchOnce(ctx context.Context, symbol string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	req := futuresmarket.NewGetSymbolReqBuilder().SetSymbol(symbol).Build()
	resp, err := r.marketAPI.GetSymbol(req, ctx)
	if err != nil {
		return err
	}
	if resp == nil || resp.Symbol == "" {
		return fmt.Errorf("empty response for symbol %s", symbol)
	}

	r.table.Merge(contractSnapshot(resp, time.Now().UnixMilli()))
	return nil
}

// contractSnapshot maps a contract response onto the snapshot conventions:
// the SDK's decimal-fraction rate becomes percent, the settlement countdown
// becomes an absolute timestamp, and the granularity becomes whole hours.
func contractSnapshot(resp *futuresmarket.GetSymbolResp, now int64) models.InstrumentSnapshot {
	snap := models.InstrumentSnapshot{
		Symbol:      resp.Symbol,
		MarkPrice:   resp.MarkPrice,
		FundingRate: resp.FundingFeeRate * 100,
		ObservedAt:  now,
	}
	if resp.NextFundingRateTime > 0 {
		snap.NextFundingTime = now + int64(resp.NextFundingRateTime)
	}
	if resp.FundingRateGranularity > 0 {
		snap.FundingIntervalHours = int(time.Duration(resp.FundingRateGranularity) * time.Millisecond / time.Hour)
	}
	return snap
}
