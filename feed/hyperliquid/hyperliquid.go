// Package hyperliquid feeds mid prices over the allMids websocket channel
// and funding rates from the REST info endpoint. Hyperliquid settles funding
// hourly on every perpetual at the top of the hour, so the interval and next
// settlement are computed rather than reported.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
)

const (
	Venue = "hyperliquid"

	// FundingIntervalHours is fixed by the venue.
	FundingIntervalHours = 1

	defaultPingInterval    = 50 * time.Second
	defaultFundingInterval = time.Minute
)

type Reader struct {
	cfg     config.HyperliquidFeedConfig
	table   *feed.Table
	state   *feed.ConnState
	log     *logger.Log
	client  *http.Client
	limiter *rate.Limiter
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex

	running bool
}

func NewReader(cfg config.HyperliquidFeedConfig) *Reader {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Reader{
		cfg:     cfg,
		table:   feed.NewTable(),
		state:   feed.NewConnState(),
		log:     logger.GetLogger(),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *Reader) Venue() string { return Venue }

func (r *Reader) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("hyperliquid reader already running")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.WithComponent("hyperliquid_feed").WithFields(logger.Fields{
		"ws_url":   r.cfg.WsURL,
		"info_url": r.cfg.InfoURL,
	}).Info("starting hyperliquid feed")

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.pollFunding(ctx)
	}()
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
	r.log.WithComponent("hyperliquid_feed").Info("hyperliquid feed stopped")
}

func (r *Reader) GetData() map[string]models.InstrumentSnapshot { return r.table.All() }

func (r *Reader) Snapshot(symbol string) (models.InstrumentSnapshot, bool) {
	return r.table.Get(symbol)
}

func (r *Reader) State() feed.State { return r.state.Get() }

func (r *Reader) pingInterval() time.Duration {
	if r.cfg.PingIntervalMs > 0 {
		return time.Duration(r.cfg.PingIntervalMs) * time.Millisecond
	}
	return defaultPingInterval
}

func (r *Reader) fundingRefresh() time.Duration {
	if r.cfg.FundingRefreshMs > 0 {
		return time.Duration(r.cfg.FundingRefreshMs) * time.Millisecond
	}
	return defaultFundingInterval
}

func (r *Reader) run(ctx context.Context) {
	log := r.log.WithComponent("hyperliquid_feed").WithFields(logger.Fields{"ws_url": r.cfg.WsURL})
	b := feed.NewBackoff(r.cfg.Reconnect)

	for {
		if ctx.Err() != nil {
			return
		}
		r.state.Set(feed.StateConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.WsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to hyperliquid websocket")
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		sub := map[string]any{"method": "subscribe", "subscription": map[string]string{"type": "allMids"}}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe to allMids")
			conn.Close()
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		r.state.Set(feed.StateConnected)
		b.Reset()
		log.Info("hyperliquid websocket connected")

		// The server closes connections quiet for 60s.
		pingCancel := feed.StartPingLoop(ctx, conn, r.pingInterval(), log, func(c *websocket.Conn) error {
			return c.WriteJSON(map[string]string{"method": "ping"})
		})

		if err := feed.ReadLoop(ctx, conn, r.handleMessage); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("hyperliquid websocket read loop ended")
		}
		pingCancel()
		conn.Close()
		r.state.Set(feed.StateConnecting)

		if ctx.Err() != nil {
			return
		}
		metrics.EmitReconnect(Venue)
		if feed.WaitReconnect(ctx, b) {
			return
		}
	}
}

type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]string `json:"mids"`
}

func (r *Reader) handleMessage(msg []byte) {
	var m wsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		metrics.EmitDiscard(Venue)
		return
	}
	if m.Channel != "allMids" {
		return
	}

	var data allMidsData
	if err := json.Unmarshal(m.Data, &data); err != nil {
		metrics.EmitDiscard(Venue)
		return
	}

	now := time.Now().UnixMilli()
	for coin, midStr := range data.Mids {
		// Spot pairs show up with an @-prefixed index; perpetuals are plain
		// coin names.
		if strings.HasPrefix(coin, "@") {
			continue
		}
		mid, err := strconv.ParseFloat(midStr, 64)
		if err != nil {
			metrics.EmitDiscard(Venue)
			continue
		}
		r.table.Merge(models.InstrumentSnapshot{
			Symbol:     coin,
			MarkPrice:  mid,
			ObservedAt: now,
		})
	}
}

func (r *Reader) pollFunding(ctx context.Context) {
	log := r.log.WithComponent("hyperliquid_feed").WithFields(logger.Fields{"operation": "funding_poll"})

	// Immediate first fetch so funding data does not lag the mid prices by
	// a full refresh interval.
	r.fetchFunding(ctx, log)

	ticker := time.NewTicker(r.fundingRefresh())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fetchFunding(ctx, log)
		}
	}
}

type assetMeta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type assetCtx struct {
	Funding   string `json:"funding"`
	MarkPrice string `json:"markPx"`
}

func (r *Reader) fetchFunding(ctx context.Context, log *logger.Entry) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}

	body := bytes.NewBufferString(`{"type":"metaAndAssetCtxs"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.InfoURL, body)
	if err != nil {
		log.WithError(err).Warn("failed to build funding request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("failed to fetch funding data")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("funding request rejected")
		return
	}

	// The response is a two-element array: asset metadata, then per-asset
	// contexts in the same order.
	var parts []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&parts); err != nil || len(parts) != 2 {
		log.WithError(err).Warn("failed to decode metaAndAssetCtxs response")
		return
	}
	var meta assetMeta
	var ctxs []assetCtx
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		log.WithError(err).Warn("failed to decode asset metadata")
		return
	}
	if err := json.Unmarshal(parts[1], &ctxs); err != nil {
		log.WithError(err).Warn("failed to decode asset contexts")
		return
	}
	if len(ctxs) < len(meta.Universe) {
		log.Warn("asset context list shorter than universe")
		return
	}

	now := time.Now()
	nextFunding := now.Truncate(time.Hour).Add(time.Hour).UnixMilli()
	updated := 0
	for i, asset := range meta.Universe {
		funding, err := strconv.ParseFloat(ctxs[i].Funding, 64)
		if err != nil {
			continue
		}
		snap := models.InstrumentSnapshot{
			Symbol:               asset.Name,
			FundingRate:          funding * 100,
			FundingIntervalHours: FundingIntervalHours,
			NextFundingTime:      nextFunding,
			ObservedAt:           now.UnixMilli(),
		}
		if mark, err := strconv.ParseFloat(ctxs[i].MarkPrice, 64); err == nil {
			snap.MarkPrice = mark
		}
		r.table.Merge(snap)
		updated++
	}
	log.WithFields(logger.Fields{"instruments": updated}).Debug("funding data refreshed")
}
