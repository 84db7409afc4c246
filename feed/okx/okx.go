// Package okx streams mark prices and funding rates from OKX perpetual
// swaps. Unlike the Binance-style venues there is no all-instruments stream:
// each instrument needs explicit mark-price and funding-rate channel
// subscriptions, and the server expects an application-level text ping.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
)

const (
	Venue = "okx"

	defaultPingInterval = 20 * time.Second
)

type Reader struct {
	cfg     config.OkxFeedConfig
	symbols []string
	table   *feed.Table
	state   *feed.ConnState
	log     *logger.Log
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex

	running bool
}

// NewReader builds the OKX adapter for the given native instrument IDs
// (BTC-USDT-SWAP style), typically the universe's okx symbol list.
func NewReader(cfg config.OkxFeedConfig, symbols []string) *Reader {
	return &Reader{
		cfg:     cfg,
		symbols: symbols,
		table:   feed.NewTable(),
		state:   feed.NewConnState(),
		log:     logger.GetLogger(),
	}
}

func (r *Reader) Venue() string { return Venue }

func (r *Reader) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("okx reader already running")
	}
	if len(r.symbols) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("okx reader has no instruments to subscribe")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.WithComponent("okx_feed").WithFields(logger.Fields{
		"ws_url":      r.cfg.WsURL,
		"instruments": len(r.symbols),
	}).Info("starting okx feed")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
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
	r.log.WithComponent("okx_feed").Info("okx feed stopped")
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

func (r *Reader) run(ctx context.Context) {
	log := r.log.WithComponent("okx_feed").WithFields(logger.Fields{"ws_url": r.cfg.WsURL})
	b := feed.NewBackoff(r.cfg.Reconnect)

	for {
		if ctx.Err() != nil {
			return
		}
		r.state.Set(feed.StateConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.WsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to okx websocket")
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		if err := r.subscribe(conn); err != nil {
			log.WithError(err).Warn("failed to subscribe to okx channels")
			conn.Close()
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		r.state.Set(feed.StateConnected)
		b.Reset()
		log.Info("okx websocket connected")

		// OKX drops connections idle for 30s; it expects the literal text
		// "ping" rather than a websocket control frame.
		pingCancel := feed.StartPingLoop(ctx, conn, r.pingInterval(), log, func(c *websocket.Conn) error {
			return c.WriteMessage(websocket.TextMessage, []byte("ping"))
		})

		if err := feed.ReadLoop(ctx, conn, r.handleMessage); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("okx websocket read loop ended")
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

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func (r *Reader) subscribe(conn *websocket.Conn) error {
	args := make([]subscribeArg, 0, 2*len(r.symbols))
	for _, sym := range r.symbols {
		args = append(args,
			subscribeArg{Channel: "mark-price", InstID: sym},
			subscribeArg{Channel: "funding-rate", InstID: sym},
		)
	}
	req := struct {
		Op   string         `json:"op"`
		Args []subscribeArg `json:"args"`
	}{Op: "subscribe", Args: args}
	return conn.WriteJSON(req)
}

type okxMessage struct {
	Event string          `json:"event"`
	Arg   subscribeArg    `json:"arg"`
	Data  json.RawMessage `json:"data"`
	Msg   string          `json:"msg"`
}

type markPriceRow struct {
	InstID    string `json:"instId"`
	MarkPrice string `json:"markPx"`
	Timestamp string `json:"ts"`
}

type fundingRateRow struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	FundingTime     string `json:"fundingTime"`
	NextFundingTime string `json:"nextFundingTime"`
}

func (r *Reader) handleMessage(msg []byte) {
	if string(msg) == "pong" {
		return
	}

	var m okxMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		metrics.EmitDiscard(Venue)
		return
	}
	if m.Event != "" {
		if m.Event == "error" {
			r.log.WithComponent("okx_feed").WithFields(logger.Fields{"msg": m.Msg}).Warn("okx subscription error")
		}
		return
	}

	switch m.Arg.Channel {
	case "mark-price":
		r.applyMarkPrices(m.Data)
	case "funding-rate":
		r.applyFundingRates(m.Data)
	}
}

func (r *Reader) applyMarkPrices(data json.RawMessage) {
	var rows []markPriceRow
	if err := json.Unmarshal(data, &rows); err != nil {
		metrics.EmitDiscard(Venue)
		return
	}
	now := time.Now().UnixMilli()
	for _, row := range rows {
		mark, err := strconv.ParseFloat(row.MarkPrice, 64)
		if err != nil || row.InstID == "" {
			metrics.EmitDiscard(Venue)
			continue
		}
		r.table.Merge(models.InstrumentSnapshot{
			Symbol:     row.InstID,
			MarkPrice:  mark,
			ObservedAt: now,
		})
	}
}

func (r *Reader) applyFundingRates(data json.RawMessage) {
	var rows []fundingRateRow
	if err := json.Unmarshal(data, &rows); err != nil {
		metrics.EmitDiscard(Venue)
		return
	}
	now := time.Now().UnixMilli()
	for _, row := range rows {
		rate, err := strconv.ParseFloat(row.FundingRate, 64)
		if err != nil || row.InstID == "" {
			metrics.EmitDiscard(Venue)
			continue
		}
		fundingTime, _ := strconv.ParseInt(row.FundingTime, 10, 64)
		nextTime, _ := strconv.ParseInt(row.NextFundingTime, 10, 64)

		snap := models.InstrumentSnapshot{
			Symbol:          row.InstID,
			FundingRate:     rate * 100,
			NextFundingTime: fundingTime,
			ObservedAt:      now,
		}
		// The gap between consecutive settlements reveals the instrument's
		// funding interval without a metadata call.
		if nextTime > fundingTime && fundingTime > 0 {
			gapHours := time.Duration(nextTime-fundingTime) * time.Millisecond / time.Hour
			if gapHours >= 1 {
				snap.FundingIntervalHours = int(gapHours)
			}
		}
		r.table.Merge(snap)
	}
}
