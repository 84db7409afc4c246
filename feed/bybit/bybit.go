// Package bybit streams ticker data for Bybit linear perpetuals. The v5
// tickers channel sends one full snapshot on subscribe and field-level
// deltas afterwards, so updates are merged rather than replaced.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
)

const (
	Venue = "bybit"

	defaultKeepAlive = 20 * time.Second
)

type Reader struct {
	cfg     config.BybitFeedConfig
	symbols []string
	table   *feed.Table
	state   *feed.ConnState
	log     *logger.Log
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex

	running bool
}

// NewReader builds the Bybit adapter for the given native symbols
// (BTCUSDT style), typically the universe's bybit symbol list.
func NewReader(cfg config.BybitFeedConfig, symbols []string) *Reader {
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
		return fmt.Errorf("bybit reader already running")
	}
	if len(r.symbols) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("bybit reader has no symbols to subscribe")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.WithComponent("bybit_feed").WithFields(logger.Fields{
		"ws_url":  r.cfg.WsURL,
		"symbols": len(r.symbols),
	}).Info("starting bybit feed")

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
	r.log.WithComponent("bybit_feed").Info("bybit feed stopped")
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
	return defaultKeepAlive
}

func (r *Reader) run(ctx context.Context) {
	log := r.log.WithComponent("bybit_feed").WithFields(logger.Fields{"ws_url": r.cfg.WsURL})
	b := feed.NewBackoff(r.cfg.Reconnect)

	for {
		if ctx.Err() != nil {
			return
		}
		r.state.Set(feed.StateConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.WsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to bybit websocket")
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		if err := r.subscribe(conn); err != nil {
			log.WithError(err).Warn("failed to subscribe to bybit tickers")
			conn.Close()
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		r.state.Set(feed.StateConnected)
		b.Reset()
		log.Info("bybit websocket connected")

		pingCancel := feed.StartPingLoop(ctx, conn, r.pingInterval(), log, func(c *websocket.Conn) error {
			return c.WriteJSON(map[string]string{"op": "ping"})
		})

		if err := feed.ReadLoop(ctx, conn, r.handleMessage); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("bybit websocket read loop ended")
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

func (r *Reader) subscribe(conn *websocket.Conn) error {
	topics := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		topics = append(topics, "tickers."+sym)
	}
	req := struct {
		ReqID string   `json:"req_id"`
		Op    string   `json:"op"`
		Args  []string `json:"args"`
	}{ReqID: uuid.NewString(), Op: "subscribe", Args: topics}
	return conn.WriteJSON(req)
}

type tickerMessage struct {
	Topic   string     `json:"topic"`
	Type    string     `json:"type"`
	Op      string     `json:"op"`
	Success *bool      `json:"success"`
	RetMsg  string     `json:"ret_msg"`
	Data    tickerData `json:"data"`
}

type tickerData struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

func (r *Reader) handleMessage(msg []byte) {
	var m tickerMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		metrics.EmitDiscard(Venue)
		return
	}

	if m.Op != "" {
		if m.Success != nil && !*m.Success {
			r.log.WithComponent("bybit_feed").WithFields(logger.Fields{
				"op":      m.Op,
				"ret_msg": m.RetMsg,
			}).Warn("bybit request rejected")
		}
		return
	}
	if m.Data.Symbol == "" {
		return
	}

	// Delta frames carry only changed fields; absent ones stay zero here
	// and the table merge keeps the previous values.
	snap := models.InstrumentSnapshot{
		Symbol:     m.Data.Symbol,
		ObservedAt: time.Now().UnixMilli(),
	}
	if m.Data.MarkPrice != "" {
		mark, err := strconv.ParseFloat(m.Data.MarkPrice, 64)
		if err != nil {
			metrics.EmitDiscard(Venue)
			return
		}
		snap.MarkPrice = mark
	}
	if m.Data.FundingRate != "" {
		rate, err := strconv.ParseFloat(m.Data.FundingRate, 64)
		if err != nil {
			metrics.EmitDiscard(Venue)
			return
		}
		snap.FundingRate = rate * 100
	}
	if m.Data.NextFundingTime != "" {
		next, err := strconv.ParseInt(m.Data.NextFundingTime, 10, 64)
		if err != nil {
			metrics.EmitDiscard(Venue)
			return
		}
		snap.NextFundingTime = next
	}
	// A delta may advance nextFundingTime without repeating the unchanged
	// rate; carry the stored rate forward so the merge does not zero it.
	if m.Data.FundingRate == "" && snap.NextFundingTime != 0 {
		if cur, ok := r.table.Get(snap.Symbol); ok {
			snap.FundingRate = cur.FundingRate
		}
	}
	r.table.Merge(snap)
}
