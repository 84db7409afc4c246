// Package asterdex streams mark prices and funding rates from AsterDEX,
// which exposes a Binance-compatible futures stream API. Events arrive on
// the combined-stream endpoint wrapped in a {stream, data} envelope, and
// only USDT-quoted perpetuals are kept.
package asterdex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
)

const Venue = "asterdex"

type Reader struct {
	cfg    config.AsterdexFeedConfig
	table  *feed.Table
	state  *feed.ConnState
	log    *logger.Log
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	running bool
}

func NewReader(cfg config.AsterdexFeedConfig) *Reader {
	return &Reader{
		cfg:   cfg,
		table: feed.NewTable(),
		state: feed.NewConnState(),
		log:   logger.GetLogger(),
	}
}

func (r *Reader) Venue() string { return Venue }

func (r *Reader) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("asterdex reader already running")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.log.WithComponent("asterdex_feed").WithFields(logger.Fields{"ws_url": r.cfg.WsURL}).Info("starting asterdex feed")

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
	r.log.WithComponent("asterdex_feed").Info("asterdex feed stopped")
}

func (r *Reader) GetData() map[string]models.InstrumentSnapshot { return r.table.All() }

func (r *Reader) Snapshot(symbol string) (models.InstrumentSnapshot, bool) {
	return r.table.Get(symbol)
}

func (r *Reader) State() feed.State { return r.state.Get() }

func (r *Reader) run(ctx context.Context) {
	log := r.log.WithComponent("asterdex_feed").WithFields(logger.Fields{"ws_url": r.cfg.WsURL})
	b := feed.NewBackoff(r.cfg.Reconnect)

	for {
		if ctx.Err() != nil {
			return
		}
		r.state.Set(feed.StateConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.WsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to asterdex websocket")
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		r.state.Set(feed.StateConnected)
		b.Reset()
		log.Info("asterdex websocket connected")

		if err := feed.ReadLoop(ctx, conn, r.handleMessage); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("asterdex websocket read loop ended")
		}
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

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPriceEvent struct {
	EventType       string `json:"e"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func (r *Reader) handleMessage(msg []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil || len(env.Data) == 0 {
		metrics.EmitDiscard(Venue)
		return
	}
	var events []markPriceEvent
	if err := json.Unmarshal(env.Data, &events); err != nil {
		metrics.EmitDiscard(Venue)
		r.log.WithComponent("asterdex_feed").WithError(err).Debug("discarding unparseable frame")
		return
	}

	now := time.Now().UnixMilli()
	for _, ev := range events {
		if ev.EventType != "markPriceUpdate" || !strings.HasSuffix(ev.Symbol, "USDT") {
			continue
		}
		mark, err1 := strconv.ParseFloat(ev.MarkPrice, 64)
		rate, err2 := strconv.ParseFloat(ev.FundingRate, 64)
		if err1 != nil || err2 != nil {
			metrics.EmitDiscard(Venue)
			continue
		}
		r.table.Merge(models.InstrumentSnapshot{
			Symbol:          ev.Symbol,
			MarkPrice:       mark,
			FundingRate:     rate * 100,
			NextFundingTime: ev.NextFundingTime,
			ObservedAt:      now,
		})
	}
}
