// Package binance streams mark prices and funding rates for Binance USDT-M
// perpetuals over the combined !markPrice@arr websocket stream, with a REST
// premium-index warm-up so the scorer has data before the first tick.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
)

const Venue = "binance"

// Reader is the Binance feed adapter. One websocket carries every perpetual's
// mark price and funding rate, so there is no per-symbol subscription.
type Reader struct {
	cfg    config.BinanceFeedConfig
	table  *feed.Table
	state  *feed.ConnState
	log    *logger.Log
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	running bool
}

func NewReader(cfg config.BinanceFeedConfig) *Reader {
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
		return fmt.Errorf("binance reader already running")
	}
	r.running = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	log := r.log.WithComponent("binance_feed")
	log.WithFields(logger.Fields{"ws_url": r.cfg.WsURL}).Info("starting binance feed")

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.warmUp(ctx)
	}()
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
	r.log.WithComponent("binance_feed").Info("binance feed stopped")
}

func (r *Reader) GetData() map[string]models.InstrumentSnapshot { return r.table.All() }

func (r *Reader) Snapshot(symbol string) (models.InstrumentSnapshot, bool) {
	return r.table.Get(symbol)
}

func (r *Reader) State() feed.State { return r.state.Get() }

// warmUp seeds the table from the premium index endpoint so pairs can be
// evaluated before the stream delivers its first batch.
func (r *Reader) warmUp(ctx context.Context) {
	log := r.log.WithComponent("binance_feed").WithFields(logger.Fields{"operation": "warm_up"})

	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	if r.cfg.RestURL != "" {
		client.SetApiEndpoint(r.cfg.RestURL)
	}

	rows, err := client.NewPremiumIndexService().Do(ctx)
	if err != nil {
		log.WithError(err).Warn("premium index warm-up failed, waiting for stream data")
		return
	}

	now := time.Now().UnixMilli()
	seeded := 0
	for _, row := range rows {
		mark, err1 := strconv.ParseFloat(row.MarkPrice, 64)
		rate, err2 := strconv.ParseFloat(row.LastFundingRate, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		r.table.Merge(models.InstrumentSnapshot{
			Symbol:          row.Symbol,
			MarkPrice:       mark,
			FundingRate:     rate * 100,
			NextFundingTime: row.NextFundingTime,
			ObservedAt:      now,
		})
		seeded++
	}
	log.WithFields(logger.Fields{"instruments": seeded}).Info("premium index warm-up complete")
}

func (r *Reader) run(ctx context.Context) {
	log := r.log.WithComponent("binance_feed").WithFields(logger.Fields{"ws_url": r.cfg.WsURL})
	b := feed.NewBackoff(r.cfg.Reconnect)

	for {
		if ctx.Err() != nil {
			return
		}
		r.state.Set(feed.StateConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.WsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to binance websocket")
			metrics.EmitReconnect(Venue)
			if feed.WaitReconnect(ctx, b) {
				return
			}
			continue
		}

		r.state.Set(feed.StateConnected)
		b.Reset()
		log.Info("binance websocket connected")

		if err := feed.ReadLoop(ctx, conn, r.handleMessage); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("binance websocket read loop ended")
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

// markPriceEvent is one element of the !markPrice@arr batch.
type markPriceEvent struct {
	EventType       string `json:"e"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	EstSettlePrice  string `json:"P"` // absorbs "P" so it cannot case-insensitively overwrite "p"
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
	EventTime       int64  `json:"E"`
}

func (r *Reader) handleMessage(msg []byte) {
	var events []markPriceEvent
	if err := json.Unmarshal(msg, &events); err != nil {
		metrics.EmitDiscard(Venue)
		r.log.WithComponent("binance_feed").WithError(err).Debug("discarding unparseable frame")
		return
	}
	now := time.Now().UnixMilli()
	for _, ev := range events {
		if ev.EventType != "markPriceUpdate" || ev.Symbol == "" {
			continue
		}
		mark, err1 := strconv.ParseFloat(ev.MarkPrice, 64)
		rate, err2 := strconv.ParseFloat(ev.FundingRate, 64)
		if err1 != nil || err2 != nil {
			metrics.EmitDiscard(Venue)
			continue
		}
		// The wire quotes the rate as a decimal fraction; snapshots carry
		// percent per interval.
		r.table.Merge(models.InstrumentSnapshot{
			Symbol:          ev.Symbol,
			MarkPrice:       mark,
			FundingRate:     rate * 100,
			NextFundingTime: ev.NextFundingTime,
			ObservedAt:      now,
		})
	}
}
