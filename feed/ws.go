package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"fundingflow/config"
	"fundingflow/logger"
)

const (
	defaultBaseReconnectDelay = time.Second
	defaultMaxReconnectDelay  = 30 * time.Second
	defaultWriteTimeout       = 5 * time.Second
)

// NewBackoff builds the reconnect schedule for a venue transport: delays
// double from the configured base up to the cap, and the caller resets it
// after a successful connect.
func NewBackoff(cfg config.ReconnectConfig) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    cfg.BaseDelay(defaultBaseReconnectDelay),
		Max:    cfg.MaxDelay(defaultMaxReconnectDelay),
		Factor: 2,
		Jitter: false,
	}
}

// WaitReconnect sleeps for the next backoff step. It returns true when the
// context was cancelled while waiting, meaning the caller should give up.
func WaitReconnect(ctx context.Context, b *backoff.Backoff) bool {
	timer := time.NewTimer(b.Duration())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// StartPingLoop sends a venue-specific keepalive on a fixed interval until
// the returned cancel fires or a write fails. Venues disagree on what a ping
// looks like (text "ping", {"op":"ping"}, {"method":"ping"}), so the caller
// supplies the send.
func StartPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry, send func(*websocket.Conn) error) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
				if err := send(conn); err != nil {
					log.WithError(err).Warn("failed to send websocket keepalive")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}

// ReadLoop pumps raw frames into the handler until the connection breaks or
// the context ends. Handler errors are the handler's problem to log; a bad
// frame must not tear down the transport.
func ReadLoop(ctx context.Context, conn *websocket.Conn, handler func([]byte)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handler(msg)
	}
}
