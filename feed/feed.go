// Package feed defines the venue adapter contract and the shared plumbing
// the per-venue packages build on: the snapshot table, the connection state
// machine, and websocket keepalive/reconnect helpers.
package feed

import (
	"context"

	"fundingflow/models"
)

// State reflects where an adapter's transport currently is. Adapters move
// DISCONNECTED -> CONNECTING -> CONNECTED and fall back to CONNECTING on
// every transport drop until Disconnect pins them to DISCONNECTED.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

// Adapter is the uniform surface a venue feed exposes to the scorer. Connect
// is non-blocking: it spawns the transport goroutines and returns; data
// becomes available as messages arrive. GetData returns a point-in-time copy
// keyed by native venue symbol and never blocks on the transport.
type Adapter interface {
	Venue() string
	Connect(ctx context.Context) error
	GetData() map[string]models.InstrumentSnapshot
	Snapshot(symbol string) (models.InstrumentSnapshot, bool)
	State() State
	Disconnect()
}
