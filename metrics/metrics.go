package metrics

import (
	"sync"
	"sync/atomic"

	"fundingflow/logger"
)

// Counter names emitted by the feeds and the scorer. Every counter carries a
// single label (venue, pair or skip reason) used as a CloudWatch dimension.
const (
	// MetricInstrumentSkipped counts instruments excluded from a scoring pass,
	// labelled by reason.
	MetricInstrumentSkipped = "instruments_skipped"
	// MetricVenueReconnect counts reconnect attempts, labelled by venue.
	MetricVenueReconnect = "venue_reconnects"
	// MetricMessagesDiscarded counts unparseable or unknown stream messages,
	// labelled by venue.
	MetricMessagesDiscarded = "messages_discarded"
	// MetricIntervalFallback counts scoring passes that had to assume a
	// default funding interval, labelled by venue.
	MetricIntervalFallback = "funding_interval_fallbacks"
)

// Skip reasons for MetricInstrumentSkipped.
const (
	SkipReasonNoMapping       = "no_mapping"
	SkipReasonNoData          = "no_data"
	SkipReasonStale           = "stale"
	SkipReasonInvalidNumber   = "invalid_number"
	SkipReasonPriceRatio      = "price_ratio"
	SkipReasonProjectionError = "projection_error"
)

type counterKey struct {
	name  string
	label string
}

var (
	mu       sync.RWMutex
	counters = map[counterKey]*int64{}
)

func counter(name, label string) *int64 {
	key := counterKey{name: name, label: label}
	mu.RLock()
	c, ok := counters[key]
	mu.RUnlock()
	if ok {
		return c
	}
	mu.Lock()
	defer mu.Unlock()
	if c, ok = counters[key]; ok {
		return c
	}
	c = new(int64)
	counters[key] = c
	return c
}

// Inc increments a named counter and publishes the increment to CloudWatch
// when a client is configured.
func Inc(name, label string) {
	atomic.AddInt64(counter(name, label), 1)
	publishCount(name, label, 1)
}

// Count returns the current value of a counter.
func Count(name, label string) int64 {
	return atomic.LoadInt64(counter(name, label))
}

// Snapshot returns all counters keyed as "name/label"; used by the health
// endpoint.
func Snapshot() map[string]int64 {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]int64, len(counters))
	for key, c := range counters {
		out[key.name+"/"+key.label] = atomic.LoadInt64(c)
	}
	return out
}

// EmitSkip records one skipped instrument for a scoring pass. Skips are
// expected steady-state behaviour (data not yet arrived, stale feed), so they
// are logged at debug level only.
func EmitSkip(log *logger.Log, pair, symbol, reason string) {
	Inc(MetricInstrumentSkipped, pair+"/"+reason)
	log.WithComponent("scorer").WithFields(logger.Fields{
		"pair":   pair,
		"symbol": symbol,
		"reason": reason,
	}).Debug("instrument skipped")
}

// EmitReconnect records one reconnect attempt for a venue feed.
func EmitReconnect(venue string) {
	Inc(MetricVenueReconnect, venue)
}

// EmitDiscard records one discarded stream message for a venue feed.
func EmitDiscard(venue string) {
	Inc(MetricMessagesDiscarded, venue)
}

// EmitIntervalFallback records an explicit funding-interval default. The
// fallback itself is logged by the caller; this keeps it countable.
func EmitIntervalFallback(venue string) {
	Inc(MetricIntervalFallback, venue)
}
