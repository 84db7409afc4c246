package models

import (
	"math"
	"time"
)

// FreshnessWindow is the default maximum age of a snapshot that is still
// acceptable for scoring.
const FreshnessWindow = 5 * time.Minute

// InstrumentSnapshot is the latest known state of one perpetual contract on
// one venue. Each venue feed owns its snapshots exclusively and swaps whole
// records into its table, so readers never observe a partially written
// snapshot, only a possibly stale one.
type InstrumentSnapshot struct {
	// Symbol is the venue-native instrument identifier.
	Symbol string `json:"symbol"`
	// MarkPrice is the venue's mark/reference price. Must be > 0 to be usable.
	MarkPrice float64 `json:"mark_price"`
	// FundingRate is the signed funding rate in percent per funding interval,
	// e.g. 0.0125 means 0.0125%. Positive means longs pay shorts. The rate is
	// always quoted per this venue's own interval; feeds never rescale it to
	// another convention.
	FundingRate float64 `json:"funding_rate"`
	// FundingIntervalHours is the length of one funding period as observed on
	// the wire. Zero when the venue does not report it; callers should then
	// consult venue metadata before falling back to a default.
	FundingIntervalHours int `json:"funding_interval_hours"`
	// NextFundingTime is the next settlement timestamp in epoch milliseconds.
	NextFundingTime int64 `json:"next_funding_time"`
	// ObservedAt is the local receipt time in epoch milliseconds.
	ObservedAt int64 `json:"observed_at"`
}

// HasFiniteNumbers reports whether the numeric fields can be used in
// arithmetic without poisoning a ranking.
func (s InstrumentSnapshot) HasFiniteNumbers() bool {
	if math.IsNaN(s.MarkPrice) || math.IsInf(s.MarkPrice, 0) {
		return false
	}
	if math.IsNaN(s.FundingRate) || math.IsInf(s.FundingRate, 0) {
		return false
	}
	return true
}

// FreshAt reports whether the snapshot was observed within window of now.
func (s InstrumentSnapshot) FreshAt(now time.Time, window time.Duration) bool {
	if s.ObservedAt <= 0 {
		return false
	}
	age := now.Sub(time.UnixMilli(s.ObservedAt))
	return age >= -window && age <= window
}
