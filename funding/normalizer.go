// Package funding normalizes funding schedules from venues with different
// interval lengths and settlement phases onto one shared evaluation horizon.
// Everything here is pure computation; callers own validation of snapshot
// freshness and price sanity.
package funding

import (
	"errors"
	"fmt"
	"math"
	"time"

	"fundingflow/models"
)

// Input validation failures indicate a programming error upstream (an adapter
// or scorer passing unresolved metadata), not an expected runtime condition.
var (
	ErrInvalidInterval    = errors.New("funding interval must be a positive number of hours")
	ErrInvalidNextFunding = errors.New("next funding time is unset")
	ErrRateNotFinite      = errors.New("funding rate is not a finite number")
)

// MaxCycleHours caps the shared horizon. Coprime intervals (5h vs 7h) would
// otherwise produce multi-day horizons with unbounded payment counts.
const MaxCycleHours = 24

// Leg is one side of a prospective position: the funding terms of one
// instrument on one venue, with the interval already resolved (metadata
// preferred over the wire-observed value).
type Leg struct {
	// Rate is the signed funding rate in percent per interval; positive means
	// longs pay shorts.
	Rate float64
	// IntervalHours is the venue's funding period for this instrument.
	IntervalHours int
	// NextFundingTime is the next settlement in epoch milliseconds.
	NextFundingTime int64
}

func (l Leg) validate() error {
	if l.IntervalHours <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, l.IntervalHours)
	}
	if l.NextFundingTime <= 0 {
		return ErrInvalidNextFunding
	}
	if math.IsNaN(l.Rate) || math.IsInf(l.Rate, 0) {
		return ErrRateNotFinite
	}
	return nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// CycleDurationHours returns the shared horizon for two funding intervals:
// their least common multiple, capped at MaxCycleHours.
func CycleDurationHours(intervalA, intervalB int) int {
	l := intervalA / gcd(intervalA, intervalB) * intervalB
	if l > MaxCycleHours {
		return MaxCycleHours
	}
	return l
}

// countSettlements counts how many settlements a leg accrues in the window
// [now, now+horizon], stepping by the leg's own interval from its own next
// settlement time. A settlement exactly at the end of the horizon counts;
// settlements already past (a stale nextFundingTime) do not.
func countSettlements(nextMs int64, intervalHours int, now time.Time, horizonHours int) int {
	step := time.Duration(intervalHours) * time.Hour
	end := now.Add(time.Duration(horizonHours) * time.Hour)

	t := time.UnixMilli(nextMs)
	if t.Before(now) {
		missed := now.Sub(t) / step
		t = t.Add(missed * step)
		if t.Before(now) {
			t = t.Add(step)
		}
	}

	n := 0
	for !t.After(end) {
		n++
		t = t.Add(step)
	}
	return n
}

// Project computes the funding outcome of holding the two offsetting legs in
// the given direction over the shared horizon, for a fixed USD notional per
// leg. Callers wanting the better of the two directions should use
// BestProjection.
func Project(legA, legB Leg, direction models.Direction, now time.Time, notionalUSD float64) (models.FundingProjection, error) {
	if err := legA.validate(); err != nil {
		return models.FundingProjection{}, fmt.Errorf("leg A: %w", err)
	}
	if err := legB.validate(); err != nil {
		return models.FundingProjection{}, fmt.Errorf("leg B: %w", err)
	}

	cycle := CycleDurationHours(legA.IntervalHours, legB.IntervalHours)
	countA := countSettlements(legA.NextFundingTime, legA.IntervalHours, now, cycle)
	countB := countSettlements(legB.NextFundingTime, legB.IntervalHours, now, cycle)

	// Sign rule: a long position pays the funding rate when it is positive
	// and receives it when negative; a short position is the mirror.
	var netPercent float64
	switch direction {
	case models.DirectionLongAShortB:
		netPercent = -legA.Rate*float64(countA) + legB.Rate*float64(countB)
	case models.DirectionShortALongB:
		netPercent = legA.Rate*float64(countA) - legB.Rate*float64(countB)
	default:
		return models.FundingProjection{}, fmt.Errorf("unknown direction %q", direction)
	}

	return models.FundingProjection{
		Direction:               direction,
		CycleDurationHours:      cycle,
		PaymentCountA:           countA,
		PaymentCountB:           countB,
		NetCycleIncomePercent:   netPercent,
		NetCycleIncomeUSD:       netPercent / 100 * notionalUSD,
		AnnualizedReturnPercent: netPercent * (float64(models.HoursPerYear) / float64(cycle)),
	}, nil
}

// BestProjection evaluates both directional assignments independently and
// returns the one with the higher net cycle income. Ties resolve to
// LONG_A_SHORT_B for determinism.
func BestProjection(legA, legB Leg, now time.Time, notionalUSD float64) (models.FundingProjection, error) {
	longA, err := Project(legA, legB, models.DirectionLongAShortB, now, notionalUSD)
	if err != nil {
		return models.FundingProjection{}, err
	}
	shortA, err := Project(legA, legB, models.DirectionShortALongB, now, notionalUSD)
	if err != nil {
		return models.FundingProjection{}, err
	}
	if shortA.NetCycleIncomeUSD > longA.NetCycleIncomeUSD {
		return shortA, nil
	}
	return longA, nil
}
