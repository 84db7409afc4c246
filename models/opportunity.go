package models

// Direction names which leg is long and which is short for a venue pair.
type Direction string

const (
	// DirectionLongAShortB opens a long on venue A and a short on venue B.
	DirectionLongAShortB Direction = "LONG_A_SHORT_B"
	// DirectionShortALongB opens a short on venue A and a long on venue B.
	DirectionShortALongB Direction = "SHORT_A_LONG_B"
)

// HoursPerYear is the annualization basis for funding projections.
const HoursPerYear = 24 * 365

// FundingProjection is the net funding outcome of holding an offsetting pair
// of positions over a shared evaluation horizon. Projections are recomputed
// from scratch on every scoring pass and never cached.
type FundingProjection struct {
	Direction Direction `json:"direction"`
	// CycleDurationHours is the shared horizon: lcm of the two legs' funding
	// intervals, capped at 24h.
	CycleDurationHours int `json:"cycle_duration_hours"`
	// PaymentCountA and PaymentCountB are the settlements each leg accrues
	// within the horizon, derived from each leg's own phase and interval.
	PaymentCountA int `json:"payment_count_a"`
	PaymentCountB int `json:"payment_count_b"`
	// NetCycleIncomePercent is the signed funding income over the horizon as
	// a percentage of notional.
	NetCycleIncomePercent float64 `json:"net_cycle_income_percent"`
	// NetCycleIncomeUSD is the same income for the configured trade notional.
	NetCycleIncomeUSD float64 `json:"net_cycle_income_usd"`
	// AnnualizedReturnPercent extrapolates the cycle income linearly to a
	// year: NetCycleIncomePercent * (8760 / CycleDurationHours).
	AnnualizedReturnPercent float64 `json:"annualized_return_percent"`
}

// VenueQuote is the per-leg market state attached to an emitted opportunity.
type VenueQuote struct {
	Venue                string  `json:"venue"`
	Symbol               string  `json:"symbol"`
	MarkPrice            float64 `json:"mark_price"`
	FundingRate          float64 `json:"funding_rate"`
	FundingIntervalHours int     `json:"funding_interval_hours"`
	NextFundingTime      int64   `json:"next_funding_time"`
}

// Opportunity is one scored instrument for one venue pair. Records are
// emitted regardless of sign; callers filter or truncate as they see fit.
type Opportunity struct {
	Symbol string     `json:"symbol"`
	LegA   VenueQuote `json:"leg_a"`
	LegB   VenueQuote `json:"leg_b"`
	// Projection is the better of the two directional projections.
	Projection FundingProjection `json:"projection"`
	// PriceSpreadPercent is the one-time entry/exit PnL from the mark price
	// difference, signed in the direction of the chosen strategy. Positive
	// means the spread favors entry.
	PriceSpreadPercent float64 `json:"price_spread_percent"`
	// FeeCostPercent is the total taker fee for entering and exiting both
	// legs, as a percentage of notional.
	FeeCostPercent float64 `json:"fee_cost_percent"`
	// NetProfitPercent = cycle funding income - fees + price spread PnL.
	NetProfitPercent float64 `json:"net_profit_percent"`
	IsOpportunity    bool    `json:"is_opportunity"`
	EvaluatedAt      int64   `json:"evaluated_at"`
}
