package feed

import (
	"github.com/puzpuzpuz/xsync/v4"

	"fundingflow/models"
)

// Table is the concurrent snapshot store behind every adapter: transport
// goroutines write, the scorer reads. Partial updates merge field-wise so a
// mark-price tick never wipes out funding data delivered on another channel.
type Table struct {
	m *xsync.Map[string, models.InstrumentSnapshot]
}

func NewTable() *Table {
	return &Table{m: xsync.NewMap[string, models.InstrumentSnapshot]()}
}

// Put replaces the stored snapshot for its symbol.
func (t *Table) Put(snap models.InstrumentSnapshot) {
	t.m.Store(snap.Symbol, snap)
}

// Merge folds a partial update into the stored snapshot, keeping prior
// values for fields the update leaves zero. ObservedAt always advances to
// the update's timestamp.
func (t *Table) Merge(update models.InstrumentSnapshot) {
	t.m.Compute(update.Symbol, func(prev models.InstrumentSnapshot, loaded bool) (models.InstrumentSnapshot, xsync.ComputeOp) {
		if !loaded {
			return update, xsync.UpdateOp
		}
		next := prev
		if update.MarkPrice != 0 {
			next.MarkPrice = update.MarkPrice
		}
		if update.FundingRate != 0 || update.NextFundingTime != 0 {
			next.FundingRate = update.FundingRate
		}
		if update.FundingIntervalHours != 0 {
			next.FundingIntervalHours = update.FundingIntervalHours
		}
		if update.NextFundingTime != 0 {
			next.NextFundingTime = update.NextFundingTime
		}
		next.ObservedAt = update.ObservedAt
		return next, xsync.UpdateOp
	})
}

func (t *Table) Get(symbol string) (models.InstrumentSnapshot, bool) {
	return t.m.Load(symbol)
}

// All returns a copy of the table keyed by native symbol.
func (t *Table) All() map[string]models.InstrumentSnapshot {
	out := make(map[string]models.InstrumentSnapshot, t.m.Size())
	t.m.Range(func(sym string, snap models.InstrumentSnapshot) bool {
		out[sym] = snap
		return true
	})
	return out
}

func (t *Table) Len() int {
	return t.m.Size()
}
