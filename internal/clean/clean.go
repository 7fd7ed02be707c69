// Package clean turns the raw trade and client snapshots into the cleaned
// trade_detail snapshot.
//
// Trades lose rows with a null required field or an unparseable or
// non-positive amount, collapse identical duplicates, and are inner-joined to
// clients on client_id. Two different rows sharing a business key are a
// consistency violation, not something the cleaner resolves on its own.
package clean

import (
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
	"tradepipe/internal/transformer"
	"tradepipe/internal/transformer/builtin"
)

// Stats counts what the cleaner kept and dropped.
type Stats struct {
	TradesIn  int
	ClientsIn int
	Rows      int

	// TradeRejects and ClientRejects count dropped rows per step
	// (require, coerce, dedup, join).
	TradeRejects  transformer.Counter
	ClientRejects transformer.Counter
}

// Dropped returns the number of trade rows that did not reach the output.
func (s Stats) Dropped() int {
	n := 0
	for _, v := range s.TradeRejects {
		n += v
	}
	return n
}

// Cleaner holds the knobs of a cleaning pass. The zero value is the
// production configuration.
type Cleaner struct {
	// DuplicatePolicy is passed to builtin.DeDup for both inputs.
	DuplicatePolicy string

	// DateLayouts overrides builtin.DefaultDateLayouts.
	DateLayouts []string

	// Reject, when set, sees every dropped row of either input.
	Reject transformer.RejectFunc
}

// Clean runs the zero Cleaner.
func Clean(trades, clients table.Table) (table.Table, Stats, error) {
	return Cleaner{}.Clean(trades, clients)
}

// tradeRequired are the trade columns a cleaned row must have.
var tradeRequired = []string{
	schema.ColClientID,
	schema.ColInstrument,
	schema.ColQuantity,
	schema.ColPrice,
	schema.ColTradeDate,
}

// Clean returns the trade_detail table sorted by trade_id. Inputs are not
// modified.
func (c Cleaner) Clean(trades, clients table.Table) (table.Table, Stats, error) {
	st := Stats{
		TradesIn:      trades.Len(),
		ClientsIn:     clients.Len(),
		TradeRejects:  transformer.Counter{},
		ClientRejects: transformer.Counter{},
	}
	onTrade := st.TradeRejects.Record(c.Reject)
	onClient := st.ClientRejects.Record(c.Reject)

	cl, err := transformer.Chain{
		builtin.Normalize{},
		builtin.Require{Fields: []string{schema.ColClientID}, Reject: onClient},
		builtin.DeDup{Keys: []string{schema.ColClientID}, Policy: c.DuplicatePolicy, Reject: onClient},
	}.Apply(clients)
	if err != nil {
		return table.Table{}, st, err
	}

	out, err := transformer.Chain{
		builtin.Normalize{},
		builtin.Require{Fields: tradeRequired, Reject: onTrade},
		builtin.Coerce{
			Types:       builtin.TypesOf(schema.TradeDetail),
			Positive:    []string{schema.ColQuantity, schema.ColPrice},
			DateLayouts: c.DateLayouts,
			Reject:      onTrade,
		},
		builtin.DeDup{Keys: []string{schema.ColTradeID}, Policy: c.DuplicatePolicy, SkipNullKeys: true, Reject: onTrade},
		builtin.InnerJoin{Right: cl, On: schema.ColClientID, Output: schema.TradeDetail, Reject: onTrade},
		transformer.Func(func(t table.Table) (table.Table, error) {
			// trade_id first; the other columns order trades without one.
			return t.SortedBy(schema.TradeDetail.Columns()...), nil
		}),
		builtin.Validate{Contract: schema.TradeDetail},
	}.Apply(trades)
	if err != nil {
		return table.Table{}, st, err
	}
	st.Rows = out.Len()
	return out, st, nil
}
