package stream

import "tradecollector/internal/model"

// Appender is the per-symbol persistence the dispatcher writes through.
type Appender interface {
	Append(r model.TradeRecord) error
}

// Mirror receives copies of records that were persisted successfully.
// Enqueue must not block; it reports whether the copy was accepted.
type Mirror interface {
	Enqueue(r model.TradeRecord) bool
}

// SymbolStats counts dispatch outcomes for one symbol.
type SymbolStats struct {
	Written int64 // records appended to the trade log
	Failed  int64 // records lost to append errors
}
