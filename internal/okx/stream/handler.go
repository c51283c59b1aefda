package stream

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tradecollector/internal/model"
	"tradecollector/internal/okx/symbolset"
	"tradecollector/pkg/okx"

	"go.uber.org/zap"
)

var ErrUnknownSymbol = errors.New("trade for unconfigured symbol")

type counters struct {
	written atomic.Int64
	failed  atomic.Int64
}

// Dispatcher turns decoded trade entries into records and appends them to the
// store of their symbol. It is driven from the single receive loop.
type Dispatcher struct {
	symbols symbolset.Set
	stores  map[string]Appender
	mirror  Mirror
	now     func() time.Time
	logger  *zap.Logger

	counts  map[string]*counters
	unknown atomic.Int64
}

type Option func(*Dispatcher)

// WithClock replaces time.Now as the source of received timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithMirror forwards every persisted record to m.
func WithMirror(m Mirror) Option {
	return func(d *Dispatcher) { d.mirror = m }
}

// NewDispatcher requires a store for every configured symbol.
func NewDispatcher(symbols symbolset.Set, stores map[string]Appender, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		symbols: symbols,
		stores:  make(map[string]Appender, symbols.Len()),
		now:     time.Now,
		logger:  logger,
		counts:  make(map[string]*counters, symbols.Len()),
	}
	for _, sym := range symbols.List() {
		s, ok := stores[sym]
		if !ok || s == nil {
			return nil, fmt.Errorf("no trade log for symbol %s", sym)
		}
		d.stores[sym] = s
		d.counts[sym] = &counters{}
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dispatch persists trades for symbol in order and returns how many were written.
// Unknown symbols and store failures are logged, never returned.
func (d *Dispatcher) Dispatch(symbol string, trades []okx.TradeEntry) int {
	if !d.symbols.Contains(symbol) {
		d.unknown.Add(int64(len(trades)))
		d.logger.Warn("dropping trades",
			zap.String("symbol", symbol),
			zap.Int("trades", len(trades)),
			zap.Error(ErrUnknownSymbol),
		)
		return 0
	}

	store := d.stores[symbol]
	c := d.counts[symbol]

	written := 0
	for _, t := range trades {
		// each entry is stamped when it is processed
		rec := model.NewTradeRecord(symbol, t.TradeID, t.TimestampMs, t.Price, t.Size, d.now()).WithSide(t.Side)

		if err := store.Append(rec); err != nil {
			c.failed.Add(1)
			d.logger.Warn("failed to persist trade",
				zap.String("symbol", symbol),
				zap.String("trade_id", t.TradeID),
				zap.Error(err),
			)
			continue
		}
		c.written.Add(1)
		written++

		if d.mirror != nil && !d.mirror.Enqueue(rec) {
			d.logger.Warn("mirror queue full, skipping copy",
				zap.String("symbol", symbol),
				zap.String("trade_id", t.TradeID),
			)
		}
	}
	return written
}

// Stats returns a snapshot of per-symbol counters.
func (d *Dispatcher) Stats() map[string]SymbolStats {
	out := make(map[string]SymbolStats, len(d.counts))
	for sym, c := range d.counts {
		out[sym] = SymbolStats{Written: c.written.Load(), Failed: c.failed.Load()}
	}
	return out
}

// Unknown returns how many trades were dropped for unconfigured symbols.
func (d *Dispatcher) Unknown() int64 { return d.unknown.Load() }

var _ okx.Sink = (*Dispatcher)(nil)
