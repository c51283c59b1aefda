// Package model holds the canonical trade record persisted by the collector.
package model

import (
	"strconv"
	"time"
)

// CSVHeader is the first line of every per-symbol trade log.
var CSVHeader = []string{"tradeID", "ts_exchange_ms", "ts_received_ms", "delay", "price", "volume"}

// TradeRecord is one exchange trade plus the locally observed delivery delay.
// Fields are unexported so a record cannot change after construction.
type TradeRecord struct {
	symbol       string
	tradeID      string
	exchangeTsMs int64
	receivedTsMs int64
	price        string
	volume       string
	side         string
}

// NewTradeRecord builds a record received at receivedAt. Price and volume are kept verbatim.
func NewTradeRecord(symbol, tradeID string, exchangeTsMs int64, price, volume string, receivedAt time.Time) TradeRecord {
	return TradeRecord{
		symbol:       symbol,
		tradeID:      tradeID,
		exchangeTsMs: exchangeTsMs,
		receivedTsMs: receivedAt.UnixMilli(),
		price:        price,
		volume:       volume,
	}
}

// WithSide returns a copy of r carrying the taker side ("buy" or "sell").
// The side is not part of the CSV row.
func (r TradeRecord) WithSide(side string) TradeRecord {
	r.side = side
	return r
}

func (r TradeRecord) Symbol() string { return r.symbol }
func (r TradeRecord) TradeID() string { return r.tradeID }
func (r TradeRecord) ExchangeTimestampMs() int64 { return r.exchangeTsMs }
func (r TradeRecord) ReceivedTimestampMs() int64 { return r.receivedTsMs }
func (r TradeRecord) Price() string { return r.price }
func (r TradeRecord) Volume() string { return r.volume }
func (r TradeRecord) Side() string { return r.side }
func (r TradeRecord) ExchangeTime() time.Time { return time.UnixMilli(r.exchangeTsMs) }
func (r TradeRecord) ReceivedTime() time.Time { return time.UnixMilli(r.receivedTsMs) }

// DelayMs is received minus exchange time. Negative values (clock skew) are kept as-is.
func (r TradeRecord) DelayMs() int64 {
	return r.receivedTsMs - r.exchangeTsMs
}

// CSVRow returns the record in CSVHeader order.
func (r TradeRecord) CSVRow() []string {
	return []string{
		r.tradeID,
		strconv.FormatInt(r.exchangeTsMs, 10),
		strconv.FormatInt(r.receivedTsMs, 10),
		strconv.FormatInt(r.DelayMs(), 10),
		r.price,
		r.volume,
	}
}
