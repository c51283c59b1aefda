package postgres

import (
	"fmt"
	"time"

	"tradecollector/internal/model"

	"github.com/shopspring/decimal"
)

// TradeRecord is the mirrored copy of a persisted trade.
type TradeRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Symbol  string `gorm:"type:text;not null;uniqueIndex:idx_trade_symbol_trade_id;index:idx_trade_symbol_exchange_ts"`
	TradeID string `gorm:"type:text;not null;uniqueIndex:idx_trade_symbol_trade_id"`

	ExchangeTs time.Time `gorm:"not null;index:idx_trade_symbol_exchange_ts"`
	ReceivedTs time.Time `gorm:"not null"`
	DelayMs    int64     `gorm:"not null"`

	Price  decimal.Decimal `gorm:"type:numeric;not null"`
	Volume decimal.Decimal `gorm:"type:numeric;not null"`
	Side   string          `gorm:"type:varchar(4)"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (TradeRecord) TableName() string {
	return "trade_record"
}

// ToTradeRecord converts a trade for DB insertion. Decimals are parsed exactly.
func ToTradeRecord(r model.TradeRecord) (*TradeRecord, error) {
	price, err := decimal.NewFromString(r.Price())
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", r.Price(), err)
	}
	volume, err := decimal.NewFromString(r.Volume())
	if err != nil {
		return nil, fmt.Errorf("volume %q: %w", r.Volume(), err)
	}

	return &TradeRecord{
		Symbol:     r.Symbol(),
		TradeID:    r.TradeID(),
		ExchangeTs: r.ExchangeTime(),
		ReceivedTs: r.ReceivedTime(),
		DelayMs:    r.DelayMs(),
		Price:      price,
		Volume:     volume,
		Side:       r.Side(),
	}, nil
}
