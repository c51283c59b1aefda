package postgres

import (
	"context"

	"gorm.io/gorm/clause"
)

// InsertTrades writes records in order, skipping (symbol, trade_id) pairs already stored.
func (p *PostgresClient) InsertTrades(ctx context.Context, records []*TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "trade_id"},
		},
		DoNothing: true,
	}).Create(records).Error
}

// CountTrades returns how many rows are mirrored for symbol.
func (p *PostgresClient) CountTrades(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := p.DB.WithContext(ctx).
		Model(&TradeRecord{}).
		Where("symbol = ?", symbol).
		Count(&n).Error
	return n, err
}
