package archive

import (
	"time"

	"klinewatch/internal/candle"
)

// CandleRecord is a finalized candle stored in the database.
type CandleRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	Symbol    string    `gorm:"type:text;not null;index:idx_candle_symbol;index:idx_symbol_timeframe_start,unique"`
	Timeframe string    `gorm:"type:varchar(10);not null;index:idx_symbol_timeframe_start,unique"`
	Start     time.Time `gorm:"not null;index:idx_symbol_timeframe_start,unique"`

	Open  float64 `gorm:"type:numeric;not null"`
	High  float64 `gorm:"type:numeric;not null"`
	Low   float64 `gorm:"type:numeric;not null"`
	Close float64 `gorm:"type:numeric;not null"`

	Volume float64 `gorm:"type:numeric;not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (CandleRecord) TableName() string {
	return "candle_record"
}

// ToRecord converts a candle into its database representation.
func ToRecord(symbol, timeframe string, c candle.Candle) CandleRecord {
	return CandleRecord{
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     time.Unix(c.Time, 0).UTC(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}
