package candle

import (
	"context"

	"backtest/internal/schema"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const _saveBatchSize = 1000

// Record is the database row of a candle.
type Record struct {
	Symbol    string  `gorm:"primaryKey;size:32"`
	Timeframe string  `gorm:"primaryKey;size:8"`
	Timestamp int64   `gorm:"primaryKey;autoIncrement:false"`
	Open      float64 `gorm:"not null"`
	Close     float64 `gorm:"not null"`
	High      float64 `gorm:"not null"`
	Low       float64 `gorm:"not null"`
	Volume    float64 `gorm:"not null"`
}

func (Record) TableName() string {
	return "candles"
}

// Repository persists historical candles in PostgreSQL.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps a gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the candles table.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return errors.Wrap(err, "auto migrate candles")
	}
	return nil
}

// Save upserts candles keyed by symbol, timeframe and timestamp.
func (r *Repository) Save(ctx context.Context, candles []schema.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	records := make([]Record, 0, len(candles))
	for _, c := range candles {
		records = append(records, toRecord(c))
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "close", "high", "low", "volume"}),
		}).
		CreateInBatches(records, _saveBatchSize).Error
	if err != nil {
		return errors.Wrap(err, "save candles").With("count", len(records))
	}
	return nil
}

// Load returns candles of a series within [from, to] unix milliseconds, oldest first.
// A zero to means no upper bound.
func (r *Repository) Load(ctx context.Context, symbol string, tf schema.Timeframe, from, to int64) ([]schema.Candle, error) {
	query := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ?", symbol, tf.String(), from)
	if to > 0 {
		query = query.Where("timestamp <= ?", to)
	}

	var records []Record
	if err := query.Order("timestamp asc").Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "load candles").With("symbol", symbol)
	}

	candles := make([]schema.Candle, 0, len(records))
	for _, rec := range records {
		c, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func toRecord(c schema.Candle) Record {
	return Record{
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe.String(),
		Timestamp: c.Timestamp,
		Open:      c.Open,
		Close:     c.Close,
		High:      c.High,
		Low:       c.Low,
		Volume:    c.Volume,
	}
}

func fromRecord(rec Record) (schema.Candle, error) {
	tf, err := schema.ParseTimeframe(rec.Timeframe)
	if err != nil {
		return schema.Candle{}, err
	}
	return schema.Candle{
		Symbol:    rec.Symbol,
		Timeframe: tf,
		Timestamp: rec.Timestamp,
		Open:      rec.Open,
		Close:     rec.Close,
		High:      rec.High,
		Low:       rec.Low,
		Volume:    rec.Volume,
	}, nil
}
