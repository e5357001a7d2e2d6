// Package archive is an optional write-only Postgres sink for candles that
// have become immutable. It is never read back into the live series.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"klinewatch/config"
	"klinewatch/internal/candle"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresArchive struct {
	DB *gorm.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresArchive{DB: db}, nil
}

// InitializeAndMigrate connects to Postgres, optionally creates the DB, and
// runs AutoMigrate for the candle table.
func InitializeAndMigrate(cfg config.PostgresConfig, env string, createDB bool) (*PostgresArchive, error) {
	if createDB {
		if err := CreateDatabase(cfg); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	a, err := NewPostgresArchive(cfg.DSN(env))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := a.DB.AutoMigrate(&CandleRecord{}); err != nil {
		return nil, fmt.Errorf("auto-migrate candle table: %w", err)
	}

	return a, nil
}

// CreateDatabase connects to the postgres server and creates the archive
// database if it doesn't exist.
func CreateDatabase(cfg config.PostgresConfig) error {
	dsn := cfg.DSN("dev")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer db.Close()

	// Check if database exists
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1);`
	if err := db.QueryRow(query, cfg.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("check db exists failed: %w", err)
	}

	if exists {
		return nil // DB already exists
	}

	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", cfg.DBName))
	if err != nil {
		return fmt.Errorf("create db failed: %w", err)
	}

	return nil
}

// SaveCandles inserts finalized candles, skipping rows that already exist.
// Duplicate saves are expected after a history reload.
func (a *PostgresArchive) SaveCandles(ctx context.Context, symbol, timeframe string, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	records := make([]CandleRecord, 0, len(candles))
	for _, c := range candles {
		records = append(records, ToRecord(symbol, timeframe, c))
	}

	tx := a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "timeframe"},
			{Name: "start"},
		},
		DoNothing: true,
	}).Create(&records)

	if tx.Error != nil {
		return fmt.Errorf("insert candles: %w", tx.Error)
	}
	return nil
}

// Prune deletes archived candles older than the given time.
func (a *PostgresArchive) Prune(ctx context.Context, before time.Time) error {
	return a.DB.WithContext(ctx).
		Where("start < ?", before).
		Delete(&CandleRecord{}).Error
}

// IsHealthy reports whether the underlying connection answers a ping.
func (a *PostgresArchive) IsHealthy(ctx context.Context) bool {
	db, err := a.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

// Close releases the underlying connection pool.
func (a *PostgresArchive) Close() error {
	db, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
