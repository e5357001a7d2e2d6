package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"klinewatch/internal/candle"
	"klinewatch/pkg/bybit"
)

// HistoryLimit is the number of past candles fetched on a topic switch. It
// matches the series retention bound.
const HistoryLimit = candle.MaxSeriesLen

// Loader fetches a bounded window of past candles from the exchange REST API
// to seed a fresh series.
type Loader struct {
	rest     *bybit.RESTClient
	category string
}

// NewLoader creates a Loader using the given REST client and market category
// (e.g. "spot", "linear").
func NewLoader(rest *bybit.RESTClient, category string) *Loader {
	return &Loader{rest: rest, category: category}
}

// Load fetches up to HistoryLimit most-recent candles for symbol/timeframe,
// covering now − minutes(timeframe)·HistoryLimit through now, sorted
// ascending by time.
func (l *Loader) Load(ctx context.Context, symbol, timeframe string) ([]candle.Candle, error) {
	minutes := bybit.IntervalMinutes(timeframe)
	end := time.Now()
	start := end.Add(-time.Duration(minutes) * time.Minute * HistoryLimit)

	candles, err := l.rest.GetKlines(ctx, l.category, symbol, timeframe, start, end, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time < candles[j].Time
	})
	return candles, nil
}
