package market

import "klinewatch/internal/candle"

// PriceChange returns the percentage change from firstOpen to lastClose.
func PriceChange(lastClose, firstOpen float64) float64 {
	return (lastClose - firstOpen) / firstOpen * 100
}

// QuoteVolume sums volume expressed in quote-currency notional terms
// (base volume × close) over the given candles.
func QuoteVolume(candles []candle.Candle) float64 {
	var sum float64
	for _, c := range candles {
		sum += c.Volume * c.Close
	}
	return sum
}
