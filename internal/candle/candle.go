package candle

import (
	"math"
	"strconv"
)

// Candle represents one interval's OHLCV summary. Time is whole seconds since
// epoch and is the unique key within a Series.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FromTick normalizes a raw feed tick into a Candle. The start time arrives in
// milliseconds and is floored to whole seconds. Malformed numeric fields
// become NaN rather than an error; Valid filters them out at the merge step.
func FromTick(startMs int64, open, high, low, close, volume string) Candle {
	return Candle{
		Time:   startMs / 1000,
		Open:   parsePrice(open),
		High:   parsePrice(high),
		Low:    parsePrice(low),
		Close:  parsePrice(close),
		Volume: parsePrice(volume),
	}
}

func parsePrice(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Valid reports whether the candle satisfies the OHLC relationship invariant:
// low <= open,close <= high, with no NaN price fields and a positive start
// time. Invalid candles are dropped by Series.Merge, never stored.
func (c Candle) Valid() bool {
	if c.Time <= 0 {
		return false
	}
	if math.IsNaN(c.Open) || math.IsNaN(c.High) || math.IsNaN(c.Low) || math.IsNaN(c.Close) {
		return false
	}
	if c.High < c.Low {
		return false
	}
	if c.Open < c.Low || c.Open > c.High {
		return false
	}
	if c.Close < c.Low || c.Close > c.High {
		return false
	}
	return true
}
