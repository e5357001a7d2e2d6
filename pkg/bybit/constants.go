package bybit

// KlineInterval is the timeframe code used in API requests and stream topics.
type KlineInterval string

const (
	Interval1Min   KlineInterval = "1"
	Interval3Min   KlineInterval = "3"
	Interval5Min   KlineInterval = "5"
	Interval15Min  KlineInterval = "15"
	Interval30Min  KlineInterval = "30"
	Interval60Min  KlineInterval = "60"
	Interval120Min KlineInterval = "120"
	Interval240Min KlineInterval = "240"
	IntervalDaily  KlineInterval = "D"
)

// intervalMinutes maps each timeframe code to its length in minutes.
var intervalMinutes = map[KlineInterval]int{
	Interval1Min:   1,
	Interval3Min:   3,
	Interval5Min:   5,
	Interval15Min:  15,
	Interval30Min:  30,
	Interval60Min:  60,
	Interval120Min: 120,
	Interval240Min: 240,
	IntervalDaily:  1440, // 24*60
}

// IsValid checks if the KlineInterval is a valid predefined interval.
func (k KlineInterval) IsValid() bool {
	_, ok := intervalMinutes[k]
	return ok
}

// IntervalMinutes returns the interval length in minutes for a timeframe
// code. Unknown codes default to 1 minute.
func IntervalMinutes(code string) int {
	if m, ok := intervalMinutes[KlineInterval(code)]; ok {
		return m
	}
	return 1
}
