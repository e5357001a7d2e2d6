package candle

import "sort"

// MaxSeriesLen is the retention bound of a Series. Once the series exceeds it,
// the oldest candles are dropped first.
const MaxSeriesLen = 200

// Series is an ordered, deduplicated, capacity-bounded candle sequence for one
// (symbol, timeframe) topic. It is not safe for concurrent use; the owning
// feed serializes access.
//
// Invariants: strictly ascending by Time, each Time at most once, length
// bounded by MaxSeriesLen. For a repeated Time the last-applied candle wins.
type Series struct {
	candles []Candle
}

// Merge applies one candle to the series.
//
// Invalid candles are dropped. A candle with the same Time as the tail
// replaces the tail (the currently-forming interval). A newer Time appends.
// An older Time is a late tick and is discarded without re-sorting.
func (s *Series) Merge(c Candle) {
	if !c.Valid() {
		return
	}
	if !s.applyOne(c) {
		return
	}
	s.normalize()
}

// BulkMerge applies a batch of candles in arrival order with a single sort and
// truncation at the end. The result is identical to calling Merge for each
// candle in sequence.
func (s *Series) BulkMerge(batch []Candle) {
	changed := false
	for _, c := range batch {
		if !c.Valid() {
			continue
		}
		if s.applyOne(c) {
			changed = true
		}
	}
	if changed {
		s.normalize()
	}
}

// applyOne performs the single-candle merge rule against the current tail and
// reports whether the series changed. Ordering and truncation are deferred to
// normalize.
func (s *Series) applyOne(c Candle) bool {
	n := len(s.candles)
	if n == 0 {
		s.candles = append(s.candles, c)
		return true
	}
	last := s.candles[n-1]
	switch {
	case c.Time == last.Time:
		s.candles[n-1] = c
		return true
	case c.Time > last.Time:
		s.candles = append(s.candles, c)
		return true
	default:
		// Late or out-of-order tick: ignore.
		return false
	}
}

// normalize restores the series invariants: ascending Time order, last write
// wins on duplicates, at most MaxSeriesLen entries kept from the tail.
func (s *Series) normalize() {
	sort.SliceStable(s.candles, func(i, j int) bool {
		return s.candles[i].Time < s.candles[j].Time
	})

	// Deduplicate by Time keeping the last candle seen for each value.
	out := s.candles[:0]
	for _, c := range s.candles {
		if n := len(out); n > 0 && out[n-1].Time == c.Time {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	s.candles = out

	if len(s.candles) > MaxSeriesLen {
		s.candles = append(s.candles[:0], s.candles[len(s.candles)-MaxSeriesLen:]...)
	}
}

// ReplaceAll replaces the entire series with the given candles sorted
// ascending by Time. Used by the historical loader; deduplication beyond the
// provided data is the caller's responsibility.
func (s *Series) ReplaceAll(candles []Candle) {
	s.candles = append(s.candles[:0:0], candles...)
	sort.SliceStable(s.candles, func(i, j int) bool {
		return s.candles[i].Time < s.candles[j].Time
	})
	if len(s.candles) > MaxSeriesLen {
		s.candles = append(s.candles[:0], s.candles[len(s.candles)-MaxSeriesLen:]...)
	}
}

// Reset empties the series. Called on symbol/timeframe switch.
func (s *Series) Reset() {
	s.candles = nil
}

// Last returns the most recent candle, if any.
func (s *Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Len returns the number of candles held.
func (s *Series) Len() int {
	return len(s.candles)
}

// Candles returns a copy of the series contents in ascending Time order.
func (s *Series) Candles() []Candle {
	cp := make([]Candle, len(s.candles))
	copy(cp, s.candles)
	return cp
}
