// Package market composes the historical loader, the stream connection
// manager, the batch coalescer, and the candle series into one live
// market-data feed for a single (symbol, timeframe) topic.
package market

import (
	"context"
	"sync"
	"time"

	"klinewatch/internal/candle"
	"klinewatch/internal/coalesce"
	"klinewatch/internal/stream"

	"go.uber.org/zap"
)

// Archiver persists finalized candles. Implementations must tolerate
// duplicate saves (the feed may re-archive after a history reload).
type Archiver interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []candle.Candle) error
}

// Snapshot is the consumer-facing view of the feed at one point in time.
type Snapshot struct {
	Symbol    string
	Timeframe string

	Candles        []candle.Candle
	CurrentPrice   float64
	HasPrice       bool
	PriceChange24h float64
	Volume24h      float64

	ConnState stream.State
	Err       string
}

// batchTick is one queued live tick together with the topic generation it was
// accepted under. Flushes drop ticks whose generation has been superseded.
type batchTick struct {
	gen uint64
	c   candle.Candle
}

// Feed owns exactly one candle series, one connection manager, and one batch
// coalescer. Symbol/timeframe switches replace the series wholesale; a
// generation counter discards stale historical responses and stale queued
// ticks that resolve after a subsequent switch.
type Feed struct {
	logger   *zap.Logger
	loader   *Loader
	mgr      *stream.Manager
	batch    *coalesce.Coalescer[batchTick]
	archiver Archiver
	onUpdate func(Snapshot)

	mu              sync.Mutex
	gen             uint64
	symbol          string
	timeframe       string
	series          candle.Series
	currentPrice    float64
	hasPrice        bool
	change24h       float64
	volume24h       float64
	archivedThrough int64
	closed          bool
}

// FeedOptions configures optional feed collaborators.
type FeedOptions struct {
	// Archiver, when set, receives candles once they become immutable.
	Archiver Archiver
	// OnUpdate fires after every state transition and batch flush. It runs on
	// feed-internal goroutines and must not call back into the Feed.
	OnUpdate func(Snapshot)
	// BatchInterval overrides the coalescing window (default 100 ms).
	BatchInterval time.Duration
}

// NewFeed wires a Feed over the given transport. Call Start to begin.
func NewFeed(transport stream.Transport, loader *Loader, logger *zap.Logger, opts FeedOptions) *Feed {
	f := &Feed{
		logger:   logger,
		loader:   loader,
		archiver: opts.Archiver,
		onUpdate: opts.OnUpdate,
	}
	f.batch = coalesce.New(opts.BatchInterval, f.applyBatch)
	f.mgr = stream.NewManager(transport, logger, f.handleTick, f.handleState)
	return f
}

// Start applies the initial topic and begins connecting.
func (f *Feed) Start(symbol, timeframe string) {
	f.SetTopic(symbol, timeframe)
	f.mgr.Connect()
}

// SetTopic switches the feed to a new (symbol, timeframe) pair: the series
// and derived metrics are cleared, queued ticks for the old topic are
// dropped, a historical load is started, and the stream subscription is
// switched.
func (f *Feed) SetTopic(symbol, timeframe string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.gen++
	gen := f.gen
	f.symbol = symbol
	f.timeframe = timeframe
	f.series.Reset()
	f.currentPrice = 0
	f.hasPrice = false
	f.change24h = 0
	f.volume24h = 0
	f.archivedThrough = 0
	f.mu.Unlock()

	f.logger.Info("switching topic", zap.String("symbol", symbol), zap.String("timeframe", timeframe))

	// Stale ticks must not merge into the new series.
	f.batch.Reset()

	f.mgr.SetTopic(stream.Topic{Symbol: symbol, Timeframe: timeframe})

	go f.loadHistory(gen, symbol, timeframe)
}

// Close tears down the feed: stream connection, reconnect and heartbeat
// timers, and any pending batch flush.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.batch.Stop()
	f.mgr.Close()
}

// Snapshot returns the current series, derived metrics, and connection state.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() Snapshot {
	state, errMsg := f.mgr.State()
	return Snapshot{
		Symbol:         f.symbol,
		Timeframe:      f.timeframe,
		Candles:        f.series.Candles(),
		CurrentPrice:   f.currentPrice,
		HasPrice:       f.hasPrice,
		PriceChange24h: f.change24h,
		Volume24h:      f.volume24h,
		ConnState:      state,
		Err:            errMsg,
	}
}

// loadHistory seeds the series from REST. A failure leaves the existing
// series untouched; a response for a superseded topic generation is ignored.
func (f *Feed) loadHistory(gen uint64, symbol, timeframe string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	candles, err := f.loader.Load(ctx, symbol, timeframe)
	if err != nil {
		// Best-effort refresh, not a transactional replace.
		f.logger.Warn("historical fetch failed, keeping existing series",
			zap.String("symbol", symbol), zap.String("timeframe", timeframe), zap.Error(err))
		return
	}

	f.mu.Lock()
	if f.closed || gen != f.gen {
		f.mu.Unlock()
		return // a newer topic switch superseded this load
	}

	// Note: within one generation this replace can overwrite live ticks that
	// merged while the fetch was in flight, matching the reference behavior.
	f.series.ReplaceAll(candles)

	if len(candles) > 0 {
		first := candles[0]
		last := candles[len(candles)-1]
		f.currentPrice = last.Close
		f.hasPrice = true
		f.change24h = PriceChange(last.Close, first.Open)
		f.volume24h = QuoteVolume(candles)

		// Everything but the still-forming tail is immutable now.
		if f.archiver != nil && len(candles) > 1 {
			f.archiveLocked(candles[:len(candles)-1])
		}
	}

	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.logger.Info("loaded historical candles",
		zap.String("symbol", symbol), zap.String("timeframe", timeframe), zap.Int("count", len(candles)))

	f.notify(snap)
}

// handleTick receives normalized candles from the connection manager and
// queues them for the next coalesced flush, tagged with the current topic
// generation. The topic is re-checked under the feed lock: a tick that passed
// the manager's filter just before a switch must not be tagged with the new
// generation.
func (f *Feed) handleTick(topic stream.Topic, c candle.Candle) {
	f.mu.Lock()
	if f.closed || topic.Symbol != f.symbol || topic.Timeframe != f.timeframe {
		f.mu.Unlock()
		return
	}
	gen := f.gen
	f.mu.Unlock()

	f.batch.Enqueue(batchTick{gen: gen, c: c})
}

// applyBatch merges one drained batch into the series and updates the
// current price from the chronologically last candle of the batch. Ticks
// queued under a superseded topic generation are dropped.
func (f *Feed) applyBatch(batch []batchTick) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}

	live := make([]candle.Candle, 0, len(batch))
	for _, t := range batch {
		if t.gen == f.gen {
			live = append(live, t.c)
		}
	}
	if len(live) == 0 {
		f.mu.Unlock()
		return
	}

	f.series.BulkMerge(live)

	last := live[0]
	for _, c := range live[1:] {
		if c.Time >= last.Time {
			last = c
		}
	}
	f.currentPrice = last.Close
	f.hasPrice = true

	// Candles older than the series tail have rolled over and are immutable.
	if f.archiver != nil {
		if tail, ok := f.series.Last(); ok {
			var done []candle.Candle
			for _, c := range f.series.Candles() {
				if c.Time > f.archivedThrough && c.Time < tail.Time {
					done = append(done, c)
				}
			}
			if len(done) > 0 {
				f.archiveLocked(done)
			}
		}
	}

	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.notify(snap)
}

// handleState relays connection state changes to the consumer.
func (f *Feed) handleState(_ stream.State, _ string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.notify(snap)
}

// archiveLocked hands immutable candles to the archiver asynchronously and
// advances the watermark. Caller holds f.mu.
func (f *Feed) archiveLocked(candles []candle.Candle) {
	if candles[len(candles)-1].Time > f.archivedThrough {
		f.archivedThrough = candles[len(candles)-1].Time
	}

	cp := make([]candle.Candle, len(candles))
	copy(cp, candles)
	symbol, timeframe := f.symbol, f.timeframe

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.archiver.SaveCandles(ctx, symbol, timeframe, cp); err != nil {
			f.logger.Warn("failed to archive candles", zap.Int("count", len(cp)), zap.Error(err))
		}
	}()
}

func (f *Feed) notify(snap Snapshot) {
	if f.onUpdate != nil {
		f.onUpdate(snap)
	}
}
