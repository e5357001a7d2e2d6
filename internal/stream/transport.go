// Package stream owns the persistent streaming connection to a candle feed:
// transport variants, topic subscriptions, heartbeat, and reconnection.
package stream

import (
	"context"
	"fmt"

	"klinewatch/internal/candle"
)

// State is the externally observable connection state. Only the Manager
// transitions it.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Topic identifies the (symbol, timeframe) pair receiving live updates.
// At most one topic is active per connection.
type Topic struct {
	Symbol    string
	Timeframe string
}

// String returns the wire form used by the exchange stream,
// e.g. "kline.1.BTCUSDT".
func (t Topic) String() string {
	return fmt.Sprintf("kline.%s.%s", t.Timeframe, t.Symbol)
}

// IsZero reports whether no topic is set.
func (t Topic) IsZero() bool {
	return t.Symbol == "" && t.Timeframe == ""
}

// Events carries inbound transport callbacks. Handlers are registered via
// SetEvents before Dial and are invoked from the transport's read goroutine.
type Events struct {
	// OnTick delivers one normalized candle for the given topic.
	OnTick func(Topic, candle.Candle)
	// OnError reports a mid-session transport error.
	OnError func(error)
	// OnClose signals that the connection is gone. Fired exactly once per
	// established connection, after OnError when the close was abnormal.
	OnClose func()
}

// Transport is the capability interface both feed variants implement: the
// exchange WebSocket and the local hub connection. One Transport carries one
// connection at a time; Dial after a close establishes a fresh one.
type Transport interface {
	SetEvents(ev Events)
	Dial(ctx context.Context) error
	Subscribe(t Topic) error
	Unsubscribe(t Topic) error
	Ping() error
	Close() error
}
