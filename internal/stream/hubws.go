package stream

import (
	"context"
	"encoding/json"
	"sync"

	"klinewatch/internal/candle"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub method names understood by the local price hub.
const (
	hubSubscribe   = "SubscribeToSymbol"
	hubUnsubscribe = "UnsubscribeFromSymbol"
	hubReceive     = "ReceiveKline"
)

// hubFrame is the JSON envelope exchanged with the hub. Outbound invocations
// carry a target method and positional arguments; the hub pushes ReceiveKline
// invocations back and answers pings with pongs.
type hubFrame struct {
	Type         string            `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
}

// hubCandle is the candle shape pushed by the hub: numeric fields, time
// already in whole seconds.
type hubCandle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HubTransport streams candles from the local price hub over a WebSocket
// carrying RPC-style invocation frames. It satisfies the same Transport
// contract as the exchange variant; the hub only pushes candles for the
// subscribed topic, so inbound frames are tagged with the topic of the most
// recent subscribe.
type HubTransport struct {
	url    string
	events Events
	logger *zap.Logger

	mu      sync.Mutex // guards conn, topic, closing; serializes writes
	conn    *websocket.Conn
	topic   Topic
	closing bool
}

// NewHubTransport creates a transport for the given hub URL.
func NewHubTransport(url string, logger *zap.Logger) *HubTransport {
	return &HubTransport{
		url:    url,
		logger: logger,
	}
}

// SetEvents registers the inbound event handlers. Must be called before Dial.
func (t *HubTransport) SetEvents(ev Events) {
	t.events = ev
}

// Dial establishes the hub connection and starts the read loop.
func (t *HubTransport) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.logger.Error("failed to connect to price hub", zap.String("url", t.url), zap.Error(err))
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.closing = false
	t.mu.Unlock()

	t.logger.Info("price hub connected", zap.String("url", t.url))

	go t.readLoop(conn)
	return nil
}

// Subscribe invokes SubscribeToSymbol(symbol, timeframe) on the hub and
// records the topic for tagging inbound candles.
func (t *HubTransport) Subscribe(topic Topic) error {
	if err := t.invoke(hubSubscribe, topic.Symbol, topic.Timeframe); err != nil {
		return err
	}
	t.mu.Lock()
	t.topic = topic
	t.mu.Unlock()
	return nil
}

// Unsubscribe invokes UnsubscribeFromSymbol(symbol, timeframe) on the hub.
func (t *HubTransport) Unsubscribe(topic Topic) error {
	return t.invoke(hubUnsubscribe, topic.Symbol, topic.Timeframe)
}

// Ping sends the keep-alive frame.
func (t *HubTransport) Ping() error {
	return t.write(hubFrame{Type: "ping"})
}

// Close tears down the connection.
func (t *HubTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closing = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *HubTransport) invoke(target string, args ...string) error {
	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, _ := json.Marshal(a)
		rawArgs = append(rawArgs, b)
	}
	return t.write(hubFrame{
		Type:         "invocation",
		InvocationID: uuid.NewString(),
		Target:       target,
		Arguments:    rawArgs,
	})
}

func (t *HubTransport) write(frame hubFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return websocket.ErrCloseSent
	}
	return t.conn.WriteJSON(frame)
}

func (t *HubTransport) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			intentional := t.closing
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()

			if intentional {
				return
			}

			t.logger.Error("price hub read error", zap.Error(err))
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if t.events.OnError != nil {
					t.events.OnError(err)
				}
			}
			if t.events.OnClose != nil {
				t.events.OnClose()
			}
			return
		}

		t.handleFrame(msg)
	}
}

func (t *HubTransport) handleFrame(msg []byte) {
	var frame hubFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.logger.Warn("failed to parse hub frame", zap.Error(err))
		return
	}
	if frame.Type != "invocation" || frame.Target != hubReceive || len(frame.Arguments) == 0 {
		return // pongs, completions, unrelated invocations
	}

	var hc hubCandle
	if err := json.Unmarshal(frame.Arguments[0], &hc); err != nil {
		t.logger.Warn("failed to parse hub candle", zap.Error(err))
		return
	}

	t.mu.Lock()
	topic := t.topic
	t.mu.Unlock()

	c := candle.Candle{
		Time:   hc.Time,
		Open:   hc.Open,
		High:   hc.High,
		Low:    hc.Low,
		Close:  hc.Close,
		Volume: hc.Volume,
	}
	if t.events.OnTick != nil {
		t.events.OnTick(topic, c)
	}
}
