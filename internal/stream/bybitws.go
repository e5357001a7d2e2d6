package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"klinewatch/internal/candle"
	"klinewatch/pkg/bybit"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// controlMessage is the op frame format of the exchange stream.
type controlMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// BybitTransport streams klines from the exchange's public WebSocket.
// Control frames are {"op":"subscribe"|"unsubscribe"|"ping","args":[topic]};
// data frames carry a topic plus an array of kline entries.
type BybitTransport struct {
	url    string
	events Events
	logger *zap.Logger

	mu      sync.Mutex // guards conn and closing; serializes writes
	conn    *websocket.Conn
	closing bool
}

// NewBybitTransport creates a transport for the given stream URL.
func NewBybitTransport(url string, logger *zap.Logger) *BybitTransport {
	return &BybitTransport{
		url:    url,
		logger: logger,
	}
}

// SetEvents registers the inbound event handlers. Must be called before Dial.
func (t *BybitTransport) SetEvents(ev Events) {
	t.events = ev
}

// Dial establishes the WebSocket connection and starts the read loop.
func (t *BybitTransport) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.logger.Error("failed to connect to exchange stream", zap.String("url", t.url), zap.Error(err))
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.closing = false
	t.mu.Unlock()

	t.logger.Info("exchange stream connected", zap.String("url", t.url))

	go t.readLoop(conn)
	return nil
}

// Subscribe sends a subscribe op for the topic.
func (t *BybitTransport) Subscribe(topic Topic) error {
	return t.writeControl(controlMessage{Op: "subscribe", Args: []string{topic.String()}})
}

// Unsubscribe sends an unsubscribe op for the topic.
func (t *BybitTransport) Unsubscribe(topic Topic) error {
	return t.writeControl(controlMessage{Op: "unsubscribe", Args: []string{topic.String()}})
}

// Ping sends the keep-alive op.
func (t *BybitTransport) Ping() error {
	return t.writeControl(controlMessage{Op: "ping"})
}

// Close tears down the connection. The read loop exits without reporting an
// error for an intentional close.
func (t *BybitTransport) Close() error {
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

func (t *BybitTransport) writeControl(msg controlMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return websocket.ErrCloseSent
	}
	return t.conn.WriteJSON(msg)
}

func (t *BybitTransport) readLoop(conn *websocket.Conn) {
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

			t.logger.Error("exchange stream read error", zap.Error(err))
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

		t.handleMessage(msg)
	}
}

func (t *BybitTransport) handleMessage(msg []byte) {
	// Extract the topic for early filtering; op acks and pongs have none.
	var meta struct {
		Topic string `json:"topic"`
		Op    string `json:"op"`
	}
	if err := json.Unmarshal(msg, &meta); err != nil {
		t.logger.Warn("failed to extract topic", zap.Error(err))
		return
	}
	if meta.Op == "pong" || meta.Op == "subscribe" || meta.Op == "unsubscribe" {
		return
	}
	if !strings.HasPrefix(meta.Topic, "kline.") {
		return // ignore non-kline messages
	}

	var parsed bybit.KlineMessage
	if err := json.Unmarshal(msg, &parsed); err != nil {
		t.logger.Warn("failed to parse kline payload", zap.Error(err))
		return
	}

	topic, ok := parseKlineTopic(parsed.Topic)
	if !ok {
		return
	}

	for _, d := range parsed.Data {
		c := candle.FromTick(d.Start, d.Open, d.High, d.Low, d.Close, d.Volume)
		if t.events.OnTick != nil {
			t.events.OnTick(topic, c)
		}
	}
}

// parseKlineTopic parses a topic like "kline.1.BTCUSDT" into its parts.
func parseKlineTopic(s string) (Topic, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Topic{}, false
	}
	return Topic{Symbol: parts[2], Timeframe: parts[1]}, true
}
