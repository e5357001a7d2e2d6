package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"klinewatch/internal/candle"

	"go.uber.org/zap"
)

const (
	// MaxReconnectAttempts bounds automatic reconnection. Once exhausted the
	// manager parks in StateError until the consumer retries explicitly.
	MaxReconnectAttempts = 10

	// PingInterval is the keep-alive cadence while connected.
	PingInterval = 20 * time.Second

	dialTimeout = 15 * time.Second
)

// reconnectDelays is the backoff schedule indexed by attempt count; the last
// entry repeats for further attempts.
var reconnectDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// stateNotification is one queued consumer notification.
type stateNotification struct {
	state  State
	errMsg string
}

// Manager owns the lifecycle of one streaming connection: connect, topic
// switching, heartbeat, error/close detection, and bounded backoff-scheduled
// reconnection. All cross-callback state lives here, guarded by one mutex.
type Manager struct {
	transport Transport
	logger    *zap.Logger

	// Consumer callbacks. OnTick receives candles for the active topic only,
	// tagged with that topic; OnState fires on every state transition with the
	// current error string.
	onTick  func(Topic, candle.Candle)
	onState func(State, string)

	mu             sync.Mutex
	state          State
	errMsg         string
	topic          Topic
	hasTopic       bool
	attempts       int
	closed         bool
	reconnectTimer *time.Timer
	pingStop       chan struct{}
	lastActivity   time.Time

	// subMu serializes transport (un)subscribe sequences so a topic switch
	// cannot interleave with the post-connect resubscribe.
	subMu sync.Mutex

	// notifyMu guards the consumer notification queue; notifications are
	// delivered one at a time in transition order.
	notifyMu    sync.Mutex
	notifyQueue []stateNotification
	notifying   bool

	// Test hooks. delays defaults to reconnectDelays.
	delays []time.Duration
}

// NewManager creates a Manager over the given transport and registers itself
// as the transport's event handler.
func NewManager(transport Transport, logger *zap.Logger, onTick func(Topic, candle.Candle), onState func(State, string)) *Manager {
	m := &Manager{
		transport:    transport,
		logger:       logger,
		onTick:       onTick,
		onState:      onState,
		state:        StateDisconnected,
		delays:       reconnectDelays,
		lastActivity: time.Now(),
	}
	transport.SetEvents(Events{
		OnTick:  m.handleTick,
		OnError: m.handleTransportError,
		OnClose: m.handleTransportClose,
	})
	return m
}

// Connect starts connecting. No-op when already connecting or connected.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnecting, "")
	m.mu.Unlock()

	go m.dial()
}

func (m *Manager) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	err := m.transport.Dial(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if err == nil {
			_ = m.transport.Close()
		}
		return
	}

	if err != nil {
		m.setStateLocked(StateError, err.Error())
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}

	m.attempts = 0
	m.lastActivity = time.Now()
	m.setStateLocked(StateConnected, "")
	m.startHeartbeatLocked()
	m.mu.Unlock()

	// Re-apply the pending/active subscription on the fresh connection. The
	// topic is re-read under subMu so a switch racing with the connect cannot
	// leave the transport on a superseded topic.
	m.subMu.Lock()
	m.mu.Lock()
	topic := m.topic
	hasTopic := m.hasTopic
	m.mu.Unlock()
	if hasTopic {
		if err := m.transport.Subscribe(topic); err != nil {
			m.logger.Warn("failed to subscribe after connect", zap.String("topic", topic.String()), zap.Error(err))
		} else {
			m.logger.Info("subscribed", zap.String("topic", topic.String()))
		}
	}
	m.subMu.Unlock()
}

// SetTopic switches the active subscription. While connected it sends an
// unsubscribe for the previous topic followed by a subscribe for the new one;
// otherwise the topic is recorded and applied on the next successful connect.
func (m *Manager) SetTopic(topic Topic) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.mu.Lock()
	prev := m.topic
	hadTopic := m.hasTopic
	m.topic = topic
	m.hasTopic = true
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || (hadTopic && prev == topic) {
		return
	}

	if hadTopic {
		if err := m.transport.Unsubscribe(prev); err != nil {
			m.logger.Warn("failed to unsubscribe", zap.String("topic", prev.String()), zap.Error(err))
		} else {
			m.logger.Info("unsubscribed", zap.String("topic", prev.String()))
		}
	}
	if err := m.transport.Subscribe(topic); err != nil {
		m.logger.Warn("failed to subscribe", zap.String("topic", topic.String()), zap.Error(err))
	} else {
		m.logger.Info("subscribed", zap.String("topic", topic.String()))
	}
}

// Close stops the connection and cancels every pending timer. The manager
// cannot be reused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	m.topic = Topic{}
	m.hasTopic = false
	m.setStateLocked(StateDisconnected, "")
	m.mu.Unlock()

	_ = m.transport.Close()
}

// State returns the current connection state and error message.
func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.errMsg
}

// Attempts returns the current reconnect attempt count.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastActivity returns the time of the last inbound tick or successful
// connect.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// ── transport callbacks ──

func (m *Manager) handleTick(topic Topic, c candle.Candle) {
	m.mu.Lock()
	if m.closed || !m.hasTopic || topic != m.topic {
		// Tick for a stale subscription; drop it.
		m.mu.Unlock()
		return
	}
	m.lastActivity = time.Now()
	onTick := m.onTick
	m.mu.Unlock()

	if onTick != nil {
		onTick(topic, c)
	}
}

func (m *Manager) handleTransportError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.logger.Error("stream transport error", zap.Error(err))
	m.stopHeartbeatLocked()
	m.setStateLocked(StateError, err.Error())
}

func (m *Manager) handleTransportClose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.logger.Info("stream disconnected")
	m.stopHeartbeatLocked()
	m.setStateLocked(StateDisconnected, m.errMsg)
	m.scheduleReconnectLocked()
}

// ── reconnection ──

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil {
		return // a reconnect is already scheduled
	}

	if m.attempts >= MaxReconnectAttempts {
		msg := fmt.Sprintf("failed to reconnect after %d attempts", MaxReconnectAttempts)
		m.logger.Error("reconnect budget exhausted")
		m.setStateLocked(StateError, msg)
		return
	}

	delay := m.delayAt(m.attempts)
	m.logger.Info("scheduling reconnect",
		zap.Duration("delay", delay),
		zap.Int("attempt", m.attempts+1),
		zap.Int("max", MaxReconnectAttempts),
	)

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		if m.closed || m.state == StateConnecting || m.state == StateConnected {
			m.mu.Unlock()
			return
		}
		m.attempts++
		m.setStateLocked(StateConnecting, "")
		m.mu.Unlock()

		m.dial()
	})
}

func (m *Manager) delayAt(attempts int) time.Duration {
	idx := attempts
	if idx > len(m.delays)-1 {
		idx = len(m.delays) - 1
	}
	return m.delays[idx]
}

// ── heartbeat ──

func (m *Manager) startHeartbeatLocked() {
	m.stopHeartbeatLocked()
	stop := make(chan struct{})
	m.pingStop = stop

	go func() {
		ticker := time.NewTicker(PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.transport.Ping(); err != nil {
					m.logger.Warn("ping failed", zap.Error(err))
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
}

// setStateLocked transitions the observable state and queues a consumer
// notification. Caller holds m.mu.
func (m *Manager) setStateLocked(s State, errMsg string) {
	if m.state == s && m.errMsg == errMsg {
		return
	}
	m.state = s
	m.errMsg = errMsg
	if m.onState == nil {
		return
	}

	m.notifyMu.Lock()
	m.notifyQueue = append(m.notifyQueue, stateNotification{state: s, errMsg: errMsg})
	start := !m.notifying
	m.notifying = true
	m.notifyMu.Unlock()

	if start {
		go m.drainNotifications()
	}
}

// drainNotifications delivers queued state changes to the consumer one at a
// time, preserving transition order. The callback runs without any manager
// lock held, so it may call back into the Manager.
func (m *Manager) drainNotifications() {
	for {
		m.notifyMu.Lock()
		if len(m.notifyQueue) == 0 {
			m.notifying = false
			m.notifyMu.Unlock()
			return
		}
		n := m.notifyQueue[0]
		m.notifyQueue = m.notifyQueue[1:]
		m.notifyMu.Unlock()

		m.onState(n.state, n.errMsg)
	}
}
