package stream

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"klinewatch/internal/candle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransport records every operation and lets tests fail a number of dials
// and inject inbound events.
type fakeTransport struct {
	mu        sync.Mutex
	events    Events
	ops       []string
	dialsLeft int           // number of dials that fail before one succeeds; -1 fails forever
	subDelay  time.Duration // artificial latency applied before each subscribe completes
}

func (f *fakeTransport) SetEvents(ev Events) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = ev
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "dial")
	if f.dialsLeft != 0 {
		if f.dialsLeft > 0 {
			f.dialsLeft--
		}
		return assert.AnError
	}
	return nil
}

func (f *fakeTransport) Subscribe(t Topic) error {
	f.mu.Lock()
	delay := f.subDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "subscribe "+t.String())
	return nil
}

func (f *fakeTransport) Unsubscribe(t Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "unsubscribe "+t.String())
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "ping")
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "close")
	return nil
}

func (f *fakeTransport) opList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.ops))
	copy(cp, f.ops)
	return cp
}

func (f *fakeTransport) handlers() Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func countOps(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T, ft *fakeTransport, onTick func(Topic, candle.Candle)) *Manager {
	t.Helper()
	m := NewManager(ft, zap.NewNop(), onTick, nil)
	t.Cleanup(m.Close)
	return m
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, _ := m.State()
		return s == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s", want)
}

func TestConnectAppliesPendingTopic(t *testing.T) {
	ft := &fakeTransport{}
	m := newTestManager(t, ft, nil)

	// Topic recorded while disconnected produces no transport messages.
	m.SetTopic(Topic{Symbol: "BTCUSDT", Timeframe: "1"})
	assert.Empty(t, ft.opList())

	m.Connect()
	waitForState(t, m, StateConnected)

	require.Eventually(t, func() bool {
		return countOps(ft.opList(), "subscribe kline.1.BTCUSDT") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, countOps(ft.opList(), "unsubscribe kline.1.BTCUSDT"))
}

func TestTopicSwitchWhileConnected(t *testing.T) {
	ft := &fakeTransport{}
	m := newTestManager(t, ft, nil)

	m.SetTopic(Topic{Symbol: "BTCUSDT", Timeframe: "1"})
	m.Connect()
	waitForState(t, m, StateConnected)
	require.Eventually(t, func() bool {
		return countOps(ft.opList(), "subscribe kline.1.BTCUSDT") == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.SetTopic(Topic{Symbol: "ETHUSDT", Timeframe: "5"})

	ops := ft.opList()
	assert.Equal(t, 1, countOps(ops, "unsubscribe kline.1.BTCUSDT"))
	assert.Equal(t, 1, countOps(ops, "subscribe kline.5.ETHUSDT"))

	// Unsubscribe(old) precedes subscribe(new).
	var unsubIdx, subIdx int
	for i, op := range ops {
		switch op {
		case "unsubscribe kline.1.BTCUSDT":
			unsubIdx = i
		case "subscribe kline.5.ETHUSDT":
			subIdx = i
		}
	}
	assert.Less(t, unsubIdx, subIdx)
}

func TestBackoffDelaySchedule(t *testing.T) {
	m := &Manager{delays: reconnectDelays}

	want := []time.Duration{
		1 * time.Second,  // 1st reconnect
		2 * time.Second,  // 2nd
		5 * time.Second,  // 3rd
		10 * time.Second, // 4th
		30 * time.Second, // 5th
		30 * time.Second, // 6th: clamped to the last table entry
		30 * time.Second,
	}
	for attempts, expected := range want {
		assert.Equal(t, expected, m.delayAt(attempts), "attempt %d", attempts+1)
	}
}

func TestReconnectExhaustionIsTerminal(t *testing.T) {
	ft := &fakeTransport{dialsLeft: -1}
	m := newTestManager(t, ft, nil)
	m.delays = []time.Duration{time.Millisecond}

	m.Connect()
	waitForState(t, m, StateError)

	require.Eventually(t, func() bool {
		_, errMsg := m.State()
		return errMsg == "failed to reconnect after 10 attempts"
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, MaxReconnectAttempts, m.Attempts())

	// No further dials after the budget is exhausted.
	dials := countOps(ft.opList(), "dial")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, countOps(ft.opList(), "dial"))
	assert.Equal(t, MaxReconnectAttempts+1, dials) // initial connect + 10 reconnects
}

func TestSuccessfulConnectResetsAttempts(t *testing.T) {
	ft := &fakeTransport{dialsLeft: 2}
	m := newTestManager(t, ft, nil)
	m.delays = []time.Duration{time.Millisecond}

	m.Connect()
	waitForState(t, m, StateConnected)

	assert.Zero(t, m.Attempts())
	_, errMsg := m.State()
	assert.Empty(t, errMsg)
}

func TestTransportCloseTriggersReconnect(t *testing.T) {
	ft := &fakeTransport{}
	m := newTestManager(t, ft, nil)
	m.delays = []time.Duration{time.Millisecond}

	m.Connect()
	waitForState(t, m, StateConnected)

	ft.handlers().OnClose()

	require.Eventually(t, func() bool {
		return countOps(ft.opList(), "dial") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	waitForState(t, m, StateConnected)
}

func TestTicksForStaleTopicDropped(t *testing.T) {
	var mu sync.Mutex
	var received []candle.Candle
	onTick := func(_ Topic, c candle.Candle) {
		mu.Lock()
		received = append(received, c)
		mu.Unlock()
	}

	ft := &fakeTransport{}
	m := newTestManager(t, ft, onTick)

	active := Topic{Symbol: "BTCUSDT", Timeframe: "1"}
	m.SetTopic(active)
	m.Connect()
	waitForState(t, m, StateConnected)

	c := candle.Candle{Time: 100, Open: 1, High: 1, Low: 1, Close: 1}
	ft.handlers().OnTick(Topic{Symbol: "ETHUSDT", Timeframe: "1"}, c)
	ft.handlers().OnTick(active, c)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, int64(100), received[0].Time)
}

func TestStateNotificationsDeliveredInOrder(t *testing.T) {
	var mu sync.Mutex
	var states []State
	var msgs []string
	onState := func(s State, errMsg string) {
		mu.Lock()
		states = append(states, s)
		msgs = append(msgs, errMsg)
		mu.Unlock()
	}

	ft := &fakeTransport{dialsLeft: -1}
	m := NewManager(ft, zap.NewNop(), nil, onState)
	t.Cleanup(m.Close)
	m.delays = []time.Duration{time.Millisecond}

	m.Connect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) > 0 && msgs[len(msgs)-1] == "failed to reconnect after 10 attempts"
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	connecting := 0
	for _, s := range states {
		if s == StateConnecting {
			connecting++
		}
	}
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, MaxReconnectAttempts+1, connecting)

	// Every attempt's failure arrives before the next attempt's transition:
	// a connecting notification is always followed by its error.
	for i, s := range states[:len(states)-1] {
		if s == StateConnecting {
			assert.Equal(t, StateError, states[i+1], "notification %d out of order", i+1)
		}
	}
}

func TestTopicSwitchDuringConnectSubscribe(t *testing.T) {
	ft := &fakeTransport{subDelay: 30 * time.Millisecond}
	m := newTestManager(t, ft, nil)

	m.SetTopic(Topic{Symbol: "BTCUSDT", Timeframe: "1"})
	m.Connect()
	waitForState(t, m, StateConnected)

	// The post-connect subscribe may still be in flight; the switch must wait
	// for it and leave the transport on the new topic.
	m.SetTopic(Topic{Symbol: "ETHUSDT", Timeframe: "5"})

	require.Eventually(t, func() bool {
		return countOps(ft.opList(), "subscribe kline.5.ETHUSDT") >= 1
	}, 2*time.Second, 5*time.Millisecond)

	var lastSub string
	for _, op := range ft.opList() {
		if strings.HasPrefix(op, "subscribe ") {
			lastSub = op
		}
	}
	assert.Equal(t, "subscribe kline.5.ETHUSDT", lastSub)
}

func TestCloseCancelsScheduledReconnect(t *testing.T) {
	ft := &fakeTransport{dialsLeft: -1}
	m := newTestManager(t, ft, nil)
	m.delays = []time.Duration{50 * time.Millisecond}

	m.Connect()
	require.Eventually(t, func() bool {
		return countOps(ft.opList(), "dial") == 1
	}, 2*time.Second, 5*time.Millisecond)

	m.Close()

	state, _ := m.State()
	assert.Equal(t, StateDisconnected, state)

	// The scheduled reconnect never fires.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, countOps(ft.opList(), "dial"))
}
