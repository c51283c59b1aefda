package okx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeConn replays queued frames; closing frames simulates a dropped connection.
type fakeConn struct {
	frames chan []byte

	mu     sync.Mutex
	writes []string

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{
		frames: make(chan []byte, len(frames)+1),
		closed: make(chan struct{}),
	}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func (c *fakeConn) drop() { close(c.frames) }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-c.frames:
		if !ok {
			return 0, nil, errors.New("connection reset by peer")
		}
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// scriptedDialer hands out results in order and blocks once the script runs out.
type scriptedDialer struct {
	mu      sync.Mutex
	script  []any // *fakeConn or error
	attempt int
}

func (d *scriptedDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	if d.attempt >= len(d.script) {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := d.script[d.attempt]
	d.attempt++
	d.mu.Unlock()

	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*fakeConn), nil
}

func (d *scriptedDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempt
}

type recordingSink struct {
	mu     sync.Mutex
	trades []string
	notify chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (s *recordingSink) Dispatch(symbol string, trades []TradeEntry) int {
	s.mu.Lock()
	for _, t := range trades {
		s.trades = append(s.trades, symbol+"/"+t.TradeID)
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return len(trades)
}

func (s *recordingSink) Trades() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.trades...)
}

func (s *recordingSink) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for len(s.Trades()) < n {
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d trades, got %v", n, s.Trades())
		}
	}
}

func tradeFrame(symbol, id string) string {
	return fmt.Sprintf(`{"arg":{"channel":"trades","instId":%q},"data":[{"tradeId":%q,"ts":"1700000000000","px":"1.5","sz":"2"}]}`,
		symbol, id)
}

func runClient(t *testing.T, c *WSClient) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func fastOptions(dial DialFunc) Options {
	return Options{
		ReconnectDelay: 10 * time.Millisecond,
		PingInterval:   time.Hour,
		ReadTimeout:    2 * time.Hour,
		Dial:           dial,
	}
}

// go test -v --run TestReconnectSubscribesOncePerConnection
func TestReconnectSubscribesOncePerConnection(t *testing.T) {
	first := newFakeConn(
		`{"event":"subscribe","arg":{"channel":"trades","instId":"BTC-USDT"},"connId":"1"}`,
		tradeFrame("BTC-USDT", "1"),
		tradeFrame("ETH-USDT", "2"),
	)
	first.drop()
	second := newFakeConn(tradeFrame("BTC-USDT", "3"))

	dialer := &scriptedDialer{script: []any{errors.New("dial tcp: connection refused"), first, second}}
	sink := newRecordingSink()
	symbols := []string{"BTC-USDT", "ETH-USDT"}
	client := NewWSClient("wss://example.invalid/ws", symbols, sink, zaptest.NewLogger(t), fastOptions(dialer.Dial))

	stop := runClient(t, client)
	sink.waitFor(t, 3)
	assert.Equal(t, StateStreaming, client.State())
	require.ErrorIs(t, stop(), context.Canceled)

	want, err := EncodeSubscribe("5323", symbols)
	require.NoError(t, err)

	assert.Equal(t, 3, dialer.Attempts())
	assert.Equal(t, int64(2), client.Subscribes())
	assert.Equal(t, []string{string(want)}, first.Writes())
	assert.Equal(t, []string{string(want)}, second.Writes())
	assert.Equal(t, []string{"BTC-USDT/1", "ETH-USDT/2", "BTC-USDT/3"}, sink.Trades())
	assert.Equal(t, StateDisconnected, client.State())
}

// go test -v --run TestDecodeErrorForcesReconnect
func TestDecodeErrorForcesReconnect(t *testing.T) {
	first := newFakeConn(tradeFrame("BTC-USDT", "1"), `{"arg":{"channel":"trades"`, tradeFrame("BTC-USDT", "lost"))
	second := newFakeConn(tradeFrame("BTC-USDT", "2"))

	dialer := &scriptedDialer{script: []any{first, second}}
	sink := newRecordingSink()
	client := NewWSClient("wss://example.invalid/ws", []string{"BTC-USDT"}, sink, zaptest.NewLogger(t), fastOptions(dialer.Dial))

	stop := runClient(t, client)
	sink.waitFor(t, 2)
	require.ErrorIs(t, stop(), context.Canceled)

	// the frame queued behind the corrupt one belongs to the torn-down connection
	assert.Equal(t, []string{"BTC-USDT/1", "BTC-USDT/2"}, sink.Trades())
	assert.Equal(t, int64(2), client.Subscribes())
}

// go test -v --run TestIrrelevantFramesKeepConnection
func TestIrrelevantFramesKeepConnection(t *testing.T) {
	conn := newFakeConn(
		tradeFrame("BTC-USDT", "1"),
		`[1,2,3]`,
		`{"event":"error","code":60012,"msg":"Invalid request"}`,
		`{"arg":"status"}`,
		tradeFrame("BTC-USDT", "2"),
	)
	dialer := &scriptedDialer{script: []any{conn}}
	sink := newRecordingSink()
	client := NewWSClient("wss://example.invalid/ws", []string{"BTC-USDT"}, sink, zaptest.NewLogger(t), fastOptions(dialer.Dial))

	stop := runClient(t, client)
	sink.waitFor(t, 2)
	require.ErrorIs(t, stop(), context.Canceled)

	assert.Equal(t, []string{"BTC-USDT/1", "BTC-USDT/2"}, sink.Trades())
	assert.Equal(t, int64(1), client.Subscribes())
}

// go test -v --run TestKeepalivePing
func TestKeepalivePing(t *testing.T) {
	conn := newFakeConn()
	dialer := &scriptedDialer{script: []any{conn}}
	opts := fastOptions(dialer.Dial)
	opts.PingInterval = 5 * time.Millisecond
	client := NewWSClient("wss://example.invalid/ws", []string{"BTC-USDT"}, newRecordingSink(), zaptest.NewLogger(t), opts)

	stop := runClient(t, client)
	require.Eventually(t, func() bool {
		return len(conn.Writes()) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)

	writes := conn.Writes()
	assert.True(t, strings.HasPrefix(writes[0], `{"id":"5323"`))
	for _, w := range writes[1:] {
		assert.Equal(t, "ping", w)
	}
}

// go test -v --run TestRunStopsDuringReconnectDelay
func TestRunStopsDuringReconnectDelay(t *testing.T) {
	dialer := &scriptedDialer{script: []any{errors.New("refused")}}
	opts := fastOptions(dialer.Dial)
	opts.ReconnectDelay = time.Hour
	client := NewWSClient("wss://example.invalid/ws", []string{"BTC-USDT"}, newRecordingSink(), zaptest.NewLogger(t), opts)

	stop := runClient(t, client)
	require.Eventually(t, func() bool { return dialer.Attempts() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)
	assert.Equal(t, int64(0), client.Subscribes())
}

// go test -v --run TestRunRejectsEmptySymbols
func TestRunRejectsEmptySymbols(t *testing.T) {
	client := NewWSClient("wss://example.invalid/ws", nil, newRecordingSink(), nil, Options{})
	err := client.Run(context.Background())
	assert.Error(t, err)
}

// go test -v --run TestWSClientAgainstServer
func TestWSClientAgainstServer(t *testing.T) {
	var (
		connections atomic.Int32
		subMu       sync.Mutex
		subs        []string
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subMu.Lock()
		subs = append(subs, string(msg))
		subMu.Unlock()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"trades","instId":"BTC-USDT"},"connId":"x"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(tradeFrame("BTC-USDT", fmt.Sprint(n))))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	defer srv.Close()

	sink := newRecordingSink()
	opts := fastOptions(nil)
	client := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTC-USDT"}, sink, zaptest.NewLogger(t), opts)

	stop := runClient(t, client)
	sink.waitFor(t, 2)
	require.ErrorIs(t, stop(), context.Canceled)

	trades := sink.Trades()
	assert.Equal(t, []string{"BTC-USDT/1", "BTC-USDT/2"}, trades[:2])

	subMu.Lock()
	defer subMu.Unlock()
	require.GreaterOrEqual(t, len(subs), 2)
	for _, s := range subs {
		assert.JSONEq(t, `{"id":"5323","op":"subscribe","args":[{"channel":"trades","instId":"BTC-USDT"}]}`, s)
	}
}
