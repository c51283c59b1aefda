package okx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrSubscribe = errors.New("websocket subscribe failed")

const writeTimeout = 5 * time.Second

// ConnectError is returned when the feed endpoint cannot be reached.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Conn is the subset of *websocket.Conn the client needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a new connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Sink receives the trades of every trade frame, in arrival order.
type Sink interface {
	Dispatch(symbol string, trades []TradeEntry) int
}

// State is the connection lifecycle position of a WSClient.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Options configure a WSClient. Zero values fall back to defaults.
type Options struct {
	RequestID        string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration

	// Dial replaces the gorilla dialer, mainly for tests.
	Dial DialFunc
}

func (o Options) withDefaults() Options {
	if o.RequestID == "" {
		o.RequestID = "5323"
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.Dial == nil {
		o.Dial = gorillaDial(o.HandshakeTimeout)
	}
	return o
}

func gorillaDial(handshakeTimeout time.Duration) DialFunc {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// WSClient owns the single feed connection: connect, subscribe, stream, and
// reconnect after a fixed delay on any failure.
type WSClient struct {
	url     string
	symbols []string
	sink    Sink
	opts    Options
	logger  *zap.Logger

	state      atomic.Int32
	subscribes atomic.Int64
	frames     atomic.Int64
}

// NewWSClient creates a client subscribing to the trades of symbols.
func NewWSClient(url string, symbols []string, sink Sink, logger *zap.Logger, opts Options) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	syms := make([]string, len(symbols))
	copy(syms, symbols)

	return &WSClient{
		url:     url,
		symbols: syms,
		sink:    sink,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// State returns the current lifecycle state.
func (c *WSClient) State() State { return State(c.state.Load()) }

// Subscribes returns how many subscribe requests have been sent.
func (c *WSClient) Subscribes() int64 { return c.subscribes.Load() }

// Frames returns how many frames have been received across all connections.
func (c *WSClient) Frames() int64 { return c.frames.Load() }

// Run keeps the feed connected until ctx is cancelled. Feed errors never end it;
// the returned error is always ctx.Err() or an unusable symbol set.
func (c *WSClient) Run(ctx context.Context) error {
	payload, err := EncodeSubscribe(c.opts.RequestID, c.symbols)
	if err != nil {
		return err
	}

	for {
		err := c.session(ctx, payload)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("feed connection lost, reconnecting",
			zap.String("url", c.url),
			zap.Duration("delay", c.opts.ReconnectDelay),
			zap.Error(err),
		)

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to failure. The connection is never reused.
func (c *WSClient) session(ctx context.Context, payload []byte) error {
	log := c.logger.With(zap.String("session", uuid.NewString()))

	c.setState(StateConnecting)
	log.Info("connecting to feed", zap.String("url", c.url))

	conn, err := c.opts.Dial(ctx, c.url)
	if err != nil {
		return &ConnectError{URL: c.url, Err: err}
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.write(conn, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	c.subscribes.Add(1)
	c.setState(StateSubscribed)
	log.Info("subscribe sent", zap.Strings("symbols", c.symbols))

	// no ack is awaited before streaming
	c.setState(StateStreaming)

	pingCtx, cancelPing := context.WithCancel(ctx)
	pingErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepalive(pingCtx, conn, pingErr)
	}()
	defer func() {
		cancelPing()
		wg.Wait()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case perr := <-pingErr:
				return perr
			default:
			}
			return fmt.Errorf("read frame: %w", err)
		}
		c.frames.Add(1)

		frame, err := DecodeFrame(msg)
		if err != nil {
			return err
		}
		c.handle(log, frame)
	}
}

// keepalive sends the text "ping" the public endpoint expects on idle connections.
// On write failure it closes conn so the read loop fails too.
func (c *WSClient) keepalive(ctx context.Context, conn Conn, errCh chan<- error) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, []byte("ping")); err != nil {
				errCh <- fmt.Errorf("keepalive ping: %w", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *WSClient) write(conn Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSClient) handle(log *zap.Logger, frame Frame) {
	if frame.Kind == FrameTrade {
		n := c.sink.Dispatch(frame.Symbol, frame.Trades)
		log.Debug("trade frame dispatched",
			zap.String("symbol", frame.Symbol),
			zap.Int("trades", len(frame.Trades)),
			zap.Int("written", n),
		)
		return
	}

	switch frame.Event {
	case "subscribe":
		log.Info("subscription acknowledged",
			zap.String("channel", frame.Channel),
			zap.String("symbol", frame.Symbol),
		)
	case "error":
		log.Warn("feed reported error",
			zap.String("code", frame.Code),
			zap.String("msg", frame.Message),
		)
	default:
		log.Debug("ignoring frame", zap.String("event", frame.Event), zap.String("channel", frame.Channel))
	}
}

func (c *WSClient) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("feed state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}
