// Package ingest owns the push channel to the scheduler's web server.
//
// Every inbound frame is decoded into a telemetry.Snapshot and written to the
// Store. Nothing else is shared with the render side.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"cocoview/internal/eventbus"
	"cocoview/internal/telemetry"
	logx "cocoview/pkg/logx"
)

var (
	// ErrTransportUnavailable means the channel can never open (bad URL or scheme).
	// It is terminal for the session.
	ErrTransportUnavailable = errors.New("ingest: transport unavailable")
	// ErrClosed is returned by Run after the peer went away.
	ErrClosed = errors.New("ingest: channel closed")
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	defaultReadLimit        = 8 << 20
)

type Config struct {
	URL              string
	HandshakeTimeout time.Duration
	// ReadTimeout drops a peer that sends nothing (no message, no ping) for this long.
	// Zero disables it.
	ReadTimeout time.Duration
	// ReadLimit caps one message; larger frames close the connection.
	ReadLimit int64
}

type ConnectionState int32

const (
	Connecting ConnectionState = iota
	Open
	Closed
	Errored
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StateChange is published on eventbus.TopicConnection.
type StateChange struct {
	State ConnectionState
	URL   string
	Err   error
}

type Counters struct {
	Opens    uint64 `json:"opens"`
	Received uint64 `json:"received"`
	Decoded  uint64 `json:"decoded"`
	Dropped  uint64 `json:"dropped"`
}

type Channel struct {
	cfg    Config
	url    string
	store  *telemetry.Store
	log    logx.Logger
	bus    eventbus.Bus
	dialer *websocket.Dialer

	state atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn

	opens    atomic.Uint64
	received atomic.Uint64
	decoded  atomic.Uint64
	dropped  atomic.Uint64

	dropLog    *rate.Limiter
	suppressed atomic.Uint64
}

// New validates cfg.URL and prepares a channel. It does not dial.
// http(s) URLs are mapped to ws(s); an empty path becomes "/".
func New(cfg Config, store *telemetry.Store, log logx.Logger, bus eventbus.Bus) (*Channel, error) {
	u, err := PushURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("ingest: nil store")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ReadTimeout < 0 {
		cfg.ReadTimeout = 0
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	c := &Channel{
		cfg:   cfg,
		url:   u,
		store: store,
		log:   log,
		bus:   bus,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		dropLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	c.state.Store(int32(Connecting))
	return c, nil
}

// PushURL derives the WebSocket URL of the push channel from a server URL.
func PushURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty server url", ErrTransportUnavailable)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "ws"
	case "wss", "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrTransportUnavailable, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrTransportUnavailable, raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	return u.String(), nil
}

func (c *Channel) URL() string { return c.url }

func (c *Channel) State() ConnectionState { return ConnectionState(c.state.Load()) }

func (c *Channel) Counters() Counters {
	return Counters{
		Opens:    c.opens.Load(),
		Received: c.received.Load(),
		Decoded:  c.decoded.Load(),
		Dropped:  c.dropped.Load(),
	}
}

func (c *Channel) setState(s ConnectionState, err error) {
	if prev := ConnectionState(c.state.Swap(int32(s))); prev == s && err == nil {
		return
	}
	fields := []logx.Field{logx.String("state", s.String()), logx.String("url", c.url)}
	if err != nil {
		fields = append(fields, logx.Err(err))
	}
	if s == Errored {
		c.log.Warn("push channel state", fields...)
	} else {
		c.log.Info("push channel state", fields...)
	}
	c.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicConnection,
		Data:  StateChange{State: s, URL: c.url, Err: err},
	})
}

// Open dials the push channel. On failure the state is Errored.
func (c *Channel) Open(ctx context.Context) (ConnectionState, error) {
	c.setState(Connecting, nil)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(dctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("ingest: dial %s: %w (http %d)", c.url, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("ingest: dial %s: %w", c.url, err)
		}
		c.setState(Errored, err)
		return Errored, err
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.opens.Add(1)
	c.setState(Open, nil)
	return Open, nil
}

// Run reads frames until the peer goes away or ctx is done. It dials first
// when the channel is not open. After a remote close Run returns ErrClosed;
// the Store keeps the last Snapshot.
func (c *Channel) Run(ctx context.Context) error {
	conn := c.current()
	if conn == nil || c.State() != Open {
		if _, err := c.Open(ctx); err != nil {
			return err
		}
		conn = c.current()
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.armDeadline(conn)
	conn.SetPingHandler(func(data string) error {
		c.armDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.armDeadline(conn)
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.detach(conn)
			if ctx.Err() != nil {
				c.setState(Closed, nil)
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setState(Closed, nil)
			} else {
				c.setState(Closed, err)
			}
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		c.armDeadline(conn)
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		c.handle(data)
	}
}

func (c *Channel) handle(data []byte) {
	c.received.Add(1)
	snap, err := telemetry.Decode(data)
	if err != nil {
		c.dropped.Add(1)
		if !c.dropLog.Allow() {
			c.suppressed.Add(1)
			return
		}
		c.log.Warn("dropping malformed push message", logx.Err(err), logx.Uint64("suppressed", c.suppressed.Swap(0)))
		return
	}
	c.decoded.Add(1)
	c.store.Replace(snap)
}

func (c *Channel) armDeadline(conn *websocket.Conn) {
	if c.cfg.ReadTimeout <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
}

func (c *Channel) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// Close closes the connection if one is open. Run then returns.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}
