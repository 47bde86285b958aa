// Package api implements the client for the real-time chat-reader gateway.
// The gateway relays live-status and chat/gift events for TikTok hosts over
// a persistent websocket; we speak JSON event frames and treat the protocol
// itself as opaque.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Frame is one gateway message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Handler receives the raw payload of a named inbound signal.
type Handler func(data json.RawMessage)

// Options tunes one gateway channel. Zero values get sane defaults.
type Options struct {
	ConnectTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	// EmitInterval paces outbound subscribe requests to stay under the
	// upstream connection quota.
	EmitInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 8 * time.Second
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 1500 * time.Millisecond
	}
	if o.ReconnectDelayMax <= 0 {
		o.ReconnectDelayMax = 8 * time.Second
	}
	if o.EmitInterval <= 0 {
		o.EmitInterval = 200 * time.Millisecond
	}
	return o
}

// Client is one logical channel to the gateway. The watcher keeps two:
// "status" for live checks and "tracking" for join/gift events. Connections
// are lazy and kept alive across requests.
type Client struct {
	label   string
	url     string
	opts    Options
	limiter *rate.Limiter

	// OnError is called with non-fatal connection errors (logged to the
	// history by the watcher).
	OnError func(err error)

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closed       bool
	reconnecting bool
	pending      *connectAttempt
	handlers     map[string][]Handler
	waiters      map[int64]*waiter
	nextWaiterID int64

	writeMu sync.Mutex
}

type connectAttempt struct {
	done chan struct{}
	ok   bool
}

type waiter struct {
	events map[string]bool
	ch     chan Frame
}

// NewClient creates a disconnected channel; the first EnsureConnected or
// CheckLive dials it.
func NewClient(label, url string, opts Options) *Client {
	o := opts.withDefaults()
	return &Client{
		label:    label,
		url:      url,
		opts:     o,
		limiter:  rate.NewLimiter(rate.Every(o.EmitInterval), 1),
		handlers: make(map[string][]Handler),
		waiters:  make(map[int64]*waiter),
	}
}

// On registers a persistent handler for a named inbound signal.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Connected reports whether the channel currently has a live socket.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// EnsureConnected returns true once the channel is connected, dialing if
// needed. Concurrent callers while a dial is in flight share its outcome
// instead of issuing a second connect.
func (c *Client) EnsureConnected(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.connected {
		c.mu.Unlock()
		return true
	}
	if p := c.pending; p != nil {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.ok
		case <-ctx.Done():
			return false
		}
	}
	p := &connectAttempt{done: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	p.ok = c.dial()

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	close(p.done)
	return p.ok
}

func (c *Client) dial() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.reportError(err)
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	log.Printf("[%s] gateway connected", c.label)
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[f.Event]...)
	var targets []*waiter
	for _, w := range c.waiters {
		if w.events[f.Event] {
			targets = append(targets, w)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(f.Data)
	}
	for _, w := range targets {
		select {
		case w.ch <- f:
		default:
		}
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closed := c.closed
	alreadyReconnecting := c.reconnecting
	if !closed && !alreadyReconnecting {
		c.reconnecting = true
	}
	c.mu.Unlock()

	if closed {
		return
	}
	c.reportError(err)
	if !alreadyReconnecting {
		go c.reconnectLoop()
	}
}

// reconnectLoop runs the socket's own recovery policy: bounded attempts
// with a capped growing delay, independent of any in-flight request.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	delay := c.opts.ReconnectDelay
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if c.closed || c.connected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if c.dial() {
			return
		}

		delay = delay * 3 / 2
		if delay > c.opts.ReconnectDelayMax {
			delay = c.opts.ReconnectDelayMax
		}
	}
	log.Printf("[%s] gateway reconnect attempts exhausted", c.label)
}

// Emit sends a named event frame, pacing outbound requests.
func (c *Client) Emit(ctx context.Context, event string, data interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return errors.New("gateway not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(outFrame{Event: event, Data: data})
}

// SubscribeUser asks the gateway to relay events for one host account.
func (c *Client) SubscribeUser(ctx context.Context, username string) error {
	return c.Emit(ctx, "setUniqueId", map[string]interface{}{
		"uniqueId":               username,
		"enableExtendedGiftInfo": true,
	})
}

// awaitAny registers a transient listener for a set of events. The
// returned cancel is idempotent; callers must invoke it on every exit path
// so handlers never leak across requests on the long-lived socket.
func (c *Client) awaitAny(events ...string) (<-chan Frame, func()) {
	w := &waiter{events: make(map[string]bool, len(events)), ch: make(chan Frame, 1)}
	for _, e := range events {
		w.events[e] = true
	}

	c.mu.Lock()
	c.nextWaiterID++
	id := c.nextWaiterID
	c.waiters[id] = w
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.waiters, id)
			c.mu.Unlock()
		})
	}
	return w.ch, cancel
}

func (c *Client) reportError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	} else {
		log.Printf("[%s] gateway error: %v", c.label, err)
	}
}

// Close tears the channel down for good; no reconnects follow.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
