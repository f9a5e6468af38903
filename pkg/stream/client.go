package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/updownbot/pkg/util"
)

var (
	ErrNotConnected = errors.New("stream not connected")
	ErrStopped      = errors.New("stream stopped")
)

// Status of the feed connection
type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusStopped      Status = "STOPPED" // only via Disconnect
)

const writeWait = 5 * time.Second

type Config struct {
	URL           string
	PingInterval  time.Duration
	AutoReconnect bool
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Subscription is one entry of the subscribe envelope
type Subscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

type request struct {
	Action        string         `json:"action"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Message is an inbound feed frame. Only frames with a payload are delivered.
type Message struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Backoff returns min(base * 2^attempt, max)
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Client keeps a websocket to the activity feed alive.
//
// Subscriptions are not remembered: callers re-issue them from OnConnect,
// which runs after every successful (re)connect.
type Client struct {
	cfg    Config
	clock  util.Clock
	logger *zap.SugaredLogger
	dialer *websocket.Dialer

	OnConnect      func()
	OnMessage      func(Message)
	OnStatusChange func(Status)
	OnFatal        func(attempts int)

	mu            sync.Mutex
	conn          *websocket.Conn
	gen           uint64 // bumped on every Connect/Disconnect
	status        Status
	attempts      int
	autoReconnect bool
	timer         util.Timer
	pingStop      chan struct{}

	writeMu sync.Mutex
}

func NewClient(cfg Config, clock util.Clock, logger *zap.SugaredLogger) *Client {
	if clock == nil {
		clock = util.RealClock{}
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		status: StatusDisconnected,
	}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts is the number of reconnects scheduled since the last CONNECTED
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// NextDelay is the delay the next scheduled reconnect would use
func (c *Client) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Backoff(c.attempts, c.cfg.BaseDelay, c.cfg.MaxDelay)
}

// Connect tears down any existing connection and dials the feed.
// A dial failure is handled like a drop: it may schedule a retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.autoReconnect = c.cfg.AutoReconnect
	changed := c.status != StatusConnecting
	c.status = StatusConnecting
	c.mu.Unlock()
	if changed && c.OnStatusChange != nil {
		c.OnStatusChange(StatusConnecting)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.handleDrop(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.gen || c.status == StatusStopped {
		c.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	c.conn = conn
	c.attempts = 0
	c.status = StatusConnected
	stop := make(chan struct{})
	c.pingStop = stop
	c.mu.Unlock()

	if c.OnStatusChange != nil {
		c.OnStatusChange(StatusConnected)
	}
	c.logger.Infow("stream_connected", "url", c.cfg.URL)

	go c.heartbeat(stop)
	go c.readLoop(gen, conn)

	if c.OnConnect != nil {
		c.OnConnect()
	}
	return nil
}

// Disconnect stops the client. Heartbeat and any pending reconnect are
// cancelled before it returns.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.autoReconnect = false
	c.teardownLocked()
	changed := c.status != StatusStopped
	c.status = StatusStopped
	c.mu.Unlock()

	if changed && c.OnStatusChange != nil {
		c.OnStatusChange(StatusStopped)
	}
	c.logger.Infow("stream_stopped")
}

func (c *Client) Subscribe(subs ...Subscription) error {
	return c.send(request{Action: "subscribe", Subscriptions: subs})
}

func (c *Client) Unsubscribe(subs ...Subscription) error {
	return c.send(request{Action: "unsubscribe", Subscriptions: subs})
}

func (c *Client) send(req request) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

// teardownLocked closes the connection and cancels timers. Caller holds mu.
func (c *Client) teardownLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// setStatus records a drop. STOPPED is only left through Connect.
func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == StatusStopped {
		c.mu.Unlock()
		return
	}
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	if changed && c.OnStatusChange != nil {
		c.OnStatusChange(s)
	}
}

// handleDrop moves to DISCONNECTED and schedules a reconnect if allowed.
// Drops from a superseded connection are ignored.
func (c *Client) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.status == StatusStopped {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()

	if !c.autoReconnect {
		c.mu.Unlock()
		c.setStatus(StatusDisconnected)
		c.logger.Warnw("stream_disconnected", "err", cause, "auto_reconnect", false)
		return
	}

	if c.attempts >= c.cfg.MaxAttempts {
		c.autoReconnect = false
		attempts := c.attempts
		c.mu.Unlock()
		c.setStatus(StatusDisconnected)
		c.logger.Errorw("reconnect_exhausted",
			"url", c.cfg.URL,
			"attempts", attempts,
			"err", cause)
		if c.OnFatal != nil {
			c.OnFatal(attempts)
		}
		return
	}

	delay := Backoff(c.attempts, c.cfg.BaseDelay, c.cfg.MaxDelay)
	c.attempts++
	attempt := c.attempts
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.setStatus(StatusDisconnected)
	c.logger.Warnw("stream_disconnected",
		"err", cause,
		"attempt", attempt,
		"retry_in", delay)
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	stale := gen != c.gen || c.status == StatusStopped
	c.mu.Unlock()
	if stale {
		return
	}
	// Errors are handled by Connect scheduling the next attempt.
	_ = c.Connect(context.Background())
}

func (c *Client) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.ping()
		}
	}
}

func (c *Client) ping() {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if conn == nil || !connected {
		c.logger.Debugw("heartbeat_skipped", "status", c.Status())
		return
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debugw("heartbeat_failed", "err", err)
	}
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.EqualFold(data, []byte("pong")) {
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warnw("message_dropped", "reason", "invalid_json", "err", err, "bytes", len(data))
		return
	}
	if len(msg.Payload) == 0 || bytes.Equal(msg.Payload, []byte("null")) {
		c.logger.Debugw("message_dropped", "reason", "no_payload", "type", msg.Type)
		return
	}

	if c.OnMessage != nil {
		c.OnMessage(msg)
	}
}
