package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/updownbot/pkg/util"
)

func TestBackoff(t *testing.T) {
	base, max := time.Second, 30*time.Second
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := Backoff(i, base, max); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}
	if got := Backoff(100, base, max); got != max {
		t.Errorf("Backoff(100) = %v, want cap", got)
	}
	if got := Backoff(-1, base, max); got != base {
		t.Errorf("Backoff(-1) = %v, want base", got)
	}
}

type feed struct {
	mu       sync.Mutex
	received []string
	conns    int
	onConn   func(n int, conn *websocket.Conn)
}

func (f *feed) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conns++
		n := f.conns
		f.mu.Unlock()

		if f.onConn != nil {
			f.onConn(n, conn)
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, string(data))
			f.mu.Unlock()
		}
	}
}

func (f *feed) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *feed) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func testConfig(url string) Config {
	return Config{
		URL:           url,
		PingInterval:  time.Hour,
		AutoReconnect: true,
		MaxAttempts:   5,
		BaseDelay:     5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
	}
}

func TestConnectSubscribeAndDeliver(t *testing.T) {
	f := &feed{onConn: func(n int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trades"}`))
		conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"activity","type":"trades","payload":{"asset":"A1"}}`))
	}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := NewClient(testConfig(wsURL(srv)), util.RealClock{}, zaptest.NewLogger(t).Sugar())

	var (
		mu       sync.Mutex
		msgs     []Message
		statuses []Status
	)
	c.OnStatusChange = func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}
	c.OnMessage = func(m Message) {
		mu.Lock()
		msgs = append(msgs, m)
		mu.Unlock()
	}
	c.OnConnect = func() {
		if err := c.Subscribe(Subscription{Topic: "activity", Type: "trades"}); err != nil {
			t.Errorf("subscribe: %v", err)
		}
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	eventually(t, func() bool { return len(f.got()) == 1 }, "subscribe envelope")
	var req request
	if err := json.Unmarshal([]byte(f.got()[0]), &req); err != nil {
		t.Fatal(err)
	}
	if req.Action != "subscribe" || len(req.Subscriptions) != 1 || req.Subscriptions[0].Topic != "activity" {
		t.Errorf("unexpected envelope %+v", req)
	}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 1
	}, "payload message")

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(msgs) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(msgs))
	}
	if string(msgs[0].Payload) != `{"asset":"A1"}` {
		t.Errorf("payload = %s", msgs[0].Payload)
	}
	if len(statuses) < 2 || statuses[0] != StatusConnecting || statuses[1] != StatusConnected {
		t.Errorf("statuses = %v", statuses)
	}
	if c.Status() != StatusConnected {
		t.Errorf("status = %s", c.Status())
	}
}

func TestReconnectResetsAttempts(t *testing.T) {
	f := &feed{onConn: func(n int, conn *websocket.Conn) {
		if n == 1 {
			conn.Close()
		}
	}}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := NewClient(testConfig(wsURL(srv)), util.RealClock{}, zap.NewNop().Sugar())
	var connects atomic.Int32
	c.OnConnect = func() { connects.Add(1) }

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	eventually(t, func() bool { return connects.Load() == 2 }, "reconnect")
	eventually(t, func() bool { return c.Status() == StatusConnected }, "connected")
	if c.Attempts() != 0 {
		t.Errorf("attempts = %d after reconnect, want 0", c.Attempts())
	}
	if c.NextDelay() != 5*time.Millisecond {
		t.Errorf("next delay = %v, want base", c.NextDelay())
	}
}

func TestReconnectExhausted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	cfg := testConfig(url)
	cfg.MaxAttempts = 2
	c := NewClient(cfg, util.RealClock{}, zap.NewNop().Sugar())

	fatal := make(chan int, 1)
	c.OnFatal = func(attempts int) { fatal <- attempts }

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}

	select {
	case n := <-fatal:
		if n != 2 {
			t.Errorf("gave up after %d attempts, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect never exhausted")
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("status = %s, want DISCONNECTED", c.Status())
	}
}

func TestDisconnectStopsReconnect(t *testing.T) {
	f := &feed{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := NewClient(testConfig(wsURL(srv)), util.RealClock{}, zap.NewNop().Sugar())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Disconnect()

	if c.Status() != StatusStopped {
		t.Errorf("status = %s, want STOPPED", c.Status())
	}
	if err := c.Subscribe(Subscription{Topic: "activity"}); err != ErrNotConnected {
		t.Errorf("subscribe after stop = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := f.connections(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
	if c.Status() != StatusStopped {
		t.Errorf("status changed to %s after stop", c.Status())
	}
}

func TestDisconnectDuringDialStaysStopped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewClient(testConfig(wsURL(srv)), util.RealClock{}, zap.NewNop().Sugar())
	var (
		mu   sync.Mutex
		last Status
	)
	c.OnStatusChange = func(s Status) {
		mu.Lock()
		last = s
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	<-entered
	if got := c.Status(); got != StatusConnecting {
		t.Errorf("status while dialing = %s, want CONNECTING", got)
	}
	c.Disconnect()
	close(release)

	if err := <-done; err != ErrStopped {
		t.Errorf("Connect = %v, want ErrStopped", err)
	}
	if got := c.Status(); got != StatusStopped {
		t.Errorf("status = %s, want STOPPED", got)
	}

	// A late drop report must not move the client out of STOPPED
	c.setStatus(StatusDisconnected)
	if got := c.Status(); got != StatusStopped {
		t.Errorf("status after drop = %s, want STOPPED", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if last != StatusStopped {
		t.Errorf("last status change = %s, want STOPPED", last)
	}
}

func TestHeartbeat(t *testing.T) {
	f := &feed{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cfg := testConfig(wsURL(srv))
	cfg.PingInterval = 10 * time.Millisecond
	c := NewClient(cfg, util.RealClock{}, zap.NewNop().Sugar())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	eventually(t, func() bool {
		for _, m := range f.got() {
			if m == "ping" {
				return true
			}
		}
		return false
	}, "heartbeat ping")
}

func TestHeartbeatNoopWhenDisconnected(t *testing.T) {
	c := NewClient(testConfig("ws://127.0.0.1:1"), util.RealClock{}, zap.NewNop().Sugar())
	c.ping()
	if c.Status() != StatusDisconnected {
		t.Errorf("status = %s", c.Status())
	}
}
