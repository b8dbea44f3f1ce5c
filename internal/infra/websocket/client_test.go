package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cortex-x/go-cardlink-client/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

type handshake struct {
	authorization string
	token         string
	subprotocol   string
}

// echoServer upgrades every request with the cardlink subprotocol and
// echoes text frames back. closeAfterFirst makes it hang up after the first
// frame of each connection.
type echoServer struct {
	*httptest.Server

	closeAfterFirst bool

	mu         sync.Mutex
	handshakes []handshake
	received   []string
}

func newEchoServer(t *testing.T, closeAfterFirst bool) *echoServer {
	t.Helper()
	s := &echoServer{closeAfterFirst: closeAfterFirst}
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.handshakes = append(s.handshakes, handshake{
			authorization: r.Header.Get("Authorization"),
			token:         r.URL.Query().Get("token"),
			subprotocol:   conn.Subprotocol(),
		})
		s.mu.Unlock()

		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, string(data))
			s.mu.Unlock()
			if err := conn.WriteMessage(typ, data); err != nil {
				return
			}
			if s.closeAfterFirst {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *echoServer) Handshakes() []handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]handshake(nil), s.handshakes...)
}

func collector() (Handler, <-chan string) {
	ch := make(chan string, 16)
	return HandlerFunc(func(msg string) func() {
		return func() { ch <- msg }
	}), ch
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return ""
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientHandshake(t *testing.T) {
	testlog.Start(t)

	srv := newEchoServer(t, false)
	handler, frames := collector()
	c := NewClient(Options{URL: srv.wsURL(), TenantToken: "tenant-1", SessionID: "ws-1"}, NewMux(handler))
	defer c.Close(websocket.CloseNormalClosure, "done")

	if err := c.ConnectWithTimeout(context.Background(), time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Send(context.Background(), `["hello"]`); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := waitFor(t, frames); got != `["hello"]` {
		t.Fatalf("echo = %q", got)
	}

	hs := srv.Handshakes()
	if len(hs) != 1 {
		t.Fatalf("handshakes = %d", len(hs))
	}
	if hs[0].authorization != "Bearer tenant-1" || hs[0].token != "ws-1" || hs[0].subprotocol != Subprotocol {
		t.Fatalf("handshake = %+v", hs[0])
	}
}

func TestClientConnectIsIdempotent(t *testing.T) {
	testlog.Start(t)

	srv := newEchoServer(t, false)
	c := NewClient(Options{URL: srv.wsURL()}, nil)
	defer c.Close(websocket.CloseNormalClosure, "done")

	for i := 0; i < 3; i++ {
		if err := c.ConnectWithTimeout(context.Background(), time.Second); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}
	if n := len(srv.Handshakes()); n != 1 {
		t.Fatalf("handshakes = %d, want 1", n)
	}
	if hs := srv.Handshakes()[0]; hs.authorization != "" || hs.token != "" {
		t.Fatalf("no credentials configured, got %+v", hs)
	}
}

func TestClientReconnectsOnSendWithNewSessionID(t *testing.T) {
	testlog.Start(t)

	srv := newEchoServer(t, true)
	handler, frames := collector()
	c := NewClient(Options{URL: srv.wsURL(), SessionID: "first"}, NewMux(handler))
	defer c.Close(websocket.CloseNormalClosure, "done")

	if err := c.Send(context.Background(), "one"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, frames)
	eventually(t, func() bool { return !c.IsOpen() })

	c.SetSessionID("second")
	if err := c.Send(context.Background(), "two"); err != nil {
		t.Fatalf("send after close: %v", err)
	}
	if got := waitFor(t, frames); got != "two" {
		t.Fatalf("echo = %q", got)
	}

	hs := srv.Handshakes()
	if len(hs) != 2 || hs[0].token != "first" || hs[1].token != "second" {
		t.Fatalf("handshakes = %+v", hs)
	}
}

func TestClientSendWithoutReconnect(t *testing.T) {
	testlog.Start(t)

	c := NewClient(Options{URL: "ws://127.0.0.1:1/never"}, nil)
	err := c.SendWithOptions(context.Background(), "x", SendOptions{Reconnect: false})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)

	srv := newEchoServer(t, false)
	c := NewClient(Options{URL: srv.wsURL()}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Close(websocket.CloseNormalClosure, "Client stopped."); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.IsOpen() {
		t.Fatalf("client still open")
	}
	if err := c.Close(websocket.CloseNormalClosure, "again"); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
