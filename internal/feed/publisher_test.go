package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/hpl-runner/pkg/gamedto"
)

type feedServer struct {
	srv     *httptest.Server
	events  chan map[string]any
	headers chan http.Header
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{events: make(chan map[string]any, 64), headers: make(chan http.Header, 4)}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.headers <- r.Header.Clone()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		for {
			var m map[string]any
			if err := wsjson.Read(r.Context(), c, &m); err != nil {
				return
			}
			fs.events <- m
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws://" + strings.TrimPrefix(fs.srv.URL, "http://")
}

func (fs *feedServer) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m := <-fs.events:
		return m
	case <-time.After(3 * time.Second):
		t.Fatalf("no event received")
	}
	return nil
}

func TestPublishDeliversEventsInOrder(t *testing.T) {
	fs := newFeedServer(t)
	p := NewPublisher(fs.url(), WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Runner": "hpl", "X-Empty": ""}
	}))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close(context.Background())

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.Publish(gamedto.Event{ID: "e1", Type: gamedto.EventState, SessionID: "s-1", MinigameID: "memory-game", State: "playing", Remaining: 180, At: at})
	p.Publish(gamedto.Event{ID: "e2", Type: gamedto.EventOutcome, SessionID: "s-1", MinigameID: "memory-game", State: "finished", Score: 65, Won: true, At: at})

	first := fs.next(t)
	if first["id"] != "e1" || first["type"] != "state" || first["session_id"] != "s-1" || first["remaining"] != float64(180) {
		t.Fatalf("first event = %v", first)
	}
	second := fs.next(t)
	if second["id"] != "e2" || second["won"] != true || second["score"] != float64(65) || second["at"] != "2026-01-01T00:00:00Z" {
		t.Fatalf("second event = %v", second)
	}
	h := <-fs.headers
	if h.Get("X-Runner") != "hpl" || h.Get("X-Empty") != "" {
		t.Fatalf("handshake headers = %v", h)
	}
	if p.State() != StateConnected {
		t.Fatalf("state = %s", p.State())
	}
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	p := NewPublisher("ws://127.0.0.1:1/unused", WithQueueSize(2))
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			p.Publish(gamedto.Event{ID: "x", Type: gamedto.EventTick})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full queue")
	}
	if d := p.Dropped(); d != 3 {
		t.Fatalf("dropped = %d, want 3", d)
	}
}

func TestCloseFlushesQueuedEvents(t *testing.T) {
	fs := newFeedServer(t)
	p := NewPublisher(fs.url())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 10; i++ {
		p.Publish(gamedto.Event{ID: "e", Type: gamedto.EventTick, Remaining: 10 - i})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Sent() != 10 {
		t.Fatalf("sent = %d", p.Sent())
	}
	for i := 0; i < 10; i++ {
		if m := fs.next(t); m["remaining"] != float64(10-i) {
			t.Fatalf("event %d = %v", i, m)
		}
	}
	p.Publish(gamedto.Event{ID: "late"})
	if p.Dropped() != 1 || p.State() != StateClosed {
		t.Fatalf("publish after close: dropped=%d state=%s", p.Dropped(), p.State())
	}
}

func TestUnreachableEndpointDropsEvents(t *testing.T) {
	p := NewPublisher("ws://127.0.0.1:1/feed", WithReconnect(0, 0))
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	p.Publish(gamedto.Event{ID: "e"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.Close(ctx)
	if p.Dropped() != 1 || p.Sent() != 0 {
		t.Fatalf("dropped=%d sent=%d", p.Dropped(), p.Sent())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseDuringPendingDialDoesNotReconnect(t *testing.T) {
	var requests atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	serverDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			// 첫 dial 은 거절해서 writer 가 재연결하도록
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		close(entered)
		<-release
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			close(serverDone)
			return
		}
		defer close(serverDone)
		var m map[string]any
		_ = wsjson.Read(r.Context(), c, &m)
	}))
	t.Cleanup(srv.Close)

	p := NewPublisher("ws://"+strings.TrimPrefix(srv.URL, "http://"), WithReconnect(0, 0))
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected first dial to fail")
	}
	p.Publish(gamedto.Event{ID: "e", Type: gamedto.EventState})

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("writer never redialed")
	}

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Close(expired); err == nil {
		t.Fatalf("Close with expired context returned nil while the writer was busy")
	}
	close(release)

	select {
	case <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatalf("connection opened after Close was never closed")
	}
	waitFor(t, "event drop", func() bool { return p.Dropped() == 1 })
	if p.State() != StateClosed || p.Sent() != 0 {
		t.Fatalf("after close: state=%s sent=%d", p.State(), p.Sent())
	}
}
