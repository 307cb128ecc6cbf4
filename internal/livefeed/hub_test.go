package livefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nimbusdata/syncengine/internal/model"
)

func newTestServer(hub *Hub) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		defer hub.Unregister(conn)
		<-r.Context().Done()
	}))
}

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give Accept's goroutine a beat to register before broadcasting.
	time.Sleep(50 * time.Millisecond)

	want := Envelope{Node: "orders", Transform: model.Transform{ID: "t1"}}
	hub.Broadcast(ctx, want)

	var got Envelope
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Node != want.Node || got.Transform.ID != want.Transform.ID {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestHub_NodeListener_MatchesBusListenerSignature(t *testing.T) {
	hub := NewHub()
	listener := hub.NodeListener("orders")
	// No subscribers registered: Broadcast must still succeed without error.
	if _, err := listener(model.Transform{ID: "t1"}); err != nil {
		t.Fatalf("listener returned error with no subscribers: %v", err)
	}
	if _, err := listener(); err != nil {
		t.Fatalf("listener with no args returned error: %v", err)
	}
	if _, err := listener("not-a-transform"); err != nil {
		t.Fatalf("listener with wrong arg type returned error: %v", err)
	}
}

func TestHub_BroadcastDropsFailedConnection(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	conn.Close(websocket.StatusNormalClosure, "closing early")
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(ctx, Envelope{Node: "orders"})

	hub.mu.Lock()
	n := len(hub.conns)
	hub.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected dead connection to be dropped, got %d remaining", n)
	}
}
