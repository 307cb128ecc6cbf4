// Package livefeed implements the low-latency push transport for
// remote-origin transforms: a server-side Hub broadcasting applied
// transforms to connected subscribers over WebSocket, and a client-side
// Subscriber that turns incoming frames back into source.Transform calls.
package livefeed

import (
	"context"
	"log"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nimbusdata/syncengine/internal/model"
)

// Envelope is the wire frame exchanged over the feed: one Transform per
// message, tagged with the node name it originated from so a subscriber
// fanning in from multiple nodes can attribute it.
type Envelope struct {
	Node      string          `json:"node"`
	Transform model.Transform `json:"transform"`
}

// Hub tracks connected subscriber connections and broadcasts envelopes to
// all of them. It owns no retry/backoff policy of its own: a dropped
// connection is simply removed, and the subscriber side is responsible for
// reconnecting.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	Logger *log.Logger
}

func NewHub() *Hub {
	return &Hub{conns: map[*websocket.Conn]struct{}{}}
}

func (h *Hub) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}

// Register adds conn to the broadcast set. Call Unregister (typically via
// defer) once the connection's serve loop returns.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Broadcast writes env to every registered connection. A write failure
// unregisters that connection; it does not abort the broadcast to others.
func (h *Hub) Broadcast(ctx context.Context, env Envelope) {
	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := wsjson.Write(ctx, conn, env); err != nil {
			h.logger().Printf("livefeed: broadcast write failed, dropping subscriber: %v", err)
			h.Unregister(conn)
		}
	}
}

// NodeListener returns a func(args ...any) (any, error) suitable for
// registering on a source's Bus under the "transform" event. It wraps
// every applied transform in an Envelope tagged with nodeName and
// broadcasts it, matching the signature internal/bus.Listener requires.
func (h *Hub) NodeListener(nodeName string) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		t, ok := args[0].(model.Transform)
		if !ok {
			return nil, nil
		}
		h.Broadcast(context.Background(), Envelope{Node: nodeName, Transform: t})
		return nil, nil
	}
}
