package livefeed

import (
	"context"
	"log"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Target re-applies a remote-origin envelope locally. Kept as a narrow
// func type rather than an interface so callers can adapt any source's
// Transform method (whose argument is model.Transform, not interface{})
// with a one-line closure instead of a wrapper type.
type Target func(ctx context.Context, env Envelope) error

// SubscriberOptions configures Subscriber.
type SubscriberOptions struct {
	URL           string
	ReconnectWait time.Duration
	Logger        *log.Logger
}

// Subscriber maintains one reconnecting WebSocket connection to a Hub and
// hands every received Envelope to Apply. It reconnects on any read error
// after waiting ReconnectWait, stopping only when ctx is done.
type Subscriber struct {
	opts  SubscriberOptions
	Apply Target
}

func NewSubscriber(opts SubscriberOptions, apply Target) *Subscriber {
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	return &Subscriber{opts: opts, Apply: apply}
}

func (s *Subscriber) logger() *log.Logger {
	if s.opts.Logger != nil {
		return s.opts.Logger
	}
	return log.Default()
}

// Run blocks, reconnecting until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil {
			s.logger().Printf("livefeed: subscriber connection failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.ReconnectWait):
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "subscriber closed")

	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		if applyErr := s.Apply(ctx, env); applyErr != nil {
			s.logger().Printf("livefeed: apply failed for node %q: %v", env.Node, applyErr)
		}
	}
}
