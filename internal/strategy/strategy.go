// Package strategy implements the declarative node-to-node wiring the
// coordinator activates: SyncStrategy fans applied transforms out to a
// backup node; RequestStrategy forwards a query/transform to an upstream
// node before (or instead of) the originating source handling it itself.
package strategy

import (
	"context"
	"fmt"
	"log"

	"github.com/nimbusdata/syncengine/internal/bus"
	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/model"
)

// Eventful is any source that exposes the bus strategies subscribe to.
type Eventful interface {
	Events() *bus.Notifier
}

// Transformer is any source whose Transformable capability strategies can
// forward a transform to.
type Transformer interface {
	Transform(ctx context.Context, t model.Transform) ([]model.Transform, error)
}

// Updater is any source whose Updatable capability strategies can forward
// a transform to for RPC-style application.
type Updater interface {
	Update(ctx context.Context, t model.Transform) (any, error)
}

// Fetcher is any source whose Fetchable capability strategies can forward
// a query to.
type Fetcher interface {
	Fetch(ctx context.Context, q any) (any, error)
}

func resolveSources(coord *coordinator.Coordinator, node string) ([]any, error) {
	sources, err := coord.Sources(node)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("strategy: node %q has no sources", node)
	}
	return sources, nil
}

// RequestKind names the egress capability a RequestStrategy forwards to.
type RequestKind string

const (
	RequestFetch  RequestKind = "fetch"
	RequestUpdate RequestKind = "update"
)

// SourceEvent names the series-emit hook point a RequestStrategy listens on.
type SourceEvent string

const (
	EventBeforeQuery  SourceEvent = "beforeQuery"
	EventBeforeUpdate SourceEvent = "beforeUpdate"
)

func logger(l *log.Logger) *log.Logger {
	if l != nil {
		return l
	}
	return log.Default()
}
