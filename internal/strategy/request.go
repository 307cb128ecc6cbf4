package strategy

import (
	"context"
	"fmt"
	"log"

	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/model"
)

// RequestConfig configures a RequestStrategy: blocking RPC-style
// forwarding of a query/transform from every source of SourceNode to
// every source of TargetNode, optionally syncing results back.
type RequestConfig struct {
	SourceNode    string
	TargetNode    string
	SourceEvent   SourceEvent
	TargetRequest RequestKind
	Blocking      bool
	SyncResults   bool
	Logger        *log.Logger
}

// RequestStrategy installs a listener on SourceEvent for every source of
// SourceNode. The listener runs inside that source's series-emit, so a
// rejection here vetoes the source's own operation. When Blocking, the
// forward call runs inline, and its result (including any error) is
// returned to the series emit; when not, it runs detached and failures
// are only logged.
type RequestStrategy struct {
	cfg          RequestConfig
	unsubscribes []func()
}

func NewRequestStrategy(cfg RequestConfig) *RequestStrategy {
	return &RequestStrategy{cfg: cfg}
}

func (s *RequestStrategy) Activate(coord *coordinator.Coordinator) error {
	sources, err := resolveSources(coord, s.cfg.SourceNode)
	if err != nil {
		return err
	}
	targets, err := resolveSources(coord, s.cfg.TargetNode)
	if err != nil {
		return err
	}

	for _, src := range sources {
		ev, ok := src.(Eventful)
		if !ok {
			continue
		}
		source := src
		unsub := ev.Events().On(string(s.cfg.SourceEvent), s, func(args ...any) (any, error) {
			if len(args) == 0 {
				return nil, nil
			}
			return s.forward(source, args[0], targets)
		})
		s.unsubscribes = append(s.unsubscribes, unsub)
	}
	return nil
}

func (s *RequestStrategy) forward(source any, arg any, targets []any) (any, error) {
	if s.cfg.Blocking {
		return s.dispatch(source, arg, targets)
	}
	go func() {
		if _, err := s.dispatch(source, arg, targets); err != nil {
			logger(s.cfg.Logger).Printf("strategy: request %s->%s failed: %v", s.cfg.SourceNode, s.cfg.TargetNode, err)
		}
	}()
	return nil, nil
}

func (s *RequestStrategy) dispatch(source any, arg any, targets []any) (any, error) {
	var last any
	for _, target := range targets {
		result, err := s.dispatchOne(target, arg)
		if err != nil {
			return nil, err
		}
		last = result
		if s.cfg.SyncResults && s.cfg.TargetRequest == RequestUpdate {
			if transforms, ok := result.([]model.Transform); ok {
				transformer, ok := source.(Transformer)
				if ok {
					for _, t := range transforms {
						if _, err := transformer.Transform(context.Background(), t); err != nil {
							return nil, err
						}
					}
				}
			}
		}
	}
	return last, nil
}

func (s *RequestStrategy) dispatchOne(target any, arg any) (any, error) {
	switch s.cfg.TargetRequest {
	case RequestUpdate:
		t, ok := arg.(model.Transform)
		if !ok {
			return nil, fmt.Errorf("strategy: %s expected a model.Transform argument", RequestUpdate)
		}
		updater, ok := target.(Updater)
		if !ok {
			return nil, fmt.Errorf("strategy: target does not implement Update")
		}
		return updater.Update(context.Background(), t)

	case RequestFetch:
		fetcher, ok := target.(Fetcher)
		if !ok {
			return nil, fmt.Errorf("strategy: target does not implement Fetch")
		}
		return fetcher.Fetch(context.Background(), arg)

	default:
		return nil, fmt.Errorf("strategy: unknown target request %q", s.cfg.TargetRequest)
	}
}

// Deactivate removes every listener this strategy installed.
func (s *RequestStrategy) Deactivate() {
	for _, unsub := range s.unsubscribes {
		unsub()
	}
	s.unsubscribes = nil
}
