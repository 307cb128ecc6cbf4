package strategy

import (
	"context"
	"log"

	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/model"
)

// SyncConfig configures a SyncStrategy: non-blocking (or blocking) fan-out
// of every transform applied on sourceNode to every source of targetNode.
type SyncConfig struct {
	SourceNode string
	TargetNode string
	Blocking   bool
	Logger     *log.Logger
}

// SyncStrategy installs a "transform" listener on every source of
// SourceNode; on each applied transform it calls Transform on every source
// of TargetNode. The source's "transform" event runs under series
// discipline, so a blocking strategy's returned error aborts that series
// and fails the source's own Transform call; non-blocking strategies fire
// the forward call in a goroutine and log failures instead of returning
// them, so they never affect the series.
type SyncStrategy struct {
	cfg          SyncConfig
	unsubscribes []func()
}

func NewSyncStrategy(cfg SyncConfig) *SyncStrategy {
	return &SyncStrategy{cfg: cfg}
}

func (s *SyncStrategy) Activate(coord *coordinator.Coordinator) error {
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
		unsub := ev.Events().On("transform", s, func(args ...any) (any, error) {
			if len(args) == 0 {
				return nil, nil
			}
			t, ok := args[0].(model.Transform)
			if !ok {
				return nil, nil
			}
			return s.forward(t, targets)
		})
		s.unsubscribes = append(s.unsubscribes, unsub)
	}
	return nil
}

func (s *SyncStrategy) forward(t model.Transform, targets []any) (any, error) {
	if s.cfg.Blocking {
		var firstErr error
		for _, target := range targets {
			transformer, ok := target.(Transformer)
			if !ok {
				continue
			}
			if _, err := transformer.Transform(context.Background(), t); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return nil, firstErr
	}

	for _, target := range targets {
		transformer, ok := target.(Transformer)
		if !ok {
			continue
		}
		go func(transformer Transformer) {
			if _, err := transformer.Transform(context.Background(), t); err != nil {
				logger(s.cfg.Logger).Printf("strategy: sync %s->%s failed: %v", s.cfg.SourceNode, s.cfg.TargetNode, err)
			}
		}(transformer)
	}
	return nil, nil
}

// Deactivate removes every listener this strategy installed.
func (s *SyncStrategy) Deactivate() {
	for _, unsub := range s.unsubscribes {
		unsub()
	}
	s.unsubscribes = nil
}
