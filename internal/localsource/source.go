package localsource

import (
	"context"

	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/source"
)

// Query selects one record by key; the local storage source has no
// collection-query support (no index to scan beyond a directory listing,
// and that is watch.go's concern, not DoQuery's).
type Query struct {
	Key model.Key
}

// Source is the local storage reference Source: DoTransform/DoUpdate
// apply each operation to Backend; DoQuery/DoFetch read a single record
// back. Watch installs the fsnotify loop that turns externally-made file
// changes into synthesized transforms.
type Source struct {
	*source.Base
	backend *Backend
	watch   *watch
}

// New wires a Source over an already-open Backend.
func New(name string, backend *Backend, policy source.Policy) *Source {
	s := &Source{backend: backend}
	s.Base = source.New(name, s, 0, 0)
	s.Base.Policy = policy
	return s
}

func (s *Source) DoTransform(ctx context.Context, t model.Transform) ([]model.Transform, error) {
	if err := s.CheckRequestCount("transform", len(t.Operations)); err != nil {
		return nil, err
	}
	for _, op := range t.Operations {
		if err := s.applyAndPersist(op); err != nil {
			return nil, err
		}
	}
	return []model.Transform{t}, nil
}

func (s *Source) DoUpdate(ctx context.Context, t model.Transform) (any, error) {
	return s.DoTransform(ctx, t)
}

func (s *Source) DoQuery(ctx context.Context, q any) (any, error) {
	query, ok := q.(Query)
	if !ok {
		return nil, nil
	}
	return s.backend.Get(query.Key)
}

func (s *Source) DoFetch(ctx context.Context, q any) (any, error) {
	return s.DoQuery(ctx, q)
}

func (s *Source) applyAndPersist(op model.Operation) error {
	if s.watch != nil {
		s.watch.suppressSelfWrite(op.Record)
	}
	if op.Type == model.OpRemoveRecord {
		return s.backend.Remove(op.Record)
	}
	existing, err := s.backend.Get(op.Record)
	if err != nil {
		return err
	}
	var rec model.Record
	if existing != nil {
		rec = *existing
	} else {
		rec = model.Record{Type: op.Record.Type, ID: op.Record.ID}
	}
	return s.backend.Put(applyOp(rec, op))
}
