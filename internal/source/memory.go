package source

import (
	"context"

	"github.com/nimbusdata/syncengine/internal/cache"
	"github.com/nimbusdata/syncengine/internal/model"
)

// Memory is the in-memory record-store source: the typical "store" of a
// data-flow chain, composing Base with a *cache.Cache. DoTransform applies
// the transform's operations to the cache and returns the transform
// unchanged; DoUpdate is an alias for DoTransform wrapped as a single
// Transform; DoQuery/DoFetch resolve paths against the cache via the
// QueryFunc hook, since query expression shape is deliberately left to the
// caller (out of scope per the schema compiler / query builder DSL
// non-goal).
type Memory struct {
	*Base
	Cache     *cache.Cache
	QueryFunc func(cache *cache.Cache, q any) (any, error)
}

// NewMemory wires a Memory source around c. If queryFn is nil, Query/Fetch
// always return model.ErrRelationshipNotFound-free zero results for any
// query; callers that need query support must supply queryFn.
func NewMemory(name string, c *cache.Cache, queryFn func(cache *cache.Cache, q any) (any, error), policy Policy) *Memory {
	m := &Memory{Cache: c, QueryFunc: queryFn}
	m.Base = New(name, m, 0, 0)
	m.Base.Policy = policy
	return m
}

func (m *Memory) DoTransform(ctx context.Context, t model.Transform) ([]model.Transform, error) {
	if err := m.Cache.Patch(t.Operations...); err != nil {
		return nil, err
	}
	return []model.Transform{t}, nil
}

func (m *Memory) DoUpdate(ctx context.Context, t model.Transform) (any, error) {
	return m.DoTransform(ctx, t)
}

func (m *Memory) DoQuery(ctx context.Context, q any) (any, error) {
	if m.QueryFunc == nil {
		return nil, nil
	}
	return m.QueryFunc(m.Cache, q)
}

func (m *Memory) DoFetch(ctx context.Context, q any) (any, error) {
	return m.DoQuery(ctx, q)
}
