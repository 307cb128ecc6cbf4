package source

import (
	"context"

	"github.com/nimbusdata/syncengine/internal/model"
)

// Policy caps fan-out before any request is dispatched. Zero means
// unlimited. A concrete source's DoFetch/DoTransform must call
// CheckRequestCount itself before issuing the Nth request; Base has no
// visibility into how many requests a hook intends to make.
type Policy struct {
	MaxRequestsPerFetch     int
	MaxRequestsPerTransform int
}

// CheckRequestCount returns model.ErrNotAllowed-wrapping NotAllowedError if
// count exceeds the configured cap for kind ("fetch" or "transform").
func (b *Base) CheckRequestCount(kind string, count int) error {
	var limit int
	switch kind {
	case "fetch":
		limit = b.Policy.MaxRequestsPerFetch
	case "transform":
		limit = b.Policy.MaxRequestsPerTransform
	default:
		return nil
	}
	if limit > 0 && count > limit {
		return &model.NotAllowedError{Policy: "maxRequestsPer" + capitalize(kind), Limit: limit, Actual: count}
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// Transform is the Transformable capability's ingress entry point: a
// transform submitted once and enqueued for serialized application, with
// id-based dedup across resubmission.
func (b *Base) Transform(ctx context.Context, t model.Transform) ([]model.Transform, error) {
	if b.hasApplied(t.ID) {
		return nil, nil
	}
	action := b.transformQueue.Push(func(ctx context.Context) (any, error) {
		if err := b.Bus.Series("beforeTransform", t); err != nil {
			return nil, err
		}
		results, err := b.Hooks.DoTransform(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			b.markApplied(r.ID)
		}
		for _, r := range results {
			if err := b.Bus.Series("transform", r); err != nil {
				return results, err
			}
		}
		return results, nil
	})
	select {
	case <-action.Complete():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := action.Err(); err != nil {
		return nil, err
	}
	results, _ := action.Value().([]model.Transform)
	return results, nil
}

// Update is the Updatable capability's egress entry point. Its
// beforeUpdate series-emit is the hook point RequestStrategy uses to
// forward the transform to a remote source before this source applies it.
func (b *Base) Update(ctx context.Context, t model.Transform) (any, error) {
	action := b.updateQueue.Push(func(ctx context.Context) (any, error) {
		if err := b.Bus.Series("beforeUpdate", t); err != nil {
			return nil, err
		}
		result, err := b.Hooks.DoUpdate(ctx, t)
		if err != nil {
			return nil, err
		}
		b.Bus.Settle("update", t, result)
		return result, nil
	})
	select {
	case <-action.Complete():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := action.Err(); err != nil {
		return nil, err
	}
	return action.Value(), nil
}

// Fetch is the Fetchable capability's egress entry point, mirroring Update
// for queries: beforeQuery gates the call under series discipline, query
// settles on completion.
func (b *Base) Fetch(ctx context.Context, q any) (any, error) {
	action := b.fetchQueue.Push(func(ctx context.Context) (any, error) {
		if err := b.Bus.Series("beforeQuery", q); err != nil {
			return nil, err
		}
		result, err := b.Hooks.DoFetch(ctx, q)
		if err != nil {
			return nil, err
		}
		b.Bus.Settle("query", q, result)
		return result, nil
	})
	select {
	case <-action.Complete():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := action.Err(); err != nil {
		return nil, err
	}
	return action.Value(), nil
}

// Query is the Queryable capability's egress entry point. It runs on the
// source's own query queue, separate from the queue Fetch uses.
func (b *Base) Query(ctx context.Context, q any) (any, error) {
	action := b.queryQueue.Push(func(ctx context.Context) (any, error) {
		if err := b.Bus.Series("beforeQuery", q); err != nil {
			return nil, err
		}
		result, err := b.Hooks.DoQuery(ctx, q)
		if err != nil {
			return nil, err
		}
		b.Bus.Settle("query", q, result)
		return result, nil
	})
	select {
	case <-action.Complete():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := action.Err(); err != nil {
		return nil, err
	}
	return action.Value(), nil
}
