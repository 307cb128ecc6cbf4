package jsonapisource

import (
	"context"
	"net/http"

	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/source"
)

// Query is the only query expression this reference source understands: a
// direct resource or collection GET. A richer query builder DSL is out of
// scope for this reference source.
type Query struct {
	Type string
	ID   string
}

// Source is the JSON:API reference Source: a *source.Base whose hooks
// translate each operation into one HTTP request via Client and translate
// the JSON:API response document back into Transforms.
type Source struct {
	*source.Base
	client *Client
}

// New wires a Source. policy caps fan-out: the JSON:API source's own
// DoTransform issues at most one HTTP request per operation in the
// transform, checked against MaxRequestsPerTransform before any request
// in the transform is dispatched.
func New(name string, client *Client, policy source.Policy) *Source {
	s := &Source{client: client}
	s.Base = source.New(name, s, 0, 0)
	s.Base.Policy = policy
	return s
}

func (s *Source) DoTransform(ctx context.Context, t model.Transform) ([]model.Transform, error) {
	if err := s.CheckRequestCount("transform", len(t.Operations)); err != nil {
		return nil, err
	}
	var resultOps []model.Operation
	for _, op := range t.Operations {
		doc, err := s.client.Do(ctx, op)
		if err != nil {
			return nil, err
		}
		resultOps = append(resultOps, reconcileOp(op, doc))
	}
	return []model.Transform{{ID: t.ID, Operations: resultOps}}, nil
}

func (s *Source) DoUpdate(ctx context.Context, t model.Transform) (any, error) {
	return s.DoTransform(ctx, t)
}

func (s *Source) DoQuery(ctx context.Context, q any) (any, error) {
	query, ok := q.(Query)
	if !ok {
		return nil, nil
	}
	doc, err := s.client.send(ctx, http.MethodGet, BuildURL(s.client.host, s.client.namespace, query.Type, query.ID), nil)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Data == nil {
		return nil, nil
	}
	rec := resourceToRecord(*doc.Data)
	return rec, nil
}

func (s *Source) DoFetch(ctx context.Context, q any) (any, error) {
	return s.DoQuery(ctx, q)
}

// reconcileOp returns the server-canonical version of an addRecord's
// operation when the response carries a resource object with
// server-assigned id/attributes, i.e. the upstream annotates the record
// before it comes back to the store.
func reconcileOp(op model.Operation, doc *Document) model.Operation {
	if doc == nil || doc.Data == nil {
		return op
	}
	if op.Type != model.OpAddRecord && op.Type != model.OpReplaceRecord {
		return op
	}
	rec := resourceToRecord(*doc.Data)
	if op.FullRecord != nil {
		if rec.ID == "" {
			rec.ID = op.FullRecord.ID
		}
		if rec.Keys == nil {
			rec.Keys = op.FullRecord.Keys
		}
	}
	return model.Operation{Type: op.Type, Record: rec.Key(), FullRecord: &rec}
}
