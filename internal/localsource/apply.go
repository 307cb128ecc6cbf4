package localsource

import "github.com/nimbusdata/syncengine/internal/model"

// applyOp mutates a record in place to reflect op, mirroring the subset of
// cache.Patch's primitive semantics relevant to a single flat record (no
// reverse-index/inverse bookkeeping here, that is the in-memory cache's
// job, not this backing store's).
func applyOp(rec model.Record, op model.Operation) model.Record {
	switch op.Type {
	case model.OpAddRecord, model.OpReplaceRecord:
		if op.FullRecord != nil {
			return op.FullRecord.Clone()
		}
		return rec

	case model.OpReplaceKey:
		out := rec.Clone()
		if out.Keys == nil {
			out.Keys = map[string]string{}
		}
		if s, ok := op.Value.(string); ok {
			out.Keys[op.Key] = s
		}
		return out

	case model.OpReplaceAttribute:
		out := rec.Clone()
		if out.Attributes == nil {
			out.Attributes = map[string]any{}
		}
		out.Attributes[op.Attribute] = op.Value
		return out

	case model.OpAddToHasMany:
		out := rec.Clone()
		if out.Relationships == nil {
			out.Relationships = map[string]model.Relationship{}
		}
		rel := out.Relationships[op.Relationship]
		if rel.Many == nil {
			rel = model.NewHasMany()
		}
		if op.RelatedRecord != nil {
			rel.Many[op.RelatedRecord.String()] = true
		}
		out.Relationships[op.Relationship] = rel
		return out

	case model.OpRemoveFromHasMany:
		out := rec.Clone()
		if out.Relationships == nil {
			return out
		}
		rel := out.Relationships[op.Relationship]
		if rel.Many != nil && op.RelatedRecord != nil {
			delete(rel.Many, op.RelatedRecord.String())
		}
		out.Relationships[op.Relationship] = rel
		return out

	case model.OpReplaceHasMany:
		out := rec.Clone()
		if out.Relationships == nil {
			out.Relationships = map[string]model.Relationship{}
		}
		out.Relationships[op.Relationship] = model.NewHasMany(op.RelatedRecords...)
		return out

	case model.OpReplaceHasOne:
		out := rec.Clone()
		if out.Relationships == nil {
			out.Relationships = map[string]model.Relationship{}
		}
		out.Relationships[op.Relationship] = model.NewHasOne(op.RelatedRecord)
		return out

	default:
		return rec
	}
}
