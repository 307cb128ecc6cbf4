package cache

import (
	"fmt"

	"github.com/nimbusdata/syncengine/internal/model"
)

// applyPrimitiveLocked mutates the record map for a single op, with no
// processor involvement. Callers must hold c.mu.
func (c *Cache) applyPrimitiveLocked(op model.Operation) error {
	switch op.Type {
	case model.OpAddRecord, model.OpReplaceRecord:
		if op.FullRecord == nil {
			return fmt.Errorf("%s requires a full record", op.Type)
		}
		c.ensureBucketLocked(op.FullRecord.Type)
		c.records[op.FullRecord.Type][op.FullRecord.ID] = op.FullRecord.Clone()
		return nil

	case model.OpRemoveRecord:
		byID, ok := c.records[op.Record.Type]
		if !ok {
			return nil
		}
		delete(byID, op.Record.ID)
		return nil

	case model.OpReplaceKey:
		rec, ok := c.recordLocked(op.Record)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrRecordNotFound, op.Record)
		}
		if rec.Keys == nil {
			rec.Keys = map[string]string{}
		}
		if s, ok := op.Value.(string); ok {
			rec.Keys[op.Key] = s
		}
		c.records[op.Record.Type][op.Record.ID] = rec
		return nil

	case model.OpReplaceAttribute:
		rec, ok := c.recordLocked(op.Record)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrRecordNotFound, op.Record)
		}
		if rec.Attributes == nil {
			rec.Attributes = map[string]any{}
		}
		rec.Attributes[op.Attribute] = op.Value
		c.records[op.Record.Type][op.Record.ID] = rec
		return nil

	case model.OpAddToHasMany:
		return c.mutateHasManyLocked(op.Record, op.Relationship, func(set map[string]bool) {
			set[op.RelatedRecord.String()] = true
		})

	case model.OpRemoveFromHasMany:
		return c.mutateHasManyLocked(op.Record, op.Relationship, func(set map[string]bool) {
			delete(set, op.RelatedRecord.String())
		})

	case model.OpReplaceHasMany:
		rec, ok := c.recordLocked(op.Record)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrRecordNotFound, op.Record)
		}
		if rec.Relationships == nil {
			rec.Relationships = map[string]model.Relationship{}
		}
		rec.Relationships[op.Relationship] = model.NewHasMany(op.RelatedRecords...)
		c.records[op.Record.Type][op.Record.ID] = rec
		return nil

	case model.OpReplaceHasOne:
		rec, ok := c.recordLocked(op.Record)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrRecordNotFound, op.Record)
		}
		if rec.Relationships == nil {
			rec.Relationships = map[string]model.Relationship{}
		}
		rec.Relationships[op.Relationship] = model.NewHasOne(op.RelatedRecord)
		c.records[op.Record.Type][op.Record.ID] = rec
		return nil

	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
}

func (c *Cache) ensureBucketLocked(modelType string) {
	if c.records[modelType] == nil {
		c.records[modelType] = map[string]model.Record{}
	}
}

func (c *Cache) mutateHasManyLocked(record model.Key, relationship string, mutate func(map[string]bool)) error {
	rec, ok := c.recordLocked(record)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrRecordNotFound, record)
	}
	if rec.Relationships == nil {
		rec.Relationships = map[string]model.Relationship{}
	}
	rel, ok := rec.Relationships[relationship]
	if !ok || rel.Many == nil {
		rel = model.NewHasMany()
	}
	mutate(rel.Many)
	rec.Relationships[relationship] = rel
	c.records[record.Type][record.ID] = rec
	return nil
}
