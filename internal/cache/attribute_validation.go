package cache

import (
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/schema"
)

// AttributeValidationProcessor rejects addRecord/replaceRecord/
// replaceAttribute operations whose attribute payload fails the model's
// compiled JSON Schema, before the primitive op (or any other
// processor's bookkeeping) ever sees it. Register it ahead of
// IntegrityProcessor so a rejected op never reaches _rev maintenance.
type AttributeValidationProcessor struct {
	schema *schema.Schema
	cache  *Cache
}

func NewAttributeValidationProcessor(s *schema.Schema) *AttributeValidationProcessor {
	return &AttributeValidationProcessor{schema: s}
}

func (p *AttributeValidationProcessor) attachCache(c *Cache) {
	p.cache = c
}

func (p *AttributeValidationProcessor) Before(op model.Operation) ([]model.Operation, error) {
	switch op.Type {
	case model.OpAddRecord, model.OpReplaceRecord:
		if op.FullRecord == nil {
			return nil, nil
		}
		if err := p.schema.ValidateAttributes(op.FullRecord.Type, op.FullRecord.Attributes); err != nil {
			return nil, err
		}
		return nil, nil

	case model.OpReplaceAttribute:
		merged := map[string]any{op.Attribute: op.Value}
		if p.cache != nil {
			if rec, ok := p.cache.recordLocked(op.Record); ok {
				merged = mergeAttributes(rec.Attributes, op.Attribute, op.Value)
			}
		}
		if err := p.schema.ValidateAttributes(op.Record.Type, merged); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func (p *AttributeValidationProcessor) After(op model.Operation) ([]model.Operation, error) {
	return nil, nil
}

func (p *AttributeValidationProcessor) Finally(op model.Operation) []model.Operation {
	return nil
}

func mergeAttributes(existing map[string]any, attribute string, value any) map[string]any {
	merged := make(map[string]any, len(existing)+1)
	for k, v := range existing {
		merged[k] = v
	}
	merged[attribute] = value
	return merged
}
