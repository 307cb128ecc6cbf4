package cache

import (
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/schema"
)

// Before clears stale _rev entries that the primitive op is about to
// invalidate, detaches the old related record's inverse slot when a
// replaceHasOne/replaceHasMany/removeFromHasMany is about to drop or swap
// out a related record, and, for removeRecord, walks back-pointers to
// emit the inverse-cleanup ops required before the record disappears. The
// detach it derives is itself emitted as a Synthetic op, so that op's own
// Before does not try to derive a second detach behind it; one declared
// inverse pair needs exactly one detach, and deriving it twice races the
// still-pending op that is about to replace the very pointer being
// cleared. It never touches the record map itself.
func (p *IntegrityProcessor) Before(op model.Operation) ([]model.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.removing[op.Record.String()] && op.Type != model.OpRemoveRecord {
		// The source record is mid-removal; any op still targeting it is
		// a no-op at this layer (breaks dependent-remove cycles).
		return nil, nil
	}

	switch op.Type {
	case model.OpReplaceRecord:
		if prior, ok := p.cache.recordLocked(op.Record); ok {
			p.deindexRecordLocked(op.Record, prior)
		}
		return nil, nil

	case model.OpReplaceHasOne:
		if prior, ok := p.cache.recordLocked(op.Record); ok {
			if rel, ok := prior.Relationships[op.Relationship]; ok && rel.One != nil {
				old := *rel.One
				p.clearRevLocked(old, sourcePath(op.Record, op.Relationship, old))
				if !op.Synthetic && (op.RelatedRecord == nil || *op.RelatedRecord != old) {
					return p.inverseDetachOpsLocked(op.Record, op.Relationship, old), nil
				}
			}
		}
		return nil, nil

	case model.OpReplaceHasMany:
		if prior, ok := p.cache.recordLocked(op.Record); ok {
			if rel, ok := prior.Relationships[op.Relationship]; ok {
				newSet := op.RelatedKeySet()
				var ops []model.Operation
				for relatedStr := range rel.Many {
					if !newSet[relatedStr] {
						if related, ok := parseKey(relatedStr); ok {
							p.clearRevLocked(related, sourcePath(op.Record, op.Relationship, related))
							if !op.Synthetic {
								ops = append(ops, p.inverseDetachOpsLocked(op.Record, op.Relationship, related)...)
							}
						}
					}
				}
				return ops, nil
			}
		}
		return nil, nil

	case model.OpRemoveFromHasMany:
		if op.RelatedRecord != nil {
			p.clearRevLocked(*op.RelatedRecord, sourcePath(op.Record, op.Relationship, *op.RelatedRecord))
			if !op.Synthetic {
				return p.inverseDetachOpsLocked(op.Record, op.Relationship, *op.RelatedRecord), nil
			}
		}
		return nil, nil

	case model.OpRemoveRecord:
		return p.emitInverseCleanupLocked(op.Record)

	default:
		return nil, nil
	}
}

// After indexes newly-live relationship pointers into _rev, emits the
// reciprocal op that attaches the inverse side of a schema-declared
// relationship, and, for removeRecord, drops the removed record's own
// outgoing pointers from _rev and emits dependent-remove cascades for
// relationships declaring dependent: 'remove'.
func (p *IntegrityProcessor) After(op model.Operation) ([]model.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.removing[op.Record.String()] && op.Type != model.OpRemoveRecord {
		return nil, nil
	}

	switch op.Type {
	case model.OpAddRecord, model.OpReplaceRecord:
		if rec, ok := p.cache.recordLocked(op.Record); ok {
			p.indexRecordLocked(op.Record, rec)
		}
		return nil, nil

	case model.OpAddToHasMany:
		if op.RelatedRecord != nil {
			p.setRevLocked(*op.RelatedRecord, sourcePath(op.Record, op.Relationship, *op.RelatedRecord))
			return p.inverseAttachOpsLocked(op.Record, op.Relationship, *op.RelatedRecord), nil
		}
		return nil, nil

	case model.OpReplaceHasOne:
		if op.RelatedRecord != nil {
			p.setRevLocked(*op.RelatedRecord, sourcePath(op.Record, op.Relationship, *op.RelatedRecord))
			return p.inverseAttachOpsLocked(op.Record, op.Relationship, *op.RelatedRecord), nil
		}
		return nil, nil

	case model.OpReplaceHasMany:
		var ops []model.Operation
		for _, related := range op.RelatedRecords {
			p.setRevLocked(related, sourcePath(op.Record, op.Relationship, related))
			ops = append(ops, p.inverseAttachOpsLocked(op.Record, op.Relationship, related)...)
		}
		return ops, nil

	case model.OpRemoveRecord:
		snapshot, ok := p.removingSnapshot[op.Record.String()]
		if !ok {
			return nil, nil
		}
		p.deindexRecordLocked(op.Record, snapshot)
		return p.emitDependentRemovesLocked(op.Record, snapshot)

	default:
		return nil, nil
	}
}

// inverseAttachOpsLocked returns the op needed to make related's declared
// inverse relationship contain record, or nil if it already does. The
// "already does" check is what stops an attach on one side from causing
// an attach on the other side from causing an attach back on the first:
// each hop finds nothing left to do and the recursion through Patch's
// Before/After dies out.
func (p *IntegrityProcessor) inverseAttachOpsLocked(record model.Key, relationship string, related model.Key) []model.Operation {
	descriptor, ok := p.inverseOf(record.Type, relationship)
	if !ok || descriptor.Inverse == "" || p.removing[related.String()] {
		return nil
	}
	invDescriptor, ok := p.inverseOf(related.Type, descriptor.Inverse)
	if !ok {
		return nil
	}
	rec, ok := p.cache.recordLocked(related)
	if !ok {
		return nil
	}
	rel := rec.Relationships[descriptor.Inverse]
	if invDescriptor.Kind == schema.HasMany {
		if rel.Many != nil && rel.Many[record.String()] {
			return nil
		}
		return []model.Operation{model.AddToHasMany(related, descriptor.Inverse, record)}
	}
	if rel.One != nil && *rel.One == record {
		return nil
	}
	return []model.Operation{model.ReplaceHasOne(related, descriptor.Inverse, &record)}
}

// inverseDetachOpsLocked returns the op needed to clear record out of
// related's declared inverse relationship, or nil if related's inverse
// slot doesn't currently name record. The returned op is marked Synthetic:
// it names the exact stale pointer to clear, so its own Before must not
// go looking for a further one (see the Synthetic doc on model.Operation).
func (p *IntegrityProcessor) inverseDetachOpsLocked(record model.Key, relationship string, related model.Key) []model.Operation {
	descriptor, ok := p.inverseOf(record.Type, relationship)
	if !ok || descriptor.Inverse == "" || p.removing[related.String()] {
		return nil
	}
	invDescriptor, ok := p.inverseOf(related.Type, descriptor.Inverse)
	if !ok {
		return nil
	}
	rec, ok := p.cache.recordLocked(related)
	if !ok {
		return nil
	}
	rel := rec.Relationships[descriptor.Inverse]
	if invDescriptor.Kind == schema.HasMany {
		if rel.Many == nil || !rel.Many[record.String()] {
			return nil
		}
		op := model.RemoveFromHasMany(related, descriptor.Inverse, record)
		op.Synthetic = true
		return []model.Operation{op}
	}
	if rel.One == nil || *rel.One != record {
		return nil
	}
	op := model.ReplaceHasOne(related, descriptor.Inverse, nil)
	op.Synthetic = true
	return []model.Operation{op}
}

// Finally drops the now-empty _rev bucket for a removed record and clears
// its removing-guard entry, once every After-emitted cleanup op for it has
// already run.
func (p *IntegrityProcessor) Finally(op model.Operation) []model.Operation {
	p.mu.Lock()
	defer p.mu.Unlock()
	if op.Type != model.OpRemoveRecord {
		return nil
	}
	key := op.Record.String()
	if byType, ok := p.rev[op.Record.Type]; ok {
		delete(byType, op.Record.ID)
		if len(byType) == 0 {
			delete(p.rev, op.Record.Type)
		}
	}
	delete(p.removing, key)
	delete(p.removingSnapshot, key)
	return nil
}

// emitInverseCleanupLocked walks every back-pointer into the record about
// to be removed and emits the op that detaches it from its source: a
// hasMany slot gets removeFromHasMany, a hasOne slot gets
// replaceHasOne(nil).
func (p *IntegrityProcessor) emitInverseCleanupLocked(target model.Key) ([]model.Operation, error) {
	key := target.String()
	if p.removing[key] {
		return nil, nil
	}
	p.removing[key] = true
	if rec, ok := p.cache.recordLocked(target); ok {
		p.removingSnapshot[key] = rec
	}

	byType, ok := p.rev[target.Type]
	if !ok {
		return nil, nil
	}
	byID, ok := byType[target.ID]
	if !ok {
		return nil, nil
	}
	var ops []model.Operation
	for path := range byID {
		source, relationship, _ := decodeSourcePath(path)
		if source.IsZero() {
			continue
		}
		if p.removing[source.String()] {
			continue
		}
		rec, ok := p.cache.recordLocked(source)
		if !ok {
			continue
		}
		rel, ok := rec.Relationships[relationship]
		if !ok {
			continue
		}
		if rel.HasMany {
			ops = append(ops, model.RemoveFromHasMany(source, relationship, target))
		} else {
			ops = append(ops, model.ReplaceHasOne(source, relationship, nil))
		}
	}
	return ops, nil
}

// emitDependentRemovesLocked emits removeRecord for every related record
// whose relationship to target was declared dependent: 'remove'. rec is
// target's pre-delete snapshot, since the primitive removeRecord op has
// already deleted it from the cache by the time After runs.
func (p *IntegrityProcessor) emitDependentRemovesLocked(target model.Key, rec model.Record) ([]model.Operation, error) {
	if p.schema == nil {
		return nil, nil
	}
	var ops []model.Operation
	for relName, rel := range rec.Relationships {
		descriptor, ok := p.inverseOf(target.Type, relName)
		if !ok || descriptor.Dependent != schema.DependentRemove {
			continue
		}
		if rel.HasMany {
			for relatedStr := range rel.Many {
				if related, ok := parseKey(relatedStr); ok && !p.removing[related.String()] {
					ops = append(ops, model.RemoveRecord(related))
				}
			}
		} else if rel.One != nil && !p.removing[rel.One.String()] {
			ops = append(ops, model.RemoveRecord(*rel.One))
		}
	}
	return ops, nil
}

func decodeSourcePath(path string) (source model.Key, relationship string, isMany bool) {
	// "Type/ID/relationships/Rel/data/relType:relID"
	parts := make([]string, 0, 6)
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	if len(parts) < 6 {
		return model.Key{}, "", false
	}
	return model.Key{Type: parts[0], ID: parts[1]}, parts[3], true
}
