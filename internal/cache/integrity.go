package cache

import (
	"sync"

	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/schema"
)

// IntegrityProcessor is the principal processor. It owns the private
// reverse index (_rev): for every live relationship pointer from record X
// at path P to record Y, _rev[Y.Type][Y.ID][P] == true, and nothing else.
// It also performs dependent-remove cascades and, for every schema
// relationship that declares an inverse, keeps both sides of the pointer
// in sync: attaching one side emits the reciprocal op on the other, and
// detaching or swapping one side clears the stale reciprocal first.
type IntegrityProcessor struct {
	mu     sync.Mutex
	schema *schema.Schema
	cache  *Cache
	// rev[relatedType][relatedID][sourcePath] = true
	rev map[string]map[string]map[string]bool
	// removing guards against re-entrant dependent-remove cycles, scoped
	// for the lifetime of one outer Patch call's recursive op tree. A
	// Key already in this set is treated as already-gone: any op
	// referencing it is a no-op at this layer.
	removing map[string]bool
	// removingSnapshot holds each removing record's pre-delete state, so
	// After(removeRecord) can still walk its outgoing relationships after
	// the primitive op has already deleted it from the cache.
	removingSnapshot map[string]model.Record
}

func (p *IntegrityProcessor) attachCache(c *Cache) {
	p.cache = c
}

func NewIntegrityProcessor(s *schema.Schema) *IntegrityProcessor {
	return &IntegrityProcessor{
		schema:   s,
		rev:      map[string]map[string]map[string]bool{},
		removing:         map[string]bool{},
		removingSnapshot: map[string]model.Record{},
	}
}

func (p *IntegrityProcessor) Reset(data map[string]map[string]model.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rev = map[string]map[string]map[string]bool{}
	p.removing = map[string]bool{}
	p.removingSnapshot = map[string]model.Record{}
	for modelType, byID := range data {
		for id, rec := range byID {
			p.indexRecordLocked(model.Key{Type: modelType, ID: id}, rec)
		}
	}
}

func (p *IntegrityProcessor) setRevLocked(related model.Key, sourcePath string) {
	byType, ok := p.rev[related.Type]
	if !ok {
		byType = map[string]map[string]bool{}
		p.rev[related.Type] = byType
	}
	byID, ok := byType[related.ID]
	if !ok {
		byID = map[string]bool{}
		byType[related.ID] = byID
	}
	byID[sourcePath] = true
}

func (p *IntegrityProcessor) clearRevLocked(related model.Key, sourcePath string) {
	byType, ok := p.rev[related.Type]
	if !ok {
		return
	}
	byID, ok := byType[related.ID]
	if !ok {
		return
	}
	delete(byID, sourcePath)
	if len(byID) == 0 {
		delete(byType, related.ID)
	}
}

// BackPointers returns a copy of every source path currently pointing at
// related, for tests and diagnostics.
func (p *IntegrityProcessor) BackPointers(related model.Key) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	byType, ok := p.rev[related.Type]
	if !ok {
		return nil
	}
	byID, ok := byType[related.ID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(byID))
	for path := range byID {
		out = append(out, path)
	}
	return out
}

func sourcePath(source model.Key, relationship string, related model.Key) string {
	return source.Type + "/" + source.ID + "/relationships/" + relationship + "/data/" + related.String()
}

func (p *IntegrityProcessor) indexRecordLocked(source model.Key, rec model.Record) {
	for relName, rel := range rec.Relationships {
		if rel.HasMany {
			for relatedStr := range rel.Many {
				if related, ok := parseKey(relatedStr); ok {
					p.setRevLocked(related, sourcePath(source, relName, related))
				}
			}
			continue
		}
		if rel.One != nil {
			p.setRevLocked(*rel.One, sourcePath(source, relName, *rel.One))
		}
	}
}

func (p *IntegrityProcessor) deindexRecordLocked(source model.Key, rec model.Record) {
	for relName, rel := range rec.Relationships {
		if rel.HasMany {
			for relatedStr := range rel.Many {
				if related, ok := parseKey(relatedStr); ok {
					p.clearRevLocked(related, sourcePath(source, relName, related))
				}
			}
			continue
		}
		if rel.One != nil {
			p.clearRevLocked(*rel.One, sourcePath(source, relName, *rel.One))
		}
	}
}

func parseKey(s string) (model.Key, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return model.Key{Type: s[:i], ID: s[i+1:]}, true
		}
	}
	return model.Key{}, false
}

func (p *IntegrityProcessor) inverseOf(modelType, relationship string) (schema.RelationshipDescriptor, bool) {
	if p.schema == nil {
		return schema.RelationshipDescriptor{}, false
	}
	return p.schema.RelationshipDescriptor(modelType, relationship)
}
