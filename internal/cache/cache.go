// Package cache implements the relational in-memory record store: the
// single component every operation in the engine ultimately mutates, and
// the one place the five data-model invariants (record-existence,
// bidirectional-inverse, hasOne-scalar, hasMany-set, reverse-index
// completeness) must hold after every call to Patch.
package cache

import (
	"sync"

	"github.com/nimbusdata/syncengine/internal/model"
)

// Processor observes every operation Patch applies. Before/After/Finally
// may each return follow-up operations; those are applied (and themselves
// run through every processor's Before/After/Finally) before the next
// caller-supplied operation in the batch is considered. Implementations
// must only ever emit bounded, structurally smaller follow-ups; nothing
// in this package detects non-terminating processor cycles.
type Processor interface {
	Before(op model.Operation) ([]model.Operation, error)
	After(op model.Operation) ([]model.Operation, error)
	Finally(op model.Operation) []model.Operation
}

// Cache stores records under [type][id] and applies operations atomically
// (one at a time, in submission order) through the processor list.
type Cache struct {
	mu         sync.Mutex
	records    map[string]map[string]model.Record
	processors []Processor
}

// cacheAttachable lets a processor see the owning cache's already-locked
// record map from within its own Before/After/Finally hooks (e.g. to diff
// a replaceRecord's prior relationships against the incoming ones). The
// hook methods run while Patch already holds c.mu, so attached processors
// must only call the lock-free *Locked helpers, never Cache's exported,
// locking methods.
type cacheAttachable interface {
	attachCache(c *Cache)
}

func New(processors ...Processor) *Cache {
	c := &Cache{
		records:    map[string]map[string]model.Record{},
		processors: processors,
	}
	for _, p := range processors {
		if attachable, ok := p.(cacheAttachable); ok {
			attachable.attachCache(c)
		}
	}
	return c
}

// AddProcessor appends a processor to the end of the processor list. Not
// safe to call concurrently with Patch/Reset.
func (c *Cache) AddProcessor(p Processor) {
	c.processors = append(c.processors, p)
	if attachable, ok := p.(cacheAttachable); ok {
		attachable.attachCache(c)
	}
}

// RecordOf returns the stored record for k, if any.
func (c *Cache) RecordOf(k model.Key) (model.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked(k)
}

func (c *Cache) recordLocked(k model.Key) (model.Record, bool) {
	byID, ok := c.records[k.Type]
	if !ok {
		return model.Record{}, false
	}
	r, ok := byID[k.ID]
	return r, ok
}

// Has reports whether a record exists for k.
func (c *Cache) Has(k model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.recordLocked(k)
	return ok
}

// Patch applies ops one at a time, in order, each flowing through every
// processor's Before/After/Finally hooks before the next caller-supplied
// op runs. The whole call is atomic from an external observer's
// perspective: Patch holds the cache's single mutex for its duration.
func (c *Cache) Patch(ops ...model.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, op := range ops {
		if err := c.applyOneLocked(op); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) applyOneLocked(op model.Operation) error {
	before, err := c.runBeforeLocked(op)
	if err != nil {
		return err
	}
	for _, b := range before {
		if err := c.applyOneLocked(b); err != nil {
			return err
		}
	}

	if err := c.applyPrimitiveLocked(op); err != nil {
		return err
	}

	after, err := c.runAfterLocked(op)
	if err != nil {
		return err
	}
	for _, a := range after {
		if err := c.applyOneLocked(a); err != nil {
			return err
		}
	}

	for _, finallyOp := range c.runFinallyLocked(op) {
		if err := c.applyOneLocked(finallyOp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) runBeforeLocked(op model.Operation) ([]model.Operation, error) {
	var all []model.Operation
	for _, p := range c.processors {
		ops, err := p.Before(op)
		if err != nil {
			return nil, err
		}
		all = append(all, ops...)
	}
	return all, nil
}

func (c *Cache) runAfterLocked(op model.Operation) ([]model.Operation, error) {
	var all []model.Operation
	for _, p := range c.processors {
		ops, err := p.After(op)
		if err != nil {
			return nil, err
		}
		all = append(all, ops...)
	}
	return all, nil
}

func (c *Cache) runFinallyLocked(op model.Operation) []model.Operation {
	var all []model.Operation
	for _, p := range c.processors {
		all = append(all, p.Finally(op)...)
	}
	return all
}

// Reset replaces the entire record map and reinitializes every processor
// against the new contents (e.g. the integrity processor rebuilds _rev
// from scratch).
func (c *Cache) Reset(data map[string]map[string]model.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if data == nil {
		data = map[string]map[string]model.Record{}
	}
	c.records = data
	for _, p := range c.processors {
		if initializer, ok := p.(interface{ Reset(map[string]map[string]model.Record) }); ok {
			initializer.Reset(c.records)
		}
	}
}

// Dump returns a deep copy of every record, for snapshotting or the R1
// round-trip law (reset(data); dump(cache) == data up to relationship-set
// normalization).
func (c *Cache) Dump() map[string]map[string]model.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]model.Record, len(c.records))
	for modelType, byID := range c.records {
		inner := make(map[string]model.Record, len(byID))
		for id, rec := range byID {
			inner[id] = rec.Clone()
		}
		out[modelType] = inner
	}
	return out
}
