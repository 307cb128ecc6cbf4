// Package source implements the capability mixins every source in the
// engine is assembled from: Transformable (ingress), and
// Updatable/Fetchable/Queryable (egress), all built on one shared event
// bus and one ActionQueue per capability, plus the bounded, de-duplicating
// applied-transform-id log every source must keep.
package source

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/nimbusdata/syncengine/internal/bus"
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/queue"
)

// Hooks is what a concrete source must supply. Base calls exactly one of
// these per public method invocation, wrapped in the before/apply/settle
// event lifecycle every capability shares.
type Hooks interface {
	DoTransform(ctx context.Context, t model.Transform) ([]model.Transform, error)
	DoUpdate(ctx context.Context, t model.Transform) (any, error)
	DoQuery(ctx context.Context, q any) (any, error)
	DoFetch(ctx context.Context, q any) (any, error)
}

// Base supplies the lifecycle every source capability shares: bus wiring,
// per-capability serialization via an ActionQueue, and applied-transform
// de-duplication. Embed it and implement Hooks.
type Base struct {
	Name   string
	Bus    *bus.Notifier
	Hooks  Hooks
	Policy Policy

	transformQueue *queue.ActionQueue
	updateQueue    *queue.ActionQueue
	fetchQueue     *queue.ActionQueue
	queryQueue     *queue.ActionQueue

	appliedMu  sync.Mutex
	applied    map[string]*list.Element
	appliedLRU *list.List
	maxApplied int
	maxAge     time.Duration
}

type appliedEntry struct {
	id string
	at time.Time
}

// New wires a Base around hooks. maxApplied bounds the de-dup log by
// count (0 means a reasonable default); maxAge additionally evicts
// entries older than the window regardless of count (0 disables age-based
// eviction).
func New(name string, hooks Hooks, maxApplied int, maxAge time.Duration) *Base {
	if maxApplied <= 0 {
		maxApplied = 10000
	}
	return &Base{
		Name:       name,
		Bus:        bus.New(),
		Hooks:      hooks,
		transformQueue: queue.NewActionQueue(),
		updateQueue:    queue.NewActionQueue(),
		fetchQueue:     queue.NewActionQueue(),
		queryQueue:     queue.NewActionQueue(),
		applied:    map[string]*list.Element{},
		appliedLRU: list.New(),
		maxApplied: maxApplied,
		maxAge:     maxAge,
	}
}

// Events exposes the source's bus for strategy wiring.
func (b *Base) Events() *bus.Notifier {
	return b.Bus
}

func (b *Base) hasApplied(id string) bool {
	b.appliedMu.Lock()
	defer b.appliedMu.Unlock()
	b.evictOldLocked()
	_, ok := b.applied[id]
	return ok
}

func (b *Base) markApplied(id string) {
	b.appliedMu.Lock()
	defer b.appliedMu.Unlock()
	if elem, ok := b.applied[id]; ok {
		b.appliedLRU.MoveToFront(elem)
		elem.Value.(*appliedEntry).at = time.Now()
		return
	}
	entry := &appliedEntry{id: id, at: time.Now()}
	elem := b.appliedLRU.PushFront(entry)
	b.applied[id] = elem
	for b.appliedLRU.Len() > b.maxApplied {
		b.evictOneLocked()
	}
	b.evictOldLocked()
}

// AppliedIDs returns every transform id currently in the de-dup log, most
// recently applied first. Durable backends use this to persist the log
// across restarts.
func (b *Base) AppliedIDs() []string {
	b.appliedMu.Lock()
	defer b.appliedMu.Unlock()
	b.evictOldLocked()
	ids := make([]string, 0, b.appliedLRU.Len())
	for elem := b.appliedLRU.Front(); elem != nil; elem = elem.Next() {
		ids = append(ids, elem.Value.(*appliedEntry).id)
	}
	return ids
}

// SeedApplied marks every id in ids as already applied, oldest first, so
// a restored applied-log replays in the same relative recency order it
// was persisted in. Used on startup to restore durable state before any
// new transform is processed.
func (b *Base) SeedApplied(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		b.markApplied(ids[i])
	}
}

func (b *Base) evictOneLocked() {
	back := b.appliedLRU.Back()
	if back == nil {
		return
	}
	b.appliedLRU.Remove(back)
	delete(b.applied, back.Value.(*appliedEntry).id)
}

func (b *Base) evictOldLocked() {
	if b.maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-b.maxAge)
	for {
		back := b.appliedLRU.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*appliedEntry)
		if entry.at.After(cutoff) {
			return
		}
		b.appliedLRU.Remove(back)
		delete(b.applied, entry.id)
	}
}
