package httpapi

import (
	"sync"

	"github.com/nimbusdata/syncengine/internal/model"
)

// NodeTransform tags an applied transform with the coordinator node name
// it came from, for the combined, chronologically merged log GET
// /transforms?since= serves. ULID ids sort lexically by creation time, so
// transforms from different nodes merge into one order without a shared
// sequence counter.
type NodeTransform struct {
	Node      string          `json:"node"`
	Transform model.Transform `json:"transform"`
}

// TransformLog is a bounded, in-memory record of every transform applied
// by any watched node, used only for introspection. It is not part of
// the sync engine's own correctness story.
type TransformLog struct {
	mu      sync.Mutex
	entries []NodeTransform
	max     int
}

func NewTransformLog(max int) *TransformLog {
	if max <= 0 {
		max = 10000
	}
	return &TransformLog{max: max}
}

// Record appends t, then trims the oldest entries past max. Install as a
// bus.Listener via NodeListener on every source whose transforms should
// be visible to introspection.
func (l *TransformLog) Record(node string, t model.Transform) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, NodeTransform{Node: node, Transform: t})
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = l.entries[over:]
	}
}

// NodeListener returns a bus.Listener that records every "transform"
// event emitted under node into the log.
func (l *TransformLog) NodeListener(node string) func(args ...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		if t, ok := args[0].(model.Transform); ok {
			l.Record(node, t)
		}
		return nil, nil
	}
}

// Since returns every recorded transform whose id sorts strictly after
// sinceID, in recording order. An empty sinceID returns the whole
// (bounded) log. Entries from different nodes arrive interleaved by
// record time, not merged by id, so this filters rather than binary
// searches.
func (l *TransformLog) Since(sinceID string) []NodeTransform {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sinceID == "" {
		out := make([]NodeTransform, len(l.entries))
		copy(out, l.entries)
		return out
	}
	var out []NodeTransform
	for _, e := range l.entries {
		if e.Transform.ID > sinceID {
			out = append(out, e)
		}
	}
	return out
}
