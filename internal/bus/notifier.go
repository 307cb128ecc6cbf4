// Package bus implements the multi-listener pub-sub core every source in
// the engine is built on: four emission disciplines (emit, settle, series,
// resolve) over one interned listener table per Notifier.
package bus

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Listener is invoked with whatever arguments the emitting call passed.
// Its return values are interpreted differently per discipline: Emit
// ignores them, Settle/Series look only at the error, Resolve looks at
// both the value and the error.
type Listener func(args ...any) (any, error)

type entry struct {
	id       uint64
	receiver any
	once     bool
	fn       Listener
}

// Notifier is an event bus keyed by string event name. Event names may be
// registered with whitespace-separated aliases; On splits the alias string
// once at registration time and stores one entry per name, matching the
// "normalize the call site once" guidance for dynamic event dispatch.
type Notifier struct {
	mu       sync.Mutex
	listeners map[string][]entry
	nextID   uint64
	Logger   *log.Logger
}

func New() *Notifier {
	return &Notifier{listeners: make(map[string][]entry)}
}

func (n *Notifier) logger() *log.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return log.Default()
}

// On registers fn against every whitespace-separated name in names.
func (n *Notifier) On(names string, receiver any, fn Listener) (unsubscribe func()) {
	return n.register(names, receiver, fn, false)
}

// One registers fn so it auto-deregisters after its first invocation,
// across any of the aliased names (whichever fires first consumes it).
func (n *Notifier) One(names string, receiver any, fn Listener) (unsubscribe func()) {
	return n.register(names, receiver, fn, true)
}

func (n *Notifier) register(names string, receiver any, fn Listener, once bool) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	e := entry{id: id, receiver: receiver, once: once, fn: fn}
	for _, name := range splitNames(names) {
		n.listeners[name] = append(n.listeners[name], e)
	}
	return func() { n.offByID(names, id) }
}

// Off removes every listener bound to receiver across the given names. If
// receiver is nil, all listeners for those names are removed.
func (n *Notifier) Off(names string, receiver any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, name := range splitNames(names) {
		existing := n.listeners[name]
		filtered := existing[:0:0]
		for _, e := range existing {
			if receiver != nil && e.receiver != receiver {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(n.listeners, name)
		} else {
			n.listeners[name] = filtered
		}
	}
}

func (n *Notifier) offByID(names string, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, name := range splitNames(names) {
		existing := n.listeners[name]
		filtered := existing[:0:0]
		for _, e := range existing {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(n.listeners, name)
		} else {
			n.listeners[name] = filtered
		}
	}
}

func (n *Notifier) snapshot(name string) []entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	existing := n.listeners[name]
	out := make([]entry, len(existing))
	copy(out, existing)
	return out
}

func (n *Notifier) consumeOnce(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for name, existing := range n.listeners {
		filtered := existing[:0:0]
		for _, e := range existing {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(n.listeners, name)
		} else {
			n.listeners[name] = filtered
		}
	}
}

func (n *Notifier) invoke(name string, e entry, args []any) (any, error) {
	if e.once {
		n.consumeOnce(e.id)
	}
	return e.fn(args...)
}

// Emit fires every listener synchronously, in registration order, ignoring
// return values and errors entirely.
func (n *Notifier) Emit(name string, args ...any) {
	for _, e := range n.snapshot(name) {
		if _, err := n.invoke(name, e, args); err != nil {
			n.logger().Printf("bus: emit listener for %q returned error (ignored): %v", name, err)
		}
	}
}

// Settle awaits every listener in order; a listener's failure is logged and
// does not prevent the remaining listeners from running.
func (n *Notifier) Settle(name string, args ...any) {
	for _, e := range n.snapshot(name) {
		if _, err := n.invoke(name, e, args); err != nil {
			n.logger().Printf("bus: settle listener for %q failed: %v", name, err)
		}
	}
}

// Series awaits every listener in order; the first failure aborts the
// remaining listeners and is returned to the caller.
func (n *Notifier) Series(name string, args ...any) error {
	for _, e := range n.snapshot(name) {
		if _, err := n.invoke(name, e, args); err != nil {
			return err
		}
	}
	return nil
}

// Resolve invokes listeners in order; the first to return a truthy value
// (non-nil, and not the boolean false) wins and its value becomes the
// result. If none do and none errored, Resolve returns an error.
func (n *Notifier) Resolve(name string, args ...any) (any, error) {
	for _, e := range n.snapshot(name) {
		value, err := n.invoke(name, e, args)
		if err != nil {
			return nil, err
		}
		if truthy(value) {
			return value, nil
		}
	}
	return nil, fmt.Errorf("bus: resolve %q: no listener produced a value", name)
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func splitNames(names string) []string {
	fields := strings.Fields(names)
	if len(fields) == 0 {
		return []string{names}
	}
	return fields
}
