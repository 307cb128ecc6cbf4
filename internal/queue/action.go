// Package queue implements the single-in-flight action queue every source
// capability (transform/update/fetch) serializes its side-effectful work
// through: each Action is retriable on failure, and an ActionQueue applies
// exactly one action at a time, suspending at a failed head until the
// caller retries or skips it.
package queue

import (
	"context"
	"sync"
)

// Thunk performs the action's work. It is re-invoked on every retry.
type Thunk func(ctx context.Context) (any, error)

// Action wraps a thunk with an awaitable that resolves on first success and
// rejects on failure. On failure the action resets so Process may be
// retried; an action may succeed at most once.
type Action struct {
	thunk Thunk

	mu        sync.Mutex
	processing bool
	succeeded bool
	done      chan struct{}
	value     any
	err       error
}

func NewAction(thunk Thunk) *Action {
	return &Action{thunk: thunk, done: make(chan struct{})}
}

// Complete returns a channel that closes once the action resolves or
// rejects for the current attempt. Read Value()/Err() after it closes.
func (a *Action) Complete() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (a *Action) Value() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

func (a *Action) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Action) Succeeded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.succeeded
}

// Process runs the thunk if the action is not already processing. On
// success it resolves Complete permanently. On failure it resets the
// "processing" flag and rebuilds Complete so a later Process call can
// retry.
func (a *Action) Process(ctx context.Context) {
	a.mu.Lock()
	if a.processing || a.succeeded {
		a.mu.Unlock()
		return
	}
	a.processing = true
	a.mu.Unlock()

	value, err := a.thunk(ctx)

	a.mu.Lock()
	a.processing = false
	if err == nil {
		a.succeeded = true
		a.value = value
		a.err = nil
		close(a.done)
	} else {
		a.err = err
		a.value = nil
		close(a.done)
		a.done = make(chan struct{})
	}
	a.mu.Unlock()
}
