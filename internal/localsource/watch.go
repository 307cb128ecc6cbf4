package localsource

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nimbusdata/syncengine/internal/model"
)

// suppressionWindow bounds how long a just-written key is ignored by the
// watch loop, mirroring store.go's own writeback suppression window: long
// enough to absorb the OS's own write+rename event pair, short enough
// that a genuine external edit arriving moments later is not missed.
const suppressionWindow = 500 * time.Millisecond

type watch struct {
	backend *Backend
	logger  *log.Logger

	mu         sync.Mutex
	suppressed map[model.Key]time.Time
}

func newWatch(backend *Backend, logger *log.Logger) *watch {
	if logger == nil {
		logger = log.Default()
	}
	return &watch{backend: backend, logger: logger, suppressed: map[model.Key]time.Time{}}
}

func (w *watch) suppressSelfWrite(k model.Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suppressed[k] = time.Now().Add(suppressionWindow)
}

func (w *watch) isSuppressed(k model.Key) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	expiry, ok := w.suppressed[k]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(w.suppressed, k)
		return false
	}
	return true
}

// Watch starts an fsnotify loop over s.backend's directory and installs
// it on s, so future writes originating from DoTransform/DoUpdate are
// suppressed in the self-write window above. It calls onExternalChange
// with a synthesized transform for every non-suppressed filesystem event:
// replaceRecord for a write or create, removeRecord for a remove or
// rename (no addRecord is ever synthesized); the caller is expected to wire
// onExternalChange to s.Transform so externally-edited files flow back
// into the engine as ordinary transforms.
func (s *Source) Watch(ctx context.Context, logger *log.Logger, onExternalChange func(model.Transform)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.backend.Dir()); err != nil {
		watcher.Close()
		return err
	}

	s.watch = newWatch(s.backend, logger)
	w := s.watch

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Printf("localsource: watch error: %v", err)
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(ev, onExternalChange)
			}
		}
	}()
	return nil
}

func (w *watch) handleEvent(ev fsnotify.Event, onExternalChange func(model.Transform)) {
	k, ok := keyFromFileName(filepath.Base(ev.Name))
	if !ok {
		return
	}
	if w.isSuppressed(k) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		onExternalChange(model.NewTransform(model.RemoveRecord(k)))
	case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		rec, err := w.backend.Get(k)
		if err != nil || rec == nil {
			return
		}
		onExternalChange(model.NewTransform(model.ReplaceRecord(*rec)))
	}
}
