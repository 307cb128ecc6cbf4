// Package localsource implements the local storage reference Source:
// records persisted one-file-per-record under a stable key derived from
// record identity, with an fsnotify watch synthesizing transforms for
// changes that did not originate from this process's own writes.
package localsource

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nimbusdata/syncengine/internal/model"
)

// Backend persists one JSON file per record under dir, named by a
// filesystem-safe encoding of the record's key. Writes are atomic
// (write to a .tmp sibling, then rename).
type Backend struct {
	dir string
	mu  sync.Mutex
}

func NewBackend(dir string) (*Backend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("localsource: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Backend{dir: dir}, nil
}

func (b *Backend) Dir() string { return b.dir }

// fileName derives a stable, filesystem-safe name from a record key.
// Types and ids may contain characters not safe in a path segment on
// every OS, so both are percent-escaped via a minimal allowlist rather
// than url.PathEscape, keeping the on-disk name human-diffable for the
// common alphanumeric case.
func fileName(k model.Key) string {
	return escape(k.Type) + "__" + escape(k.ID) + ".json"
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

func (b *Backend) path(k model.Key) string {
	return filepath.Join(b.dir, fileName(k))
}

// Put writes rec atomically, overwriting any existing file for its key.
func (b *Backend) Put(rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	path := b.path(rec.Key())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get reads the record stored under k, if any.
func (b *Backend) Get(k model.Key) (*model.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path(k))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Remove deletes the file stored under k. A missing file is not an error.
func (b *Backend) Remove(k model.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path(k))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// VerifyContains reports whether a file matching k's on-disk encoding
// exists and holds want, by comparing the JSON encoding of the stored
// record with the JSON encoding of want.
func (b *Backend) VerifyContains(k model.Key, want model.Record) (bool, error) {
	got, err := b.Get(k)
	if err != nil {
		return false, err
	}
	if got == nil {
		return false, nil
	}
	gotJSON, err := json.Marshal(*got)
	if err != nil {
		return false, err
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return false, err
	}
	return string(gotJSON) == string(wantJSON), nil
}

// VerifyDoesNotContain reports whether no file exists for k.
func (b *Backend) VerifyDoesNotContain(k model.Key) (bool, error) {
	got, err := b.Get(k)
	if err != nil {
		return false, err
	}
	return got == nil, nil
}

// keyFromFileName is the inverse of fileName, used by the fsnotify watch
// to recover which record a changed path corresponds to. Names without the
// ".json" suffix, such as Put's ".tmp" siblings, are rejected.
func keyFromFileName(name string) (model.Key, bool) {
	if !strings.HasSuffix(name, ".json") {
		return model.Key{}, false
	}
	name = strings.TrimSuffix(name, ".json")
	idx := strings.Index(name, "__")
	if idx < 0 {
		return model.Key{}, false
	}
	return model.Key{Type: unescape(name[:idx]), ID: unescape(name[idx+2:])}, true
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			var r rune
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02x", &r); err == nil {
				b.WriteByte(byte(r))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
