// Package badgerstate implements a badger/v4-backed alternative to a
// single-JSON-blob cache snapshot: one key per record, so a snapshot
// covering a large record set does not require rewriting one giant file
// on every patch. Uses DefaultOptions with a disabled logger, one write
// batch per Save, and an iterator over the whole keyspace inside a View
// transaction for bulk reads.
package badgerstate

import (
	"encoding/json"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/nimbusdata/syncengine/internal/cache"
	"github.com/nimbusdata/syncengine/internal/model"
)

// CacheSnapshotBackend persists a cache.Cache's full (type -> id ->
// Record) snapshot as one badger key per record, keyed "type\x00id".
type CacheSnapshotBackend struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database rooted at dir.
func Open(dir string) (*CacheSnapshotBackend, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &CacheSnapshotBackend{db: db}, nil
}

func (b *CacheSnapshotBackend) Close() error {
	return b.db.Close()
}

func recordKey(modelType, id string) []byte {
	return []byte(modelType + "\x00" + id)
}

func splitRecordKey(key []byte) (modelType, id string, ok bool) {
	s := string(key)
	idx := strings.IndexByte(s, '\x00')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// Save overwrites the entire persisted snapshot with the cache's current
// dump. Existing keys not present in the dump are deleted, keeping the
// badger store and the cache's in-memory graph in lockstep.
func (b *CacheSnapshotBackend) Save(c *cache.Cache) error {
	dump := c.Dump()

	wanted := make(map[string]struct{}, len(dump))
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for modelType, records := range dump {
		for id, rec := range records {
			key := recordKey(modelType, id)
			wanted[string(key)] = struct{}{}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := wb.Set(key, data); err != nil {
				return err
			}
		}
	}

	var stale [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := wanted[string(key)]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}

	return wb.Flush()
}

// Load reads the persisted snapshot back into the (type -> id -> Record)
// shape cache.Cache.Reset expects.
func (b *CacheSnapshotBackend) Load() (map[string]map[string]model.Record, error) {
	out := map[string]map[string]model.Record{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			modelType, id, ok := splitRecordKey(item.Key())
			if !ok {
				continue
			}
			var rec model.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if out[modelType] == nil {
				out[modelType] = map[string]model.Record{}
			}
			out[modelType][id] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Restore loads the persisted snapshot and applies it to c via Reset.
func (b *CacheSnapshotBackend) Restore(c *cache.Cache) error {
	data, err := b.Load()
	if err != nil {
		return err
	}
	c.Reset(data)
	return nil
}
