// Package pgstate implements durable, Postgres-backed persistence for the
// pieces of source state that must survive a process restart: the
// type/local-id to server-id KeyMap, and the set of transform ids a
// source has already applied. Connection init is lazy via sync.Once, with
// a single upsert-by-key row per logical table.
package pgstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimbusdata/syncengine/internal/schema"
)

const (
	defaultOperationTimeout = 5 * time.Second
	keyMapTableName         = "syncengine_keymap"
	appliedTableName        = "syncengine_applied_transforms"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// KeyMapBackend persists one schema.KeyMap snapshot per named source.
type KeyMapBackend struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewKeyMapBackend(dsn string) (*KeyMapBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("pgstate: dsn is required")
	}
	return &KeyMapBackend{dsn: dsn, openDB: sql.Open}, nil
}

func (b *KeyMapBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				source_name TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(keyMapTableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

// Load returns the persisted KeyMap for sourceName, or a fresh empty one
// if nothing has been saved yet.
func (b *KeyMapBackend) Load(ctx context.Context, sourceName string) (*schema.KeyMap, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE source_name = $1", quoteIdentifier(keyMapTableName))
	var payload string
	err := b.db.QueryRowContext(ctx, query, sourceName).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.NewKeyMap(), nil
	}
	if err != nil {
		return nil, err
	}
	var entries []schema.KeyMapEntry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return nil, err
	}
	km := schema.NewKeyMap()
	km.Restore(entries)
	return km, nil
}

// Save upserts the given KeyMap's snapshot for sourceName.
func (b *KeyMapBackend) Save(ctx context.Context, sourceName string, km *schema.KeyMap) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	snapshot, err := json.Marshal(km.Snapshot())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (source_name, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source_name)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, quoteIdentifier(keyMapTableName))
	_, err = b.db.ExecContext(ctx, query, sourceName, string(snapshot))
	return err
}

func (b *KeyMapBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
