package pgstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// AppliedTransformsBackend persists the set of transform ids a named
// source has already applied, so a restarted process does not re-apply
// (and, for a remote source, does not re-request) a transform it saw
// before the restart.
type AppliedTransformsBackend struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewAppliedTransformsBackend(dsn string) (*AppliedTransformsBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("pgstate: dsn is required")
	}
	return &AppliedTransformsBackend{dsn: dsn, openDB: sql.Open}, nil
}

func (b *AppliedTransformsBackend) ensureReady() error {
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
				ids TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(appliedTableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

// Load returns the persisted applied-id list for sourceName, most recent
// first, or nil if nothing has been saved yet.
func (b *AppliedTransformsBackend) Load(ctx context.Context, sourceName string) ([]string, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT ids FROM %s WHERE source_name = $1", quoteIdentifier(appliedTableName))
	var payload string
	err := b.db.QueryRowContext(ctx, query, sourceName).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(payload), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Save upserts ids (as returned by source.Base.AppliedIDs) for sourceName.
func (b *AppliedTransformsBackend) Save(ctx context.Context, sourceName string, ids []string) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (source_name, ids, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source_name)
		DO UPDATE SET ids = EXCLUDED.ids, updated_at = NOW()`, quoteIdentifier(appliedTableName))
	_, err = b.db.ExecContext(ctx, query, sourceName, string(payload))
	return err
}

func (b *AppliedTransformsBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
