package pgstate

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimbusdata/syncengine/internal/schema"
)

var pgTestCounter uint64

func integrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SYNCENGINE_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set SYNCENGINE_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func uniqueSourceName(prefix string) string {
	n := atomic.AddUint64(&pgTestCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func TestKeyMapBackend_LoadIsEmptyBeforeSave(t *testing.T) {
	dsn := integrationDSN(t)
	backend, err := NewKeyMapBackend(dsn)
	if err != nil {
		t.Fatalf("NewKeyMapBackend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	name := uniqueSourceName("keymap_it")
	km, err := backend.Load(context.Background(), name)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(km.Snapshot()) != 0 {
		t.Fatalf("expected empty KeyMap before any save, got %d entries", len(km.Snapshot()))
	}
}

func TestKeyMapBackend_SaveThenLoadRoundTrips(t *testing.T) {
	dsn := integrationDSN(t)
	backend, err := NewKeyMapBackend(dsn)
	if err != nil {
		t.Fatalf("NewKeyMapBackend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	name := uniqueSourceName("keymap_it")
	km := schema.NewKeyMap()
	km.PushRecord("planet", "local-1", map[string]string{"notionId": "remote-1"})

	if err := backend.Save(context.Background(), name, km); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := backend.Load(context.Background(), name)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	id, ok := loaded.IDFromKey("planet", "notionId", "remote-1")
	if !ok || id != "local-1" {
		t.Fatalf("expected restored mapping local-1, got %q ok=%v", id, ok)
	}
}

func TestAppliedTransformsBackend_SaveThenLoadRoundTrips(t *testing.T) {
	dsn := integrationDSN(t)
	backend, err := NewAppliedTransformsBackend(dsn)
	if err != nil {
		t.Fatalf("NewAppliedTransformsBackend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	name := uniqueSourceName("applied_it")
	if err := backend.Save(context.Background(), name, []string{"t1", "t2", "t3"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ids, err := backend.Load(context.Background(), name)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ids) != 3 || ids[0] != "t1" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
