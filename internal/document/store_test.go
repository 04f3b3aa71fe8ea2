package document

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(100, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestStoreLoadMissingRecord(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "abc123", "default")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreUpsertInsertsThenReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, "abc123", "default", "untitled.txt", "hello", "user-a"); err != nil {
		t.Fatalf("initial upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, "abc123", "default", "untitled.txt", "hello world", "user-b"); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	record, err := store.Load(ctx, "abc123", "default")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if record.Content != "hello world" {
		t.Fatalf("expected replaced content, got %q", record.Content)
	}
	if record.LastWriterUserID != "user-b" {
		t.Fatalf("expected last writer user-b, got %q", record.LastWriterUserID)
	}
}

func TestStoreListFilesOrderedByName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, "abc123", "f1", "untitled-2.txt", "", "user-a"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, "abc123", "default", "untitled.txt", "", "user-a"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, "zzzzzz", "default", "untitled.txt", "", "user-a"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	files, err := store.ListFiles(ctx, "abc123")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].FileName != "untitled-2.txt" || files[1].FileName != "untitled.txt" {
		t.Fatalf("unexpected ordering: %+v", files)
	}
}

func TestNewStoreRequiresDatabase(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Fatal("expected error for missing database")
	}
}
