package cache

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	key := Key{Service: "vision/text", ContentHash: "abc", Params: "features=text"}
	if _, found, err := store.Lookup(ctx, key); err != nil || found {
		t.Fatalf("lookup on empty store: found=%t err=%v", found, err)
	}

	entry := Entry{Payload: []byte(`{"text":"dear sir"}`), CreatedAt: time.Unix(1700000000, 0).UTC()}
	if err := store.Store(ctx, key, entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, found, err := store.Lookup(ctx, key)
	if err != nil || !found {
		t.Fatalf("lookup: found=%t err=%v", found, err)
	}
	if string(got.Payload) != string(entry.Payload) {
		t.Errorf("payload = %q, want %q", got.Payload, entry.Payload)
	}
	if !got.CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, entry.CreatedAt)
	}

	n, err := store.Count(ctx, "")
	if err != nil || n != 1 {
		t.Errorf("count = %d, %v; want 1", n, err)
	}
	n, err = store.Count(ctx, "vision/text")
	if err != nil || n != 1 {
		t.Errorf("count(vision/text) = %d, %v; want 1", n, err)
	}

	removed, err := store.Clear(ctx)
	if err != nil || removed != 1 {
		t.Errorf("clear removed %d, %v; want 1", removed, err)
	}
	if _, found, _ := store.Lookup(ctx, key); found {
		t.Error("entry survived Clear")
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calls.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key := Key{Service: "openai/describe", ContentHash: "h1", Params: "model=gpt-4o"}
	if err := store.Store(ctx, key, Entry{Payload: []byte("summary")}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, found, err := reopened.Lookup(ctx, key)
	if err != nil || !found {
		t.Fatalf("lookup after reopen: found=%t err=%v", found, err)
	}
	if string(got.Payload) != "summary" {
		t.Errorf("payload = %q, want %q", got.Payload, "summary")
	}
}

func TestSQLiteDetectsTamperedEntry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calls.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key := Key{Service: "vision/text", ContentHash: "orig", Params: ""}
	if err := store.Store(ctx, key, Entry{Payload: []byte("payload")}); err != nil {
		t.Fatalf("store: %v", err)
	}
	store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("raw open: %v", err)
	}
	if _, err := db.Exec(`UPDATE service_calls SET content_hash = 'tampered'`); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	db.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	_, _, err = reopened.Lookup(ctx, key)
	if !errors.Is(err, ErrInconsistent) {
		t.Errorf("lookup of tampered row: got %v, want ErrInconsistent", err)
	}
}

func TestSQLiteServices(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	keys := []Key{
		{Service: "vision/text", ContentHash: "a"},
		{Service: "vision/text", ContentHash: "b"},
		{Service: "vision/objects", ContentHash: "a"},
	}
	for _, k := range keys {
		if err := store.Store(ctx, k, Entry{Payload: []byte("x")}); err != nil {
			t.Fatalf("store %+v: %v", k, err)
		}
	}

	services, err := store.Services(ctx)
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	if services["vision/text"] != 2 || services["vision/objects"] != 1 {
		t.Errorf("services = %v", services)
	}
}
