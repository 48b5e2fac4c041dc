package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolverHitSkipsFetch(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	key := Key{Service: "vision/text", ContentHash: "doc1"}
	if err := store.Store(ctx, key, Entry{Payload: []byte("cached")}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	var calls atomic.Int32
	resolver := NewResolver(store, false)
	entry, hit, err := resolver.Do(ctx, key, func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !hit {
		t.Error("expected a cache hit")
	}
	if string(entry.Payload) != "cached" {
		t.Errorf("payload = %q, want cached entry", entry.Payload)
	}
	if calls.Load() != 0 {
		t.Errorf("fetch called %d times on a hit", calls.Load())
	}
}

func TestResolverConcurrentMissesShareOneCall(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	var calls atomic.Int32
	fetch := func(context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte("response"), nil
	}

	resolver := NewResolver(store, false)
	key := Key{Service: "openai/describe", ContentHash: "doc2", Params: "model=gpt-4o"}

	const goroutines = 8
	var wg sync.WaitGroup
	payloads := make([]string, goroutines)
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, _, err := resolver.Do(ctx, key, fetch)
			payloads[i], errs[i] = string(entry.Payload), err
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("service called %d times for one fingerprint, want 1", got)
	}
	for i := 0; i < goroutines; i++ {
		if errs[i] != nil {
			t.Errorf("goroutine %d: %v", i, errs[i])
		}
		if payloads[i] != "response" {
			t.Errorf("goroutine %d payload = %q", i, payloads[i])
		}
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d entries, want 1", store.Len())
	}
}

func TestResolverSequentialMissesHitAfterFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	var calls atomic.Int32
	fetch := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("once"), nil
	}

	resolver := NewResolver(store, false)
	key := Key{Service: "vision/objects", ContentHash: "doc3"}

	for i := 0; i < 3; i++ {
		if _, _, err := resolver.Do(ctx, key, fetch); err != nil {
			t.Fatalf("do #%d: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("service called %d times across repeats, want 1", got)
	}
}

func TestResolverBypassAlwaysCalls(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	key := Key{Service: "vision/text", ContentHash: "doc4"}
	if err := store.Store(ctx, key, Entry{Payload: []byte("stale")}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	var calls atomic.Int32
	resolver := NewResolver(store, true)
	entry, hit, err := resolver.Do(ctx, key, func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if hit {
		t.Error("bypass resolver reported a cache hit")
	}
	if string(entry.Payload) != "fresh" {
		t.Errorf("payload = %q, want fresh", entry.Payload)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch called %d times, want 1", calls.Load())
	}

	stored, found, err := store.Lookup(ctx, key)
	if err != nil || !found {
		t.Fatalf("lookup after bypass: found=%t err=%v", found, err)
	}
	if string(stored.Payload) != "fresh" {
		t.Errorf("store kept %q after bypass, want fresh", stored.Payload)
	}
}

func TestResolverPropagatesStoreFailure(t *testing.T) {
	store := NewMemory()
	store.Close()

	resolver := NewResolver(store, false)
	_, _, err := resolver.Do(context.Background(),
		Key{Service: "s", ContentHash: "c"},
		func(context.Context) ([]byte, error) { return []byte("x"), nil })
	if err == nil {
		t.Fatal("expected an error from the closed store")
	}
}
