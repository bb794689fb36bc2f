package cache

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemoryStore(clock.Now), clock
}

func TestStorePutAndLookup(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Put("user", "sig-a", []byte(`{"id":1}`), time.Minute); err != nil {
		t.Fatalf("put error: %v", err)
	}

	value, result := store.Lookup("user", "sig-a")
	if result != ResultHit {
		t.Fatalf("expected hit, got %s", result)
	}
	if string(value) != `{"id":1}` {
		t.Fatalf("cached payload mismatch: %s", string(value))
	}
}

func TestStoreLookupMissing(t *testing.T) {
	store, _ := newTestStore(t)
	if _, result := store.Lookup("missing", "sig"); result != ResultMiss {
		t.Fatalf("expected miss, got %s", result)
	}
}

func TestStoreSignatureMismatchDiscardsEntry(t *testing.T) {
	store, _ := newTestStore(t)
	_ = store.Put("user", "sig-a", []byte(`1`), time.Minute)

	if _, result := store.Lookup("user", "sig-b"); result != ResultStale {
		t.Fatalf("expected stale on signature mismatch, got %s", result)
	}
	if store.Len() != 0 {
		t.Fatalf("stale entry should be removed, len=%d", store.Len())
	}
	if _, result := store.Lookup("user", "sig-a"); result != ResultMiss {
		t.Fatalf("discarded entry must not come back, got %s", result)
	}
}

func TestStoreExpiry(t *testing.T) {
	store, clock := newTestStore(t)
	_ = store.Put("user", "sig", []byte(`1`), 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, result := store.Lookup("user", "sig"); result != ResultHit {
		t.Fatalf("expected hit before expiry, got %s", result)
	}

	clock.Advance(time.Second)
	if _, result := store.Lookup("user", "sig"); result != ResultStale {
		t.Fatalf("expected stale at expiresAt, got %s", result)
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry should be removed")
	}
}

func TestStoreZeroTTLNeverHits(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Put("user", "sig", []byte(`1`), 0); err != nil {
		t.Fatalf("zero ttl should be accepted: %v", err)
	}
	if _, result := store.Lookup("user", "sig"); result != ResultStale {
		t.Fatalf("zero ttl entry is already expired, got %s", result)
	}
}

func TestStoreRejectsNegativeTTL(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Put("user", "sig", []byte(`1`), -time.Second); !errors.Is(err, ErrNegativeTTL) {
		t.Fatalf("expected ErrNegativeTTL, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("negative ttl must not store")
	}
}

func TestStorePutOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	_ = store.Put("user", "sig-a", []byte(`1`), time.Minute)
	_ = store.Put("user", "sig-b", []byte(`2`), time.Minute)

	value, result := store.Lookup("user", "sig-b")
	if result != ResultHit || string(value) != "2" {
		t.Fatalf("expected overwritten value, got %s (%s)", value, result)
	}
}

func TestStorePutCopiesValue(t *testing.T) {
	store, _ := newTestStore(t)
	buf := []byte(`"abc"`)
	_ = store.Put("user", "sig", buf, time.Minute)
	buf[1] = 'z'

	value, _ := store.Lookup("user", "sig")
	if string(value) != `"abc"` {
		t.Fatalf("store must not alias caller buffer: %s", value)
	}
}
