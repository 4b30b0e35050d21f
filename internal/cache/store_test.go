package cache

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryStore_SetGet(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewMemoryStoreWithClock(10*time.Second, clock.Now)

	store.Set("users", []string{"a"}, SetOptions{Namespace: "tenant-1"})

	entry, ok := store.Get("users", "tenant-1")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if entry.Stale(clock.now) {
		t.Error("fresh entry reported stale")
	}
	if !entry.ExpireAt.Equal(clock.now.Add(10 * time.Second)) {
		t.Errorf("unexpected expiry: %v", entry.ExpireAt)
	}

	if _, ok := store.Get("users", "tenant-2"); ok {
		t.Error("entry leaked into another namespace")
	}
}

func TestMemoryStore_StaleEntriesAreKept(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewMemoryStoreWithClock(5*time.Second, clock.Now)

	store.Set("orders", 42, SetOptions{})
	clock.now = clock.now.Add(6 * time.Second)

	entry, ok := store.Get("orders", "")
	if !ok {
		t.Fatal("stale entry should still be returned for fallback")
	}
	if !entry.Stale(clock.now) {
		t.Error("expected entry to be stale after TTL")
	}
}

func TestMemoryStore_NegativeTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewMemoryStoreWithClock(time.Second, clock.Now)

	store.Set("config", "v1", SetOptions{TTL: -1})
	clock.now = clock.now.Add(time.Hour)

	entry, _ := store.Get("config", DefaultNamespace)
	if entry.Stale(clock.now) {
		t.Error("entry without TTL reported stale")
	}
}

func TestMemoryStore_DeleteAndInvalidate(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	store.Set("a", 1, SetOptions{Namespace: "ns"})
	store.Set("b", 2, SetOptions{Namespace: "ns"})
	store.Set("c", 3, SetOptions{})

	if !store.Delete("a", "ns") {
		t.Error("expected delete to report removal")
	}
	if store.Delete("a", "ns") {
		t.Error("second delete should report nothing removed")
	}

	if n := store.InvalidateNamespace("ns"); n != 1 {
		t.Errorf("expected 1 invalidated entry, got %d", n)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 remaining entry, got %d", store.Len())
	}
}

func TestMemoryStore_InvalidateNestedNamespaces(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	store.Set("cart", 1, SetOptions{Namespace: "user:alice"})
	store.Set("cart", 2, SetOptions{Namespace: "user:alice/session:s1"})
	store.Set("cart", 3, SetOptions{Namespace: "user:alice/session:s2"})
	store.Set("cart", 4, SetOptions{Namespace: "user:alicia"})

	if n := store.InvalidateNamespace("user:alice/session:s1"); n != 1 {
		t.Errorf("expected 1 invalidated session entry, got %d", n)
	}
	if n := store.InvalidateNamespace("user:alice"); n != 2 {
		t.Errorf("expected user and remaining session entry invalidated, got %d", n)
	}
	if _, ok := store.Get("cart", "user:alicia"); !ok {
		t.Error("namespace sharing a prefix was invalidated")
	}
}
