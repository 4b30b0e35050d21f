package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultNamespace holds entries that are not scoped to a user.
const DefaultNamespace = "global"

// NamespaceSeparator joins a namespace to a narrower one nested under it,
// e.g. "user:alice/session:s1".
const NamespaceSeparator = "/"

// Entry is a cached value with its storage and expiry times.
type Entry struct {
	Value    any
	StoredAt time.Time
	ExpireAt time.Time // zero => no TTL
}

// Stale reports whether the entry is past its expiry at now.
func (e Entry) Stale(now time.Time) bool {
	return !e.ExpireAt.IsZero() && !now.Before(e.ExpireAt)
}

// SetOptions controls where and for how long a value is stored.
type SetOptions struct {
	Namespace string
	TTL       time.Duration // zero uses the store default, negative disables expiry
}

// Store is a namespaced key/value store. Stale entries are returned by Get so
// callers can fall back to them; Stale decides freshness.
type Store interface {
	Get(key, namespace string) (Entry, bool)
	Set(key string, value any, opts SetOptions)
	Delete(key, namespace string) bool
	InvalidateNamespace(namespace string) int
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]map[string]Entry // namespace -> key -> entry
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryStore creates a store whose entries expire after defaultTTL unless
// overridden per Set.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(defaultTTL, time.Now)
}

// NewMemoryStoreWithClock creates a store with an injectable clock (for testing)
func NewMemoryStoreWithClock(defaultTTL time.Duration, now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]map[string]Entry),
		defaultTTL: defaultTTL,
		now:        now,
	}
}

// Compile-time interface verification
var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(key, namespace string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.entries[normalize(namespace)]
	if !ok {
		return Entry{}, false
	}
	e, ok := ns[key]
	return e, ok
}

func (s *MemoryStore) Set(key string, value any, opts SetOptions) {
	now := s.now()
	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	entry := Entry{Value: value, StoredAt: now}
	if ttl > 0 {
		entry.ExpireAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	namespace := normalize(opts.Namespace)
	if s.entries[namespace] == nil {
		s.entries[namespace] = make(map[string]Entry)
	}
	s.entries[namespace][key] = entry
}

func (s *MemoryStore) Delete(key, namespace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	namespace = normalize(namespace)
	ns, ok := s.entries[namespace]
	if !ok {
		return false
	}
	if _, ok := ns[key]; !ok {
		return false
	}
	delete(ns, key)
	if len(ns) == 0 {
		delete(s.entries, namespace)
	}
	return true
}

// InvalidateNamespace drops every entry in namespace and in the namespaces
// nested under it, and returns how many were removed.
func (s *MemoryStore) InvalidateNamespace(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	namespace = normalize(namespace)
	prefix := namespace + NamespaceSeparator
	count := 0
	for name, ns := range s.entries {
		if name == namespace || strings.HasPrefix(name, prefix) {
			count += len(ns)
			delete(s.entries, name)
		}
	}
	return count
}

// Len returns the number of entries across all namespaces.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ns := range s.entries {
		n += len(ns)
	}
	return n
}

func normalize(namespace string) string {
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}
