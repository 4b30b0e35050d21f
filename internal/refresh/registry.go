package refresh

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

// subscription is one caller's interest in a data type. Exactly one loop
// goroutine runs per active subscription.
type subscription struct {
	id        string
	seq       uint64
	dataType  string
	priority  Priority
	interval  time.Duration
	rules     []string
	userID    string
	sessionID string
	callback  Callback

	active atomic.Bool
	cancel context.CancelFunc

	// deliverMu serializes callbacks and lets unsubscribe wait for one in
	// progress. lastUpdate is guarded by it too.
	deliverMu  sync.Mutex
	lastUpdate time.Time
}

func (s *subscription) scope() scope {
	return scope{dataType: s.dataType, userID: s.userID, sessionID: s.sessionID}
}

// deliver invokes the callback unless the subscription has been deactivated.
// It reports whether the callback ran; a panicking callback is returned as an
// error. Conflicts are taken only once delivery is certain.
func (s *subscription) deliver(data any, md Metadata, conflicts func() []ConflictInfo, now time.Time) (delivered bool, err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if !s.active.Load() {
		return false, nil
	}
	if conflicts != nil {
		md.Conflicts = conflicts()
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("callback panic: %v", r)
		}
	}()

	s.callback(data, md)
	s.lastUpdate = now
	return true, nil
}

// deactivate flips the subscription inactive, stops its loop, and waits for
// a callback in progress to return.
func (s *subscription) deactivate() {
	s.active.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.deliverMu.Lock()
	s.deliverMu.Unlock() //nolint:staticcheck // barrier for an in-flight callback
}

func (s *subscription) info() SubscriptionInfo {
	s.deliverMu.Lock()
	last := s.lastUpdate
	s.deliverMu.Unlock()

	rules := make([]string, len(s.rules))
	copy(rules, s.rules)

	return SubscriptionInfo{
		ID:             s.id,
		DataType:       s.dataType,
		Priority:       s.priority,
		Interval:       s.interval,
		TransformRules: rules,
		UserID:         s.userID,
		SessionID:      s.sessionID,
		LastUpdate:     last,
		IsActive:       s.active.Load(),
	}
}

// registry owns the active subscriptions.
type registry struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	seq  uint64
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]*subscription)}
}

func (r *registry) add(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	s.seq = r.seq
	r.subs[s.id] = s
}

func (r *registry) remove(id string) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	return s, ok
}

// removeIf deletes id only if it still maps to s.
func (r *registry) removeIf(id string, s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[id] == s {
		delete(r.subs, id)
	}
}

func (r *registry) get(id string) (*subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}

// matching returns active subscriptions for dataType in subscription order.
// A non-empty userID restricts the match to that user.
func (r *registry) matching(dataType, userID string) []*subscription {
	r.mu.RLock()
	var out []*subscription
	for _, s := range r.subs {
		if s.dataType != dataType || !s.active.Load() {
			continue
		}
		if userID != "" && s.userID != userID {
			continue
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// owned returns the active subscriptions for dataType whose user is exactly
// userID. An empty userID selects only unscoped subscriptions.
func (r *registry) owned(dataType, userID string) []*subscription {
	r.mu.RLock()
	var out []*subscription
	for _, s := range r.subs {
		if s.dataType == dataType && s.userID == userID && s.active.Load() {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *registry) all() []*subscription {
	r.mu.RLock()
	out := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *registry) drain() []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*subscription, 0, len(r.subs))
	for id, s := range r.subs {
		out = append(out, s)
		delete(r.subs, id)
	}
	return out
}
