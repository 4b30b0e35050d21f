package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/refreshd/internal/cache"
	"github.com/dgnsrekt/refreshd/internal/errors"
)

// Fetcher retrieves the current server value of a data type.
type Fetcher interface {
	Fetch(ctx context.Context, dataType, userID, sessionID string) (any, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, dataType, userID, sessionID string) (any, error)

func (f FetcherFunc) Fetch(ctx context.Context, dataType, userID, sessionID string) (any, error) {
	return f(ctx, dataType, userID, sessionID)
}

// scope is what a fetch is keyed and cached by.
type scope struct {
	dataType  string
	userID    string
	sessionID string
}

// namespace returns the cache namespace: one per user, narrowed to the
// session when there is one, shared otherwise.
func (s scope) namespace() string {
	return sessionNamespace(s.userID, s.sessionID)
}

func sessionNamespace(userID, sessionID string) string {
	if sessionID == "" {
		return namespaceFor(userID)
	}
	if userID == "" {
		return "session:" + sessionID
	}
	return namespaceFor(userID) + cache.NamespaceSeparator + "session:" + sessionID
}

func namespaceFor(userID string) string {
	if userID == "" {
		return cache.DefaultNamespace
	}
	return "user:" + userID
}

// dataFetcher reads through the cache, coalesces concurrent fetches for the
// same scope, and falls back to the last cached value when the remote fails.
type dataFetcher struct {
	remote  Fetcher
	store   cache.Store
	group   singleflight.Group
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// load returns data for s. fromCache is true when a cached value was used,
// either because it was fresh or because the fetch failed. force skips the
// freshness check but still falls back to the cache on failure.
//
// A shared fetch is detached from the caller that started it, so one caller
// giving up never fails the others waiting on the same scope.
func (f *dataFetcher) load(ctx context.Context, s scope, force bool) (data any, fromCache bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	entry, cached := f.store.Get(s.dataType, s.namespace())
	if cached && !force && !entry.Stale(f.now()) {
		return entry.Value, true, nil
	}

	key := s.namespace() + "\x00" + s.dataType
	ch := f.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()

		out, err := f.remote.Fetch(fetchCtx, s.dataType, s.userID, s.sessionID)
		if err != nil {
			return nil, err
		}
		f.store.Set(s.dataType, out, cache.SetOptions{Namespace: s.namespace(), TTL: f.ttl})
		return out, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	fetchErr := res.Err
	if fetchErr == nil {
		return res.Val, false, nil
	}

	if cached {
		f.logger.Warn("fetch failed, serving cached data",
			zap.String("dataType", s.dataType),
			zap.String("namespace", s.namespace()),
			zap.Time("storedAt", entry.StoredAt),
			zap.Error(fetchErr),
		)
		return entry.Value, true, nil
	}

	err = errors.Mark(errors.Wrapf(fetchErr, "fetching %s", s.dataType), ErrFetch)
	if errors.Is(fetchErr, context.DeadlineExceeded) {
		err = errors.WithDetailf(err, "fetch timeout %s", f.timeout)
	}
	return nil, false, err
}
