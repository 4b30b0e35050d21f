package refresh

import "github.com/dgnsrekt/refreshd/internal/errors"

var (
	// ErrFetch marks a remote fetch failure that no cached value could cover.
	ErrFetch = errors.New("fetch failed")

	// ErrTransformation marks a rule that was missing or failed. It is only
	// ever logged; the rule is skipped.
	ErrTransformation = errors.New("transformation failed")

	// ErrSubscriptionNotFound is returned for queued deliveries whose
	// subscription went away, and by Unsubscribe for unknown ids.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrNoActiveSubscription is returned by ForceRefresh when nothing is
	// subscribed to the data type.
	ErrNoActiveSubscription = errors.New("no active subscription")

	ErrUpdateNotFound      = errors.New("optimistic update not found")
	ErrOptimisticDisabled  = errors.New("optimistic updates are disabled")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrEngineStopped       = errors.New("refresh engine stopped")
	ErrEngineNotStarted    = errors.New("refresh engine not started")
)
