// Package refresh coordinates background data refreshes for subscribers.
//
// An Engine owns a set of subscriptions, each refreshed on a cadence chosen
// by its priority tier. Scheduled refreshes are delivered straight to the
// subscriber; externally triggered ones (ForceRefresh, Push) go through a
// shared queue drained in bounded batches once per tick. The engine also
// keeps a ledger of optimistic client writes and reconciles them with server
// data, and records per-data-type refresh metrics.
//
// Construct one Engine at startup and pass it to whatever needs it.
package refresh

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/cache"
	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/transform"
)

// Transformer applies a named rule. *transform.Pipeline implements it.
type Transformer interface {
	Apply(ctx context.Context, name string, data any, rc transform.Context) (any, error)
}

// FailureNotifier is told when a data type keeps failing to refresh.
type FailureNotifier interface {
	NotifyRefreshFailure(ctx context.Context, dataType string, consecutive int, err error) error
}

// Config holds engine options. Zero values take the defaults from
// DefaultConfig.
type Config struct {
	EnableOptimisticUpdates  bool
	EnableConflictResolution bool
	RefreshInterval          time.Duration // fallback for priorities outside the tier table
	BatchSize                int
	Strategy                 Strategy
	FetchTimeout             time.Duration
	QueueTick                time.Duration
	CacheTTL                 time.Duration
	OptimisticTimeout        time.Duration // default confirmation timeout
	Intervals                map[Priority]time.Duration
	FailureThreshold         int // consecutive failures before notifying, 0 disables
}

// DefaultConfig returns the stock engine options.
func DefaultConfig() Config {
	return Config{
		EnableOptimisticUpdates:  true,
		EnableConflictResolution: true,
		RefreshInterval:          30 * time.Second,
		BatchSize:                10,
		Strategy:                 StrategyServerWins,
		FetchTimeout:             10 * time.Second,
		QueueTick:                time.Second,
		CacheTTL:                 15 * time.Second,
		OptimisticTimeout:        30 * time.Second,
		FailureThreshold:         3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.QueueTick <= 0 {
		c.QueueTick = d.QueueTick
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.OptimisticTimeout <= 0 {
		c.OptimisticTimeout = d.OptimisticTimeout
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets the failure notifier.
func WithNotifier(n FailureNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// Engine is the refresh coordinator.
type Engine struct {
	cfg         Config
	store       cache.Store
	transformer Transformer
	fetcher     *dataFetcher
	registry    *registry
	queue       *refreshQueue
	ledger      *Ledger
	metrics     *Metrics
	notifier    FailureNotifier
	logger      *zap.Logger
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	version atomic.Uint64

	failMu   sync.Mutex
	failures map[string]int
}

// New builds an engine. Subscriptions may be added before Start; queued
// deliveries are only processed once the engine is started, and ForceRefresh
// fails with ErrEngineNotStarted until then.
func New(fetcher Fetcher, store cache.Store, transformer Transformer, cfg Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "fetcher required")
	}
	if store == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "cache store required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.withDefaults()
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:         cfg,
		store:       store,
		transformer: transformer,
		registry:    newRegistry(),
		queue:       &refreshQueue{},
		logger:      logger,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		failures:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.metrics = NewMetrics(e.now)
	e.ledger = NewLedger(cfg.Strategy, cfg.EnableConflictResolution, e.metrics, e.now, logger)
	e.fetcher = &dataFetcher{
		remote:  fetcher,
		store:   store,
		timeout: cfg.FetchTimeout,
		ttl:     cfg.CacheTTL,
		now:     e.now,
		logger:  logger,
	}
	return e, nil
}

// Start launches the queue drain loop.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	e.wg.Add(1)
	go e.runQueue(e.ctx)

	e.logger.Info("refresh engine started",
		zap.Int("batchSize", e.cfg.BatchSize),
		zap.Duration("queueTick", e.cfg.QueueTick),
		zap.String("strategy", string(e.cfg.Strategy)),
	)
}

// Stop deactivates every subscription, rejects queued deliveries, and waits
// for all loops to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	for _, sub := range e.registry.drain() {
		sub.deactivate()
	}
	e.cancel()
	e.wg.Wait()
	e.rejectPending(ErrEngineStopped)
	e.ledger.Close()

	e.logger.Info("refresh engine stopped")
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Subscribe registers callback for dataType and starts its refresh loop. The
// first delivery arrives after one interval.
func (e *Engine) Subscribe(dataType string, callback Callback, opts SubscribeOptions) (string, error) {
	if dataType == "" {
		return "", errors.Wrap(ErrInvalidSubscription, "dataType required")
	}
	if callback == nil {
		return "", errors.Wrap(ErrInvalidSubscription, "callback required")
	}

	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Known() {
		e.logger.Warn("unknown priority, using fallback refresh interval",
			zap.String("priority", string(priority)),
			zap.Duration("interval", e.cfg.RefreshInterval),
		)
	}

	rules := make([]string, len(opts.TransformRules))
	copy(rules, opts.TransformRules)

	sub := &subscription{
		id:        uuid.NewString(),
		dataType:  dataType,
		priority:  priority,
		interval:  e.intervalFor(priority),
		rules:     rules,
		userID:    opts.UserID,
		sessionID: opts.SessionID,
		callback:  callback,
	}
	sub.active.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return "", ErrEngineStopped
	}

	ctx, cancel := context.WithCancel(e.ctx)
	sub.cancel = cancel
	e.registry.add(sub)

	e.wg.Add(1)
	go e.runLoop(ctx, sub)

	e.logger.Info("subscribed",
		zap.String("subscription", sub.id),
		zap.String("dataType", dataType),
		zap.String("priority", string(priority)),
		zap.Duration("interval", sub.interval),
		zap.Strings("rules", rules),
	)
	return sub.id, nil
}

// Unsubscribe deactivates a subscription. When it returns, no further
// callback for the subscription will run.
func (e *Engine) Unsubscribe(id string) error {
	sub, ok := e.registry.remove(id)
	if !ok {
		return errors.Wrapf(ErrSubscriptionNotFound, "%s", id)
	}
	sub.deactivate()

	e.logger.Info("unsubscribed",
		zap.String("subscription", id),
		zap.String("dataType", sub.dataType),
	)
	return nil
}

// Subscription returns a snapshot of an active subscription.
func (e *Engine) Subscription(id string) (SubscriptionInfo, bool) {
	sub, ok := e.registry.get(id)
	if !ok {
		return SubscriptionInfo{}, false
	}
	return sub.info(), true
}

// Subscriptions returns snapshots of every active subscription.
func (e *Engine) Subscriptions() []SubscriptionInfo {
	subs := e.registry.all()
	out := make([]SubscriptionInfo, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.info())
	}
	return out
}

// ForceRefresh fetches dataType for every matching subscription, bypassing
// cache freshness, and delivers each result through the queue. Results are
// returned in subscription order, one per matched subscription.
func (e *Engine) ForceRefresh(ctx context.Context, dataType, userID string) ([]any, error) {
	e.mu.Lock()
	started, stopped := e.started, e.stopped
	e.mu.Unlock()
	if stopped {
		return nil, ErrEngineStopped
	}
	if !started {
		return nil, errors.WithHint(ErrEngineNotStarted, "call Start before forcing a refresh")
	}

	subs := e.registry.matching(dataType, userID)
	if len(subs) == 0 {
		err := errors.Wrapf(ErrNoActiveSubscription, "%s", dataType)
		return nil, errors.WithHint(err, "subscribe to the data type before forcing a refresh")
	}

	results := make([]any, 0, len(subs))
	for _, sub := range subs {
		start := e.now()
		data, _, err := e.fetcher.load(ctx, sub.scope(), true)
		if err != nil {
			if ctx.Err() == nil {
				e.recordFailure(ctx, dataType, e.now().Sub(start), err)
			}
			return nil, err
		}

		md := Metadata{
			Source:      SourceManual,
			ChangeType:  ChangeFullRefresh,
			Performance: Performance{RefreshTime: e.now().Sub(start)},
		}

		select {
		case res := <-e.Enqueue(sub.id, data, md):
			if res.Err != nil {
				return nil, res.Err
			}
			results = append(results, res.Data)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// Push stores server-sent data in the cache and queues it for the
// subscriptions it belongs to: a push without a user reaches unscoped
// subscriptions only, a user push reaches every subscription of that user.
// It returns how many deliveries were queued.
func (e *Engine) Push(u PushUpdate) (int, error) {
	if u.DataType == "" {
		return 0, errors.Wrap(errors.ErrInvalidRequest, "dataType required")
	}
	if e.isStopped() {
		return 0, ErrEngineStopped
	}

	changeType := u.ChangeType
	if changeType == "" {
		changeType = ChangeModified
	}

	ns := namespaceFor(u.UserID)
	if changeType == ChangeRemoved {
		e.store.Delete(u.DataType, ns)
	} else {
		e.store.Set(u.DataType, u.Data, cache.SetOptions{Namespace: ns, TTL: e.cfg.CacheTTL})
	}

	subs := e.registry.owned(u.DataType, u.UserID)
	for _, sub := range subs {
		e.Enqueue(sub.id, u.Data, Metadata{
			Source:     SourceServerPush,
			Version:    u.Version,
			ChangeType: changeType,
		})
	}

	e.logger.Debug("server push queued",
		zap.String("dataType", u.DataType),
		zap.String("changeType", string(changeType)),
		zap.Int("subscribers", len(subs)),
	)
	return len(subs), nil
}

// ApplyOptimistic records a speculative write. A zero timeout uses the
// configured default.
func (e *Engine) ApplyOptimistic(dataType string, data map[string]any, userID string, timeout time.Duration) (string, error) {
	if !e.cfg.EnableOptimisticUpdates {
		return "", ErrOptimisticDisabled
	}
	if timeout == 0 {
		timeout = e.cfg.OptimisticTimeout
	}
	return e.ledger.Apply(dataType, data, userID, timeout)
}

// Confirm reconciles an optimistic update with server data.
func (e *Engine) Confirm(id string, serverData map[string]any) (Reconciliation, error) {
	return e.ledger.Confirm(id, serverData)
}

// ConfirmAt is Confirm with an explicit server write time, used by the
// timestamp strategy.
func (e *Engine) ConfirmAt(id string, serverData map[string]any, serverTime time.Time) (Reconciliation, error) {
	return e.ledger.ConfirmAt(id, serverData, serverTime)
}

// Rollback discards an optimistic update.
func (e *Engine) Rollback(id string) error {
	return e.ledger.Rollback(id)
}

// PendingUpdate returns an unconfirmed optimistic update.
func (e *Engine) PendingUpdate(id string) (OptimisticUpdate, bool) {
	return e.ledger.Get(id)
}

// InvalidateNamespace drops cached data for a namespace. Scheduled
// subscriptions refetch on their next tick.
func (e *Engine) InvalidateNamespace(namespace string) int {
	n := e.store.InvalidateNamespace(namespace)
	e.logger.Info("cache namespace invalidated",
		zap.String("namespace", namespace),
		zap.Int("entries", n),
	)
	return n
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	ActiveSubscriptions int                  `json:"activeSubscriptions"`
	ByPriority          map[Priority]int     `json:"byPriority"`
	QueueDepth          int                  `json:"queueDepth"`
	PendingOptimistic   int                  `json:"pendingOptimistic"`
	Totals              PerformanceMetrics   `json:"totals"`
	DataTypes           []PerformanceMetrics `json:"dataTypes"`
}

// Stats reports subscription counts, queue depth and refresh metrics.
func (e *Engine) Stats() Stats {
	subs := e.registry.all()
	byPriority := make(map[Priority]int)
	for _, s := range subs {
		byPriority[s.priority]++
	}

	return Stats{
		ActiveSubscriptions: len(subs),
		ByPriority:          byPriority,
		QueueDepth:          e.queue.len(),
		PendingOptimistic:   e.ledger.Len(),
		Totals:              e.metrics.Totals(),
		DataTypes:           e.metrics.All(),
	}
}

// Metrics returns the metrics for one data type.
func (e *Engine) Metrics(dataType string) (PerformanceMetrics, bool) {
	return e.metrics.Get(dataType)
}

func (e *Engine) nextVersion() string {
	return strconv.FormatUint(e.version.Add(1), 10)
}

func (e *Engine) recordSuccess(dataType string, elapsed time.Duration) {
	e.metrics.Record(dataType, elapsed, true)

	e.failMu.Lock()
	delete(e.failures, dataType)
	e.failMu.Unlock()
}

// recordFailure counts a failed attempt and notifies once per failure streak
// when the streak reaches the threshold.
func (e *Engine) recordFailure(ctx context.Context, dataType string, elapsed time.Duration, err error) {
	e.metrics.Record(dataType, elapsed, false)

	e.failMu.Lock()
	e.failures[dataType]++
	streak := e.failures[dataType]
	e.failMu.Unlock()

	if e.notifier == nil || e.cfg.FailureThreshold <= 0 || streak != e.cfg.FailureThreshold {
		return
	}

	go func() {
		if nerr := e.notifier.NotifyRefreshFailure(context.WithoutCancel(ctx), dataType, streak, err); nerr != nil {
			e.logger.Warn("failure notification not sent",
				zap.String("dataType", dataType),
				zap.Error(nerr),
			)
		}
	}()
}
