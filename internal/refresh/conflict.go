package refresh

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

// Ledger tracks optimistic updates until they are confirmed, rolled back, or
// time out. It only keeps bookkeeping: reverting rendered state after a
// rollback is the caller's job.
type Ledger struct {
	strategy Strategy
	resolve  bool
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	updates   map[string]*pendingUpdate
	conflicts map[string][]ConflictInfo // dataType -> awaiting next delivery
}

type pendingUpdate struct {
	update OptimisticUpdate
	timer  *time.Timer
}

// NewLedger creates a ledger. When resolve is false, confirmations accept the
// server data without recording conflicts.
func NewLedger(strategy Strategy, resolve bool, metrics *Metrics, now func() time.Time, logger *zap.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		strategy:  strategy,
		resolve:   resolve,
		metrics:   metrics,
		logger:    logger,
		now:       now,
		updates:   make(map[string]*pendingUpdate),
		conflicts: make(map[string][]ConflictInfo),
	}
}

// Apply records a speculative write. If it is not confirmed within timeout it
// is dropped from the ledger.
func (l *Ledger) Apply(dataType string, data map[string]any, userID string, timeout time.Duration) (string, error) {
	if dataType == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "dataType required")
	}
	if timeout <= 0 {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "confirmation timeout must be positive, got %s", timeout)
	}

	p := &pendingUpdate{
		update: OptimisticUpdate{
			ID:                  uuid.NewString(),
			DataType:            dataType,
			Data:                copyRecord(data),
			Timestamp:           l.now(),
			UserID:              userID,
			ConfirmationTimeout: timeout,
		},
	}
	id := p.update.ID

	l.mu.Lock()
	l.updates[id] = p
	p.timer = time.AfterFunc(timeout, func() { l.expire(id, p) })
	l.mu.Unlock()

	l.logger.Debug("optimistic update applied",
		zap.String("id", id),
		zap.String("dataType", dataType),
		zap.Duration("timeout", timeout),
	)
	return id, nil
}

// Confirm reconciles the update with serverData, using the current time as
// the server write time.
func (l *Ledger) Confirm(id string, serverData map[string]any) (Reconciliation, error) {
	return l.ConfirmAt(id, serverData, l.now())
}

// ConfirmAt reconciles the update with serverData written at serverTime.
// Conflicts found are held until the next delivery for the data type.
func (l *Ledger) ConfirmAt(id string, serverData map[string]any, serverTime time.Time) (Reconciliation, error) {
	l.mu.Lock()
	p, ok := l.updates[id]
	if !ok {
		l.mu.Unlock()
		return Reconciliation{}, errors.Wrapf(ErrUpdateNotFound, "%s", id)
	}
	p.timer.Stop()
	delete(l.updates, id)
	p.update.IsConfirmed = true

	var rec Reconciliation
	if l.resolve {
		rec = reconcile(l.strategy, p.update, serverData, serverTime)
	} else {
		rec = Reconciliation{Data: copyRecord(serverData)}
	}
	rec.UpdateID = id
	rec.DataType = p.update.DataType

	if len(rec.Conflicts) > 0 {
		l.conflicts[rec.DataType] = append(l.conflicts[rec.DataType], rec.Conflicts...)
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordConfirmation(rec.DataType, len(rec.Conflicts) > 0)
	}
	l.logger.Debug("optimistic update confirmed",
		zap.String("id", id),
		zap.String("dataType", rec.DataType),
		zap.Int("conflicts", len(rec.Conflicts)),
	)
	return rec, nil
}

// Rollback discards an update.
func (l *Ledger) Rollback(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.updates[id]
	if !ok {
		return errors.Wrapf(ErrUpdateNotFound, "%s", id)
	}
	p.timer.Stop()
	delete(l.updates, id)
	return nil
}

// Get returns a pending update.
func (l *Ledger) Get(id string) (OptimisticUpdate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.updates[id]
	if !ok {
		return OptimisticUpdate{}, false
	}
	return p.update, true
}

// Len returns the number of pending updates.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.updates)
}

// TakeConflicts removes and returns the conflicts waiting for dataType.
func (l *Ledger) TakeConflicts(dataType string) []ConflictInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.conflicts[dataType]
	delete(l.conflicts, dataType)
	return c
}

// Close stops every pending timeout.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, p := range l.updates {
		p.timer.Stop()
		delete(l.updates, id)
	}
}

func (l *Ledger) expire(id string, p *pendingUpdate) {
	l.mu.Lock()
	current, ok := l.updates[id]
	if !ok || current != p {
		l.mu.Unlock()
		return
	}
	delete(l.updates, id)
	l.mu.Unlock()

	l.logger.Info("optimistic update rolled back after timeout",
		zap.String("id", id),
		zap.String("dataType", p.update.DataType),
		zap.Duration("timeout", p.update.ConfirmationTimeout),
	)
}

// reconcile compares top-level fields present on both sides.
func reconcile(strategy Strategy, update OptimisticUpdate, server map[string]any, serverTime time.Time) Reconciliation {
	client := update.Data

	var divergent []string
	for k, cv := range client {
		if sv, ok := server[k]; ok && !reflect.DeepEqual(cv, sv) {
			divergent = append(divergent, k)
		}
	}
	sort.Strings(divergent)

	clientWins := false
	resolution := ResolutionAccepted
	switch strategy {
	case StrategyClientWins:
		clientWins = true
		resolution = ResolutionRejected
	case StrategyTimestamp:
		if update.Timestamp.After(serverTime) {
			clientWins = true
			resolution = ResolutionRejected
		}
	case StrategyMerge:
		resolution = ResolutionMerged
	}

	var data map[string]any
	switch {
	case strategy == StrategyMerge:
		data = copyRecord(client)
		for k, v := range server {
			data[k] = v
		}
	case clientWins:
		data = copyRecord(server)
		for k, v := range client {
			data[k] = v
		}
	default:
		data = copyRecord(server)
	}

	conflicts := make([]ConflictInfo, 0, len(divergent))
	for _, k := range divergent {
		conflicts = append(conflicts, ConflictInfo{
			Path:        k,
			ServerValue: server[k],
			ClientValue: client[k],
			Timestamp:   ConflictTimestamps{Server: serverTime, Client: update.Timestamp},
			Resolution:  resolution,
		})
	}

	return Reconciliation{Data: data, Conflicts: conflicts}
}

func copyRecord(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
