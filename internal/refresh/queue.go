package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

// queueItem is a delivery waiting for the next drain tick.
type queueItem struct {
	subscriptionID string
	data           any
	metadata       Metadata
	result         chan QueueResult // buffered, written once
}

func (it *queueItem) settle(data any, err error) {
	it.result <- QueueResult{Data: data, Err: err}
}

// refreshQueue is the shared FIFO of externally triggered deliveries.
type refreshQueue struct {
	mu       sync.Mutex
	items    []*queueItem
	draining atomic.Bool
}

func (q *refreshQueue) push(it *queueItem) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

// take removes up to n items from the head.
func (q *refreshQueue) take(n int) []*queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	batch := make([]*queueItem, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}

func (q *refreshQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue schedules data for delivery to a subscription on the next drain
// tick. The returned channel receives exactly one result.
func (e *Engine) Enqueue(subscriptionID string, data any, md Metadata) <-chan QueueResult {
	it := &queueItem{
		subscriptionID: subscriptionID,
		data:           data,
		metadata:       md,
		result:         make(chan QueueResult, 1),
	}

	e.mu.Lock()
	stopped := e.stopped
	if !stopped {
		e.queue.push(it)
	}
	e.mu.Unlock()

	if stopped {
		it.settle(nil, ErrEngineStopped)
	}
	return it.result
}

// runQueue drains the queue once per tick while there is work.
func (e *Engine) runQueue(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.QueueTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.queue.len() > 0 {
				e.drainQueue(ctx)
			}
		}
	}
}

// drainQueue processes at most BatchSize items. Overlapping calls return
// immediately; items pushed during a drain wait for the next one. It returns
// the number of items processed.
func (e *Engine) drainQueue(ctx context.Context) int {
	if !e.queue.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer e.queue.draining.Store(false)

	batch := e.queue.take(e.cfg.BatchSize)
	for _, it := range batch {
		e.processItem(ctx, it)
	}

	if len(batch) > 0 {
		e.logger.Debug("refresh queue drained",
			zap.Int("processed", len(batch)),
			zap.Int("remaining", e.queue.len()),
		)
	}
	return len(batch)
}

// processItem delivers one queued item. Its failure settles only its own
// result.
func (e *Engine) processItem(ctx context.Context, it *queueItem) {
	sub, ok := e.registry.get(it.subscriptionID)
	if !ok || !sub.active.Load() {
		it.settle(nil, errors.Wrapf(ErrSubscriptionNotFound, "%s", it.subscriptionID))
		return
	}

	start := e.now()
	out := e.applyRules(ctx, sub, it.data)
	done := e.now()

	md := it.metadata
	md.Timestamp = done
	if md.Version == "" {
		md.Version = e.nextVersion()
	}
	if md.ChangeType == "" {
		md.ChangeType = ChangeFullRefresh
	}
	md.Performance.TransformationTime = done.Sub(start)
	md.Performance.TotalTime = md.Performance.RefreshTime + md.Performance.TransformationTime

	delivered, err := sub.deliver(out, md, e.conflictsFor(sub.dataType), done)
	switch {
	case err != nil:
		e.recordFailure(ctx, sub.dataType, md.Performance.TotalTime, err)
		e.logger.Error("subscriber callback failed",
			zap.String("subscription", sub.id),
			zap.String("dataType", sub.dataType),
			zap.String("source", string(md.Source)),
			zap.Error(err),
		)
		it.settle(nil, err)
	case !delivered:
		it.settle(nil, errors.Wrapf(ErrSubscriptionNotFound, "%s", it.subscriptionID))
	default:
		e.recordSuccess(sub.dataType, md.Performance.TotalTime)
		it.settle(out, nil)
	}
}

// rejectPending settles everything still queued with err.
func (e *Engine) rejectPending(err error) {
	for {
		batch := e.queue.take(e.queue.len())
		if len(batch) == 0 {
			return
		}
		for _, it := range batch {
			it.settle(nil, err)
		}
	}
}
