package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/transform"
)

// intervalFor maps a priority to its refresh cadence. Configured overrides
// win, then the tier table, then the fallback refresh interval.
func (e *Engine) intervalFor(p Priority) time.Duration {
	if d, ok := e.cfg.Intervals[p]; ok && d > 0 {
		return d
	}
	if d, ok := DefaultIntervals[p]; ok {
		return d
	}
	return e.cfg.RefreshInterval
}

// runLoop drives one subscription. The timer is re-armed only after a cycle
// completes, so cycles never overlap and deliveries are at least one
// interval apart.
func (e *Engine) runLoop(ctx context.Context, sub *subscription) {
	defer e.wg.Done()
	defer e.registry.removeIf(sub.id, sub)

	timer := time.NewTimer(sub.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !sub.active.Load() {
			return
		}

		e.runCycle(ctx, sub)
		timer.Reset(sub.interval)
	}
}

// runCycle performs one scheduled refresh. Every failure stops at this
// boundary: it is logged and counted, and the loop keeps ticking.
func (e *Engine) runCycle(ctx context.Context, sub *subscription) {
	start := e.now()

	data, fromCache, err := e.fetcher.load(ctx, sub.scope(), false)
	fetched := e.now()
	if err != nil {
		if ctx.Err() != nil {
			// Unsubscribed or stopping mid-fetch; the result is dropped.
			return
		}
		e.recordFailure(ctx, sub.dataType, fetched.Sub(start), err)
		e.logger.Warn("refresh cycle failed",
			zap.String("subscription", sub.id),
			zap.String("dataType", sub.dataType),
			zap.Error(err),
		)
		return
	}

	out := e.applyRules(ctx, sub, data)
	done := e.now()

	md := Metadata{
		Source:     SourceBackgroundRefresh,
		Timestamp:  done,
		Version:    e.nextVersion(),
		ChangeType: ChangeFullRefresh,
		Performance: Performance{
			RefreshTime:        fetched.Sub(start),
			TransformationTime: done.Sub(fetched),
			TotalTime:          done.Sub(start),
		},
	}

	delivered, err := sub.deliver(out, md, e.conflictsFor(sub.dataType), done)
	if err != nil {
		e.recordFailure(ctx, sub.dataType, e.now().Sub(start), err)
		e.logger.Error("subscriber callback failed",
			zap.String("subscription", sub.id),
			zap.String("dataType", sub.dataType),
			zap.Error(err),
		)
		return
	}
	if !delivered {
		return
	}

	e.recordSuccess(sub.dataType, md.Performance.TotalTime)
	e.logger.Debug("refresh delivered",
		zap.String("subscription", sub.id),
		zap.String("dataType", sub.dataType),
		zap.Bool("fromCache", fromCache),
		zap.Duration("total", md.Performance.TotalTime),
	)
}

// applyRules runs the subscription's rules in order. A missing or failing
// rule is skipped with a warning.
func (e *Engine) applyRules(ctx context.Context, sub *subscription, data any) any {
	if len(sub.rules) == 0 || e.transformer == nil {
		return data
	}

	rc := transform.Context{DataType: sub.dataType, UserID: sub.userID, SessionID: sub.sessionID}
	for _, name := range sub.rules {
		out, err := e.transformer.Apply(ctx, name, data, rc)
		if err != nil {
			err = errors.Mark(err, ErrTransformation)
			e.logger.Warn("skipping transformation rule",
				zap.String("rule", name),
				zap.String("subscription", sub.id),
				zap.String("dataType", sub.dataType),
				zap.Error(err),
			)
			continue
		}
		data = out
	}
	return data
}

// conflictsFor returns a closure handing the pending conflicts of dataType to
// the next delivery, or nil when conflict tracking is off.
func (e *Engine) conflictsFor(dataType string) func() []ConflictInfo {
	if e.ledger == nil {
		return nil
	}
	return func() []ConflictInfo { return e.ledger.TakeConflicts(dataType) }
}
