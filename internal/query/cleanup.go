package query

import (
	"log/slog"
	"time"
)

// scheduleCleanup arms the debounced cleanup once too many ranges are
// tracked. At most one cleanup is pending at a time.
func (q *Query) scheduleCleanup() {
	if q.cleanupTimer != nil || q.ranges.size() <= q.opts.CleanupThreshold {
		return
	}

	q.cleanupTimer = time.AfterFunc(q.opts.CleanupDelay, func() {
		q.inbox.Push(q.scheduledCleanup)
	})
}

func (q *Query) scheduledCleanup() {
	if q.terminal() {
		return
	}
	q.cleanup()
}

// sweep is the periodic pass. It cleans up unless a debounced cleanup is
// already pending, then retries ranges that failed to open.
func (q *Query) sweep() {
	if q.terminal() {
		return
	}
	if q.cleanupTimer == nil {
		q.cleanup()
	}
	if q.terminal() {
		return
	}

	for _, entry := range q.ranges.failed() {
		q.logger.Info("Retrying range subscription", slog.String("range", entry.key.String()))
		q.open(entry)
	}
}

// cleanup releases inactive ranges and forgets the keys no remaining range
// covers.
func (q *Query) cleanup() {
	q.stopCleanupTimer()

	removed := q.ranges.removeInactive()
	for _, entry := range removed {
		delete(q.outstanding, entry.key)
		if entry.handle != nil {
			q.closeHandle(entry.key, entry.handle)
		}
	}

	before := q.tracker.len()
	if err := q.tracker.purge(q.ranges.covers); err != nil {
		q.fail(err)

		return
	}

	if len(removed) > 0 {
		q.logger.Debug("Query ranges cleaned up",
			slog.Int("closed", len(removed)),
			slog.Int("forgotten", before-q.tracker.len()),
			slog.Int("tracked", q.ranges.size()))
	}
}

func (q *Query) stopCleanupTimer() {
	if q.cleanupTimer != nil {
		q.cleanupTimer.Stop()
		q.cleanupTimer = nil
	}
}
