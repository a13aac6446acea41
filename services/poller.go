package services

import (
	"context"
	"time"
)

// statusPoller drives the polling loop for one record. Each record has
// at most one poller; the manager owns the map from record id to
// poller and never persists the poller itself.
type statusPoller struct {
	recordID string
	handle   string
	cancel   context.CancelFunc
	done     chan struct{}
}

// Stop cancels the polling loop. Stopping an already-stopped poller is
// a no-op; a poll already in flight is allowed to finish but its
// result is discarded once the record is gone.
func (p *statusPoller) Stop() {
	p.cancel()
}

// run is the per-record polling loop. The first poll is delayed by a
// grace period because the backend may not have materialized the
// progress handle at the moment the download was queued.
func (p *statusPoller) run(ctx context.Context, q *queueManager) {
	defer close(p.done)
	defer q.clearPoller(p.recordID, p)

	select {
	case <-ctx.Done():
		return
	case <-time.After(q.firstPollDelay):
	}

	for {
		if !p.pollOnce(ctx, q) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(q.pollInterval):
		}
	}
}

// pollOnce issues a single status request and reports the outcome to
// the manager. It returns false once the loop should stop: record
// removed, terminal state reached, or retry ceiling exceeded. In-flight
// requests across all pollers are bounded by the manager's semaphore so
// an artist fan-out cannot stampede the backend.
func (p *statusPoller) pollOnce(ctx context.Context, q *queueManager) bool {
	select {
	case <-ctx.Done():
		return false
	case q.pollSlots <- struct{}{}:
	}
	defer func() { <-q.pollSlots }()

	reqCtx, cancel := context.WithTimeout(ctx, q.requestTimeout)
	defer cancel()

	result, err := q.client.GetProgress(reqCtx, p.handle)
	if ctx.Err() != nil {
		// Cancelled mid-request; the manager discards late results
		// for removed records anyway, so just stop quietly.
		return false
	}

	return q.applyPollResult(p.recordID, result, err)
}
