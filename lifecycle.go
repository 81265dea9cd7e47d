package blkchan

import (
	"sort"

	"github.com/blkchan/go-blkchan/internal/ring"
)

// Abort forces the connection down and finalizes every in-flight request
// with a connection-aborted status. Safe to call at any time and from any
// goroutine; repeated calls are no-ops because finalize runs at most once
// per request.
func (c *Channel) Abort() {
	c.mu.Lock()
	if c.connected {
		c.connected = false
		close(c.dead)
	}
	c.mu.Unlock()
	c.endQueued()
}

// Release detaches the consumer: the connection goes down and the consumer's
// reference is dropped. Outstanding requests are finalized with a
// connection-aborted status unless degraded mode is on, in which case they
// are preserved for replay after a Reopen.
func (c *Channel) Release() {
	c.mu.Lock()
	wasConnected := c.connected
	degraded := c.allowDegraded
	hadRef := c.consumerRef
	c.consumerRef = false
	if wasConnected {
		c.connected = false
		close(c.dead)
	}
	c.mu.Unlock()

	if wasConnected && !degraded {
		c.endQueued()
	}
	// Drop the consumer's reference even when an abort already took the
	// connection down.
	if hadRef {
		c.logger.Info("consumer released", "degraded", degraded)
		c.Put()
	}
}

// Reopen attaches a new consumer to a disconnected channel and replays
// preserved requests in submission order: requests older than the oldest
// still-queued one were delivered to the dead consumer but never
// acknowledged, so they are re-injected ahead of the queue. Must only be
// called while no consumer goroutine is active.
func (c *Channel) Reopen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return NewError("REOPEN", ErrCodeInvalidMessage, "channel already connected")
	}

	boundary := c.q.BoundarySequence()
	var stale []*Request
	c.slots.Walk(func(r *Request) {
		if !r.finalized() && r.Sequence() < boundary {
			stale = append(stale, r)
		}
	})
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].Sequence() < stale[j].Sequence()
	})

	entries := make([]ring.Entry, len(stale))
	for i, r := range stale {
		entries[i] = r
	}
	c.q.Requeue(entries)

	c.dead = make(chan struct{})
	c.connected = true
	// After an abort without a Release the consumer reference was never
	// dropped; only re-add it when it is actually gone.
	if !c.consumerRef {
		c.consumerRef = true
		c.refs.Add(1)
	}

	c.observer.ObserveReplay(len(stale))
	c.logger.Info("channel reopened", "replayed", len(stale))
	c.wake()
	return nil
}

// endQueued finalizes every request still in the slot table. Called after
// the connected flag has dropped, so no new submission can slip past the
// walk; requests mid-Submit finalize themselves on the rejected path and
// the at-most-once guard absorbs the overlap. Runs without c.mu so
// completion callbacks may re-enter the channel.
func (c *Channel) endQueued() {
	var ended []*Request
	c.slots.Walk(func(r *Request) {
		ended = append(ended, r)
	})
	n := 0
	for _, r := range ended {
		if c.finalize(r, StatusAborted) {
			n++
		}
	}
	if n > 0 {
		c.logger.Warn("aborted in-flight requests", "count", n)
	}
}

// Get adds a reference.
func (c *Channel) Get() *Channel {
	c.refs.Add(1)
	return c
}

// Put drops a reference; the last one stops the metrics clock and runs the
// OnRelease hook.
func (c *Channel) Put() {
	if c.refs.Add(-1) == 0 {
		c.metrics.Stop()
		if c.onRelease != nil {
			c.onRelease(c)
		}
	}
}
