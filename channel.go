// Package blkchan implements the producer half of a split block device: many
// concurrent submitters hand requests to a single consumer through a
// read/write message channel. The package owns identifier allocation, the
// in-flight slot table, the delivery ring, the message protocol, and the
// disconnect/abort/replay lifecycle; moving bytes to the consumer process is
// the caller's concern (see Pump for a stream transport).
package blkchan

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/blkchan/go-blkchan/internal/constants"
	"github.com/blkchan/go-blkchan/internal/idpool"
	"github.com/blkchan/go-blkchan/internal/logging"
	"github.com/blkchan/go-blkchan/internal/ring"
	"github.com/blkchan/go-blkchan/internal/slots"
	"github.com/blkchan/go-blkchan/internal/wire"
)

// Notifier receives decoded control messages sent by the consumer.
type Notifier interface {
	DeviceAdded(wire.DeviceAddOut) error
	DeviceRemoved(wire.DeviceRemoveOut) error
	DeviceSizeChanged(wire.SizeChangeOut) error
}

// DeliveryHook runs once per request just before serialization. It may
// rewrite the request in place, e.g. turning an all-zero write into a
// discard.
type DeliveryHook func(*Request)

// Params sizes and names a channel.
type Params struct {
	// Label identifies the channel in logs.
	Label string

	// MaxOutstanding bounds concurrently in-flight requests. The channel
	// panics rather than misbehave if the caller exceeds it.
	MaxOutstanding int

	// ShardIDCache bounds each identifier shard's local free list.
	ShardIDCache int

	// AllowDegraded accepts submissions while the consumer is detached,
	// queueing them for delivery after a Reopen.
	AllowDegraded bool
}

// DefaultParams returns sensible defaults.
func DefaultParams() Params {
	return Params{
		Label:          "blkchan",
		MaxOutstanding: constants.DefaultMaxOutstanding,
		ShardIDCache:   constants.PerShardIDCache,
	}
}

// Options carries the optional collaborators.
type Options struct {
	Logger       *logging.Logger
	Observer     Observer
	Notifier     Notifier
	DeliveryHook DeliveryHook

	// OnRelease runs when the reference count drops to zero.
	OnRelease func(*Channel)
}

// Channel is the producer-side endpoint. A Channel starts with two
// references: the creator's and the attached consumer's. Release drops the
// consumer's, Reopen re-adds it, and Put drops the creator's; OnRelease
// fires when both are gone.
//
// ReadRequests, TryReadRequests, WriteMessage and Pending belong to the
// single consumer goroutine. Submit may be called from any goroutine.
type Channel struct {
	params   Params
	logger   *logging.Logger
	observer Observer
	metrics  *Metrics
	notifier Notifier
	hook     DeliveryHook

	onRelease func(*Channel)

	ids   *idpool.Pool
	slots *slots.Table[Request]
	q     *ring.Queue

	// notify carries at most one pending wakeup for the consumer.
	notify chan struct{}

	mu            sync.Mutex
	connected     bool
	allowDegraded bool
	dead          chan struct{}

	// consumerRef tracks whether the attached consumer's reference is still
	// held. Abort flips connected without detaching the consumer, so the
	// reference drop in Release cannot key off the connected flag.
	consumerRef bool

	refs     atomic.Int64
	inflight atomic.Int64
}

// NewChannel creates a connected channel.
func NewChannel(params Params, opts *Options) (*Channel, error) {
	if params.MaxOutstanding <= 0 {
		return nil, NewError("CREATE", ErrCodeInvalidMessage, "MaxOutstanding must be positive")
	}
	if params.ShardIDCache <= 0 {
		params.ShardIDCache = constants.PerShardIDCache
	}
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	observer := opts.Observer
	metrics := NewMetrics()
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	ids := idpool.New(params.MaxOutstanding, params.ShardIDCache)
	window := ids.Window()

	c := &Channel{
		params:        params,
		logger:        logger.WithChannel(params.Label),
		observer:      observer,
		metrics:       metrics,
		notifier:      opts.Notifier,
		hook:          opts.DeliveryHook,
		onRelease:     opts.OnRelease,
		ids:           ids,
		slots:         slots.New[Request](window, func(r *Request) uint64 { return r.unique }),
		q:             ring.New(window),
		notify:        make(chan struct{}, 1),
		connected:     true,
		allowDegraded: params.AllowDegraded,
		dead:          make(chan struct{}),
		consumerRef:   true,
	}
	c.refs.Store(2)

	c.logger.Info("channel created",
		"max_outstanding", params.MaxOutstanding,
		"id_window", window)
	return c, nil
}

// Submit hands a request to the channel. The request is registered before
// the connection check so a racing abort finalizes it rather than losing it;
// when the channel is down and degraded mode is off, the request is
// finalized immediately with a not-connected status and an error is
// returned.
func (c *Channel) Submit(req *Request) error {
	if req == nil {
		return NewError("SUBMIT", ErrCodeInvalidMessage, "nil request")
	}

	req.unique = c.ids.Acquire()
	req.submitted = time.Now()
	c.slots.Register(req.unique, req)
	depth := c.inflight.Add(1)

	c.mu.Lock()
	accepted := c.connected || c.allowDegraded
	if accepted {
		c.q.Enqueue(req)
	}
	c.mu.Unlock()

	if !accepted {
		c.logger.Warn("submit on disconnected channel",
			"unique", req.unique, "op", req.opName())
		c.finalize(req, StatusNotConnected)
		return NewRequestError("SUBMIT", req.unique, ErrCodeNotConnected, "")
	}

	c.observer.ObserveSubmit(uint64(req.Size))
	c.observer.ObserveQueueDepth(uint32(depth))
	c.wake()
	return nil
}

// finalize completes a request exactly once: run the callback, drop the slot
// entry, recycle the identifier. Returns false if the request was already
// finalized.
func (c *Channel) finalize(req *Request, status int32) bool {
	if !req.done.CompareAndSwap(false, true) {
		return false
	}
	req.Status = status
	if req.End != nil {
		req.End(req)
	}
	c.slots.Clear(req.unique)
	c.ids.Release(req.unique)
	c.inflight.Add(-1)
	c.observer.ObserveComplete(status, uint64(time.Since(req.submitted)))
	return true
}

// wake nudges the consumer without ever blocking a submitter.
func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// IsConnected reports whether a consumer is attached.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnected returns a channel closed when the current consumer
// connection goes down. Reopen installs a fresh one.
func (c *Channel) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Pending reports whether a request is ready for delivery. Consumer-side
// poll analog; pair with Disconnected for error readiness.
func (c *Channel) Pending() bool {
	return c.q.Pending()
}

// InFlight returns the number of registered, unfinalized requests.
func (c *Channel) InFlight() int {
	return int(c.inflight.Load())
}

// SetAllowDegraded toggles acceptance of submissions while disconnected.
func (c *Channel) SetAllowDegraded(allow bool) {
	c.mu.Lock()
	c.allowDegraded = allow
	c.mu.Unlock()
}

// Metrics returns the channel's metrics.
func (c *Channel) Metrics() *Metrics {
	return c.metrics
}
