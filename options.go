package arbiter

import (
	"math"

	"go.uber.org/zap"
)

// AllLatch is the default latch: the largest float64 strictly below 1,
// so the fractional latch branches apply and "all subscribers must
// fulfill" is the default policy. Note that under this default a publish
// with zero subscribers rejects rather than fulfills.
var AllLatch = math.Nextafter(1, 0)

// Options holds every per-operation setting. Per-publish and
// per-subscribe options shallow-merge over the broker defaults; see the
// With* functions.
type Options struct {
	// Persist retains the publication for late delivery to future
	// subscribers of the topic or its ancestors.
	Persist bool

	// Sync runs the entire dispatch inline in Publish instead of on the
	// next turn. Subscriber invocations remain future-returning and may
	// still complete later.
	Sync bool

	// PreventBubble restricts dispatch to exact-topic subscribers,
	// skipping the ancestor chain.
	PreventBubble bool

	// Latch decides when the publication future settles. Values >= 1 are
	// absolute counts; values < 1 are fractions of the dispatch list.
	Latch float64

	// SettlementLatch counts settlements (fulfillments plus rejections)
	// toward the latch instead of fulfillments only.
	SettlementLatch bool

	// Semaphore bounds simultaneously pending subscriber invocations per
	// publish. Values <= 0 mean unbounded.
	Semaphore int

	// UpdateAfterSettlement keeps counters and value lists updating on
	// the publication after it settled; otherwise late outcomes are
	// dropped.
	UpdateAfterSettlement bool

	// Priority orders dispatch at subscribe time; higher fires first.
	Priority float64

	// IgnorePersisted skips replay of persisted messages at subscribe
	// time.
	IgnorePersisted bool

	// Context is the opaque receiver delivered back to the subscriber
	// with every message. Subscribe-time only.
	Context any
}

// DefaultOptions returns the broker's built-in defaults.
func DefaultOptions() Options {
	return Options{
		Latch:     AllLatch,
		Semaphore: 0, // unbounded
	}
}

// Option adjusts the effective Options of a single Subscribe or Publish
// call before it runs.
type Option func(*Options)

// WithPersist retains the publication for late delivery.
func WithPersist() Option {
	return func(o *Options) {
		o.Persist = true
	}
}

// WithSync dispatches inline instead of on the next turn.
func WithSync() Option {
	return func(o *Options) {
		o.Sync = true
	}
}

// WithAsync dispatches on the next turn, overriding a Sync default.
func WithAsync() Option {
	return func(o *Options) {
		o.Sync = false
	}
}

// WithPreventBubble restricts dispatch to exact-topic subscribers.
func WithPreventBubble() Option {
	return func(o *Options) {
		o.PreventBubble = true
	}
}

// WithLatch sets the settlement policy: an absolute count when >= 1, a
// fraction of the dispatch list when < 1.
func WithLatch(latch float64) Option {
	return func(o *Options) {
		o.Latch = latch
	}
}

// WithSettlementLatch counts settlements instead of fulfillments.
func WithSettlementLatch() Option {
	return func(o *Options) {
		o.SettlementLatch = true
	}
}

// WithSemaphore bounds concurrently pending invocations; n <= 0 means
// unbounded.
func WithSemaphore(n int) Option {
	return func(o *Options) {
		o.Semaphore = n
	}
}

// WithUpdateAfterSettlement keeps updating counters after settlement.
func WithUpdateAfterSettlement() Option {
	return func(o *Options) {
		o.UpdateAfterSettlement = true
	}
}

// WithPriority sets the subscription priority; higher fires first.
func WithPriority(p float64) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithIgnorePersisted skips persisted replay at subscribe time.
func WithIgnorePersisted() Option {
	return func(o *Options) {
		o.IgnorePersisted = true
	}
}

// WithContext sets the opaque receiver passed back to the subscriber.
func WithContext(ctx any) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// BrokerOption configures a Broker at creation time.
type BrokerOption func(*Broker)

// WithLogger sets the broker's structured logger. The default is a
// no-op logger.
func WithLogger(log *zap.Logger) BrokerOption {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithDefaults replaces the broker's default options.
func WithDefaults(o Options) BrokerOption {
	return func(b *Broker) {
		b.defaults = o
	}
}
