package arbiter

import (
	"sync"

	"github.com/dshills/arbiter/topic"
	"go.uber.org/zap"
)

// resolver collapses the outcomes of one publication's subscriber
// invocations into a single settlement under the latch policy. It also
// owns the launch queue: subscriptions are launched in dispatch order as
// long as in-flight invocations stay below the semaphore, and each
// settling invocation launches the next from its completion callback.
type resolver struct {
	mu sync.Mutex

	pub  *Publication
	opts Options
	name string
	data any
	log  *zap.Logger

	queue    []*topic.Subscription
	next     int
	inFlight int

	settled       bool
	fulfilledVals []any
	rejectedVals  []any
	fulfilled     int
	rejected      int
	pending       int
}

func newResolver(pub *Publication, opts Options, queue []*topic.Subscription, name string, data any, log *zap.Logger) *resolver {
	return &resolver{
		pub:   pub,
		opts:  opts,
		name:  name,
		data:  data,
		log:   log,
		queue: queue,
	}
}

// run starts the dispatch. With an empty dispatch list the latch is
// evaluated immediately, which is how a publish with no subscribers and
// an unsatisfiable latch rejects.
func (r *resolver) run() {
	r.mu.Lock()
	r.pending = len(r.queue)
	r.publishCounters()
	if len(r.queue) == 0 {
		settle := r.evaluateLocked()
		r.mu.Unlock()
		if settle != nil {
			settle()
		}
		return
	}
	r.mu.Unlock()
	r.launch()
}

// launch starts queued subscriptions from the head while the in-flight
// count is below the semaphore. Invocations run outside the lock: a
// synchronous subscriber settles inline, re-entering outcome (and
// possibly launch) from this goroutine.
func (r *resolver) launch() {
	for {
		r.mu.Lock()
		if r.next >= len(r.queue) || (r.opts.Semaphore > 0 && r.inFlight >= r.opts.Semaphore) {
			r.mu.Unlock()
			return
		}
		sub := r.queue[r.next]
		r.next++
		r.inFlight++
		r.mu.Unlock()

		p := invoke(sub.Fn, Message{Topic: r.name, Data: r.data, Context: sub.Context})
		p.Then(
			func(v any) { r.outcome(v, true) },
			func(v any) { r.outcome(v, false) },
		)
	}
}

// outcome records one subscriber settlement. While the publication is
// unsettled (or always, under UpdateAfterSettlement) the value is
// appended and the counters move. Then: if subscriptions are still
// queued the next one launches; otherwise the latch is evaluated.
// Settlement never cancels delivery; queued subscribers keep launching
// so every active subscriber is notified.
func (r *resolver) outcome(value any, fulfilled bool) {
	r.mu.Lock()
	r.inFlight--
	if !r.settled || r.opts.UpdateAfterSettlement {
		if fulfilled {
			r.fulfilledVals = append(r.fulfilledVals, value)
			r.fulfilled++
		} else {
			r.rejectedVals = append(r.rejectedVals, value)
			r.rejected++
		}
		r.pending--
		r.publishCounters()
	}
	more := r.next < len(r.queue)
	var settle func()
	if !more && !r.settled {
		settle = r.evaluateLocked()
	}
	r.mu.Unlock()

	if settle != nil {
		settle()
	}
	if more {
		r.launch()
	}
}

// evaluateLocked applies the latch algebra. Let F/R/P be the counters,
// S=F+R settled, T=F+P+R total, M=F+P the best case fulfillment count,
// and L the latch. Rejection (infeasibility) is checked before
// fulfillment. Returns the settlement action to run outside the lock,
// or nil to stay pending.
func (r *resolver) evaluateLocked() func() {
	f := float64(r.fulfilled)
	rj := float64(r.rejected)
	p := float64(r.pending)
	s := f + rj
	t := f + p + rj
	m := f + p
	latch := r.opts.Latch

	reject := false
	switch {
	case latch < 1 && t == 0:
		// No subscribers at all: a fractional latch can never resolve.
		reject = true
	case r.opts.SettlementLatch:
		reject = latch >= 1 && t < latch
	default:
		reject = (latch >= 1 && m < latch) || (latch < 1 && m/t < latch)
	}
	if reject {
		r.settled = true
		reasons := make([]any, len(r.rejectedVals))
		copy(reasons, r.rejectedVals)
		return func() {
			r.logSettle("rejected", len(reasons))
			r.pub.p.Reject(&LatchError{Rejections: reasons})
		}
	}

	fulfill := false
	if r.opts.SettlementLatch {
		fulfill = (latch >= 1 && s >= latch) || (latch < 1 && s/t >= latch)
	} else {
		fulfill = (latch >= 1 && f >= latch) || (latch < 1 && f/t >= latch)
	}
	if !fulfill {
		return nil
	}

	r.settled = true
	values := make([]any, 0, len(r.fulfilledVals)+len(r.rejectedVals))
	values = append(values, r.fulfilledVals...)
	if r.opts.SettlementLatch {
		// A settlement latch resolves with every outcome, fulfilled
		// values first.
		values = append(values, r.rejectedVals...)
	}
	return func() {
		r.logSettle("fulfilled", len(values))
		r.pub.p.Fulfill(values)
	}
}

func (r *resolver) publishCounters() {
	r.pub.fulfilled.Store(int64(r.fulfilled))
	r.pub.rejected.Store(int64(r.rejected))
	r.pub.pending.Store(int64(r.pending))
}

func (r *resolver) logSettle(state string, values int) {
	if r.log == nil {
		return
	}
	r.log.Debug("publication settled",
		zap.String("topic", r.name),
		zap.String("state", state),
		zap.Int("values", values),
		zap.Float64("latch", r.opts.Latch),
		zap.Bool("settlement_latch", r.opts.SettlementLatch),
	)
}
