package arbiter

import (
	"context"
	"sync/atomic"

	"github.com/dshills/arbiter/promise"
)

// Publication is the future-like handle a publish returns. It settles
// when the latch is met or becomes impossible: fulfillment carries the
// fulfilled subscriber values in completion order (followed by the
// rejection values under a settlement latch), rejection carries a
// *LatchError with the accumulated rejection values.
//
// The counters are live: they observe outcomes as subscribers settle,
// and freeze at settlement unless the publish ran with
// UpdateAfterSettlement.
type Publication struct {
	p *promise.Promise

	fulfilled atomic.Int64
	rejected  atomic.Int64
	pending   atomic.Int64

	token atomic.Pointer[Token]
}

func newPublication() *Publication {
	return &Publication{p: promise.New()}
}

// Done returns a channel closed when the publication settles.
func (pub *Publication) Done() <-chan struct{} {
	return pub.p.Done()
}

// State returns the publication's settlement state.
func (pub *Publication) State() promise.State {
	return pub.p.State()
}

// Await blocks until the publication settles or ctx is done. On
// fulfillment it returns the fulfilled values in completion order,
// followed by the rejection values under a settlement latch; on
// rejection the error is a *LatchError.
func (pub *Publication) Await(ctx context.Context) ([]any, error) {
	select {
	case <-pub.p.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if pub.p.State() == promise.Fulfilled {
		values, _ := pub.p.Value().([]any)
		return values, nil
	}
	err, _ := pub.p.Reason().(error)
	return nil, err
}

// Value returns the fulfillment values, or nil while pending or
// rejected.
func (pub *Publication) Value() []any {
	values, _ := pub.p.Value().([]any)
	return values
}

// Reason returns the rejection reason, or nil while pending or
// fulfilled.
func (pub *Publication) Reason() any {
	return pub.p.Reason()
}

// Then registers settlement continuations, making the publication
// composable with subscriber futures. Either callback may be nil.
func (pub *Publication) Then(onFulfilled, onRejected func(any)) {
	pub.p.Then(onFulfilled, onRejected)
}

// Fulfilled returns how many subscriber invocations have fulfilled.
func (pub *Publication) Fulfilled() int {
	return int(pub.fulfilled.Load())
}

// Rejected returns how many subscriber invocations have rejected.
func (pub *Publication) Rejected() int {
	return int(pub.rejected.Load())
}

// Pending returns how many dispatched invocations have not settled.
func (pub *Publication) Pending() int {
	return int(pub.pending.Load())
}

// Token returns the persisted-message token of a publish with Persist,
// or nil. The token becomes available once the publish turn ran.
func (pub *Publication) Token() *Token {
	return pub.token.Load()
}

func (pub *Publication) setToken(t *Token) {
	pub.token.Store(t)
}
