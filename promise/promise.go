// Package promise provides the future primitive the broker runs on: a
// value that settles exactly once through separable fulfill and reject
// capabilities, with continuations for both paths.
//
// Subscribers may return a *Promise (or any Thenable) to complete a
// delivery asynchronously, and every publication resolves to one.
package promise

import "sync"

// State is the settlement state of a Promise.
type State int32

const (
	// Pending means the promise has not settled.
	Pending State = iota

	// Fulfilled means the promise settled successfully.
	Fulfilled

	// Rejected means the promise settled with a failure.
	Rejected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Thenable is anything that accepts fulfillment and rejection
// continuations. A subscriber returning a Thenable defers its outcome
// until the Thenable settles. *Promise implements it.
type Thenable interface {
	Then(onFulfilled, onRejected func(any))
}

// Promise is a single-settlement future. Fulfill and Reject are safe to
// call from any goroutine; the first settlement wins and later calls
// are no-ops.
type Promise struct {
	mu        sync.Mutex
	state     State
	result    any
	callbacks []continuation
	done      chan struct{}
}

type continuation struct {
	onFulfilled func(any)
	onRejected  func(any)
}

// New creates a pending promise.
func New() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Fulfill settles the promise successfully with value. Returns false if
// the promise had already settled.
func (p *Promise) Fulfill(value any) bool {
	return p.settle(Fulfilled, value)
}

// Reject settles the promise as failed with reason. Returns false if
// the promise had already settled.
func (p *Promise) Reject(reason any) bool {
	return p.settle(Rejected, reason)
}

func (p *Promise) settle(state State, result any) bool {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.result = result
	cbs := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	// Continuations run in the settling goroutine, outside the lock so
	// they may register further continuations.
	for _, cb := range cbs {
		cb.run(state, result)
	}
	return true
}

func (c continuation) run(state State, result any) {
	switch state {
	case Fulfilled:
		if c.onFulfilled != nil {
			c.onFulfilled(result)
		}
	case Rejected:
		if c.onRejected != nil {
			c.onRejected(result)
		}
	}
}

// Then registers continuations for settlement. Either callback may be
// nil. If the promise already settled, the matching callback runs
// immediately in the caller's goroutine.
func (p *Promise) Then(onFulfilled, onRejected func(any)) {
	p.mu.Lock()
	if p.state == Pending {
		p.callbacks = append(p.callbacks, continuation{onFulfilled, onRejected})
		p.mu.Unlock()
		return
	}
	state, result := p.state, p.result
	p.mu.Unlock()
	continuation{onFulfilled, onRejected}.run(state, result)
}

// Done returns a channel closed when the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// State returns the current settlement state.
func (p *Promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the fulfillment value, or nil while pending or rejected.
func (p *Promise) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Fulfilled {
		return nil
	}
	return p.result
}

// Reason returns the rejection reason, or nil while pending or
// fulfilled.
func (p *Promise) Reason() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Rejected {
		return nil
	}
	return p.result
}

// Resolved returns a promise already fulfilled with value.
func Resolved(value any) *Promise {
	p := New()
	p.Fulfill(value)
	return p
}

// Failed returns a promise already rejected with reason.
func Failed(reason any) *Promise {
	p := New()
	p.Reject(reason)
	return p
}
