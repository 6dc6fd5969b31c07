package arbiter

import (
	"runtime/debug"

	"github.com/dshills/arbiter/promise"
)

// Message is a single delivery to a subscriber: the published topic and
// data, plus the opaque context the subscriber registered with.
type Message struct {
	// Topic is the topic the publication targeted, which may be a
	// descendant of the topic the subscriber registered on.
	Topic string

	// Data is the published payload. The broker never inspects it.
	Data any

	// Context is the opaque receiver from WithContext, or nil.
	Context any
}

// Done completes a node-style subscriber invocation. A non-nil err
// rejects the invocation; otherwise it fulfills with value. Only the
// first call has any effect.
type Done func(err, value any)

// invoke adapts a subscriber callable into a uniform future. Supported
// shapes:
//
//	func(Message) (any, error)        value or error return
//	func(Message) error               error-only return
//	func(Message) any                 value return; Thenable results are awaited
//	func(Message) *promise.Promise    future return
//	func(Message)                     fire-and-forget, fulfills with nil
//	func(Message, Done)               node-style completion callback
//
// Anything else, including nil, acts as a no-op subscriber so the
// publication still observes a settled outcome. A panic during the call
// becomes a rejection carrying a *PanicError.
func invoke(fn any, msg Message) *promise.Promise {
	p := promise.New()

	switch f := fn.(type) {
	case func(Message) (any, error):
		guard(p, func() {
			v, err := f(msg)
			if err != nil {
				p.Reject(err)
				return
			}
			p.Fulfill(v)
		})
	case func(Message) error:
		guard(p, func() {
			if err := f(msg); err != nil {
				p.Reject(err)
				return
			}
			p.Fulfill(nil)
		})
	case func(Message) any:
		guard(p, func() {
			settleValue(p, f(msg))
		})
	case func(Message) *promise.Promise:
		guard(p, func() {
			result := f(msg)
			if result == nil {
				p.Fulfill(nil)
				return
			}
			result.Then(func(v any) { p.Fulfill(v) }, func(r any) { p.Reject(r) })
		})
	case func(Message):
		guard(p, func() {
			f(msg)
			p.Fulfill(nil)
		})
	case func(Message, Done):
		guard(p, func() {
			f(msg, func(err, value any) {
				if err != nil {
					p.Reject(err)
					return
				}
				p.Fulfill(value)
			})
		})
	default:
		// Non-callable subscriber: no-op placeholder.
		p.Fulfill(nil)
	}

	return p
}

// settleValue fulfills with a plain value, or chains to it when the
// subscriber returned a then-able future.
func settleValue(p *promise.Promise, v any) {
	if th, ok := v.(promise.Thenable); ok && th != nil {
		th.Then(func(v any) { p.Fulfill(v) }, func(r any) { p.Reject(r) })
		return
	}
	p.Fulfill(v)
}

// guard runs a subscriber call, converting a panic into a rejection.
func guard(p *promise.Promise, call func()) {
	defer func() {
		if r := recover(); r != nil {
			p.Reject(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	call()
}
