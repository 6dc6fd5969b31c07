package arbiter

import (
	"errors"
	"fmt"
)

// Sentinel errors for the broker façade.
var (
	// ErrTopicNotString is returned when a topic argument is not a string
	// (or a value trivially convertible to one).
	ErrTopicNotString = errors.New("topic must be a string")
)

// LatchError is the rejection reason of a publication whose latch failed
// or became impossible. Rejections holds the subscriber rejection values
// accumulated before settlement, in completion order; it may be empty,
// as for a publish with zero subscribers under a count latch.
type LatchError struct {
	Rejections []any
}

// Error implements the error interface.
func (e *LatchError) Error() string {
	return fmt.Sprintf("publication latch rejected with %d subscriber failure(s)", len(e.Rejections))
}

// PanicError is the rejection value produced when a subscriber panics
// during invocation. Stack is the goroutine stack captured at recovery.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("subscriber panicked: %v", e.Value)
}
