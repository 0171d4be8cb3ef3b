package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Dispatch errors
var (
	// ErrClosed is returned when operating on a closed bus or dispatcher.
	ErrClosed = errors.New("dispatch: bus is closed")

	// ErrEmptyTopic is returned when constructing a definition without
	// a topic.
	ErrEmptyTopic = errors.New("dispatch: topic is required")

	// ErrNilDefinition is returned when a nil definition is passed to
	// an operation that needs one.
	ErrNilDefinition = errors.New("dispatch: definition is required")

	// ErrMalformedEnvelope indicates a candidate that cannot be read
	// as an envelope at all (wrong Go type, unusable fields).
	ErrMalformedEnvelope = errors.New("dispatch: malformed envelope")

	// ErrStop is the flow short-circuit sentinel. A step that returns
	// ErrStop (or an error wrapping it) ends the dispatch silently:
	// no later step runs and the catch handler is not invoked.
	ErrStop = errors.New("dispatch: stop flow")
)

// ValidationError reports a payload or envelope that failed its
// definition's shape check. It wraps the underlying schema failure, so
// errors.As against *schema.Error keeps working.
type ValidationError struct {
	Topic string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch: validation failed for topic %q: %v", e.Topic, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// TimeoutError reports a handler that was abandoned because it did not
// settle within the bus's configured timeout. It never escapes Emit;
// the bus records and logs it per handler.
type TimeoutError struct {
	Topic   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dispatch: handler for topic %q exceeded %v", e.Topic, e.Timeout)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var terr *TimeoutError
	return errors.As(err, &terr)
}

// HandlerPanicError wraps a panic recovered from a subscribed handler
// or a flow step.
type HandlerPanicError struct {
	Topic string
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("dispatch: handler for topic %q panicked: %v", e.Topic, e.Value)
}
