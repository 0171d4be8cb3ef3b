package dispatch

import (
	"slices"
	"time"
)

// Envelope is a validated event instance. Envelopes are created by a
// Definition (Create, UnsafeCreate, Parse) and must not be mutated
// afterwards; the bus and every handler observe the same value.
type Envelope struct {
	// ID is unique and strictly increasing per dispatcher.
	ID int64 `json:"id"`

	// Time is the creation instant.
	Time time.Time `json:"time"`

	// Topic names the definition this envelope belongs to.
	Topic string `json:"topic"`

	// From is the worker id of the originator.
	From int64 `json:"from"`

	// To lists target worker ids. Empty means broadcast.
	To []int64 `json:"to,omitempty"`

	// Tags is the definition's default tags followed by call-site
	// tags, in insertion order.
	Tags []string `json:"tags,omitempty"`

	// Payload conforms to the definition's payload shape.
	Payload any `json:"payload"`
}

// Broadcast reports whether the envelope targets all workers.
func (e *Envelope) Broadcast() bool {
	return len(e.To) == 0
}

// TargetedAt reports whether the envelope should be delivered to the
// given worker: either it is a broadcast or the worker is listed in To.
func (e *Envelope) TargetedAt(workerID int64) bool {
	return len(e.To) == 0 || slices.Contains(e.To, workerID)
}
