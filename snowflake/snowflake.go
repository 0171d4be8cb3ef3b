// Package snowflake generates monotonically increasing, worker-unique
// 64-bit identifiers.
//
// An id packs three fields into one signed 64-bit integer:
//
//	[timestamp since epoch][worker id][sequence]
//
// The default layout is 41/10/12 bits, which gives ~69 years of
// millisecond timestamps, 1024 workers, and 4096 ids per worker per
// millisecond. Layouts are configurable as long as the three widths sum
// to 63 bits or fewer.
//
// Ids produced by a single Node are strictly increasing. When the
// sequence space is exhausted within one millisecond the Node waits for
// the clock to advance instead of reusing a value.
//
// Example:
//
//	node, err := snowflake.New(7)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id := node.Next()
package snowflake

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Default bit widths for the id layout.
const (
	DefaultTimestampBits uint8 = 41
	DefaultWorkerBits    uint8 = 10
	DefaultSequenceBits  uint8 = 12
)

// DefaultEpoch is the zero point for the timestamp field:
// 2020-01-01T00:00:00Z in unix milliseconds.
var DefaultEpoch int64 = 1577836800000

// Configuration errors.
var (
	ErrInvalidLayout   = errors.New("snowflake: bit widths must be positive and sum to at most 63")
	ErrInvalidWorkerID = errors.New("snowflake: worker id out of range")
	ErrInvalidEpoch    = errors.New("snowflake: epoch must not be in the future")
)

// options holds node configuration (unexported).
type options struct {
	epoch         int64
	timestampBits uint8
	workerBits    uint8
	sequenceBits  uint8
	now           func() int64
}

// Option configures a Node.
type Option func(*options)

// WithEpoch sets the epoch for the timestamp field, in unix milliseconds.
func WithEpoch(epochMS int64) Option {
	return func(o *options) {
		o.epoch = epochMS
	}
}

// WithLayout sets the bit widths for the timestamp, worker and sequence
// fields. The widths must be positive and sum to at most 63.
func WithLayout(timestampBits, workerBits, sequenceBits uint8) Option {
	return func(o *options) {
		o.timestampBits = timestampBits
		o.workerBits = workerBits
		o.sequenceBits = sequenceBits
	}
}

// WithClock sets the millisecond clock source. Intended for tests.
func WithClock(now func() int64) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		epoch:         DefaultEpoch,
		timestampBits: DefaultTimestampBits,
		workerBits:    DefaultWorkerBits,
		sequenceBits:  DefaultSequenceBits,
		now:           func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Node generates ids for a single worker. A Node is safe for concurrent
// use, though it is typically owned by one worker.
type Node struct {
	mu sync.Mutex

	epoch    int64
	workerID int64
	now      func() int64

	workerShift uint8
	timeShift   uint8
	seqMask     int64
	maxElapsed  int64

	last int64 // last timestamp observed, ms since epoch
	seq  int64
}

// New creates a Node for the given worker id.
// Returns ErrInvalidWorkerID if the worker id does not fit the layout's
// worker field, ErrInvalidLayout if the bit widths are unusable, or
// ErrInvalidEpoch if the epoch lies in the future.
func New(workerID int64, opts ...Option) (*Node, error) {
	o := newOptions(opts...)

	total := int(o.timestampBits) + int(o.workerBits) + int(o.sequenceBits)
	if o.timestampBits == 0 || o.workerBits == 0 || o.sequenceBits == 0 || total > 63 {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrInvalidLayout, o.timestampBits, o.workerBits, o.sequenceBits)
	}

	maxWorker := int64(1)<<o.workerBits - 1
	if workerID < 0 || workerID > maxWorker {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidWorkerID, workerID, maxWorker)
	}

	if o.epoch > o.now() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEpoch, o.epoch)
	}

	return &Node{
		epoch:       o.epoch,
		workerID:    workerID,
		now:         o.now,
		workerShift: o.sequenceBits,
		timeShift:   o.sequenceBits + o.workerBits,
		seqMask:     int64(1)<<o.sequenceBits - 1,
		maxElapsed:  int64(1)<<o.timestampBits - 1,
		last:        -1,
	}, nil
}

// WorkerID returns the worker id this node stamps into every id.
func (n *Node) WorkerID() int64 {
	return n.workerID
}

// Next returns the next id. Ids are strictly increasing for a single
// Node, including under same-millisecond bursts: the sequence field
// increments, and when it wraps the call waits for the clock to advance
// before producing an id.
func (n *Node) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ts := n.millis()
	if ts == n.last {
		n.seq = (n.seq + 1) & n.seqMask
		if n.seq == 0 {
			// Sequence exhausted within this millisecond.
			ts = n.waitNext(ts)
		}
	} else {
		n.seq = 0
	}
	n.last = ts

	return ts<<n.timeShift | n.workerID<<n.workerShift | n.seq
}

// millis returns the current timestamp relative to the epoch. A clock
// that moves backward is clamped to the last observed timestamp, which
// keeps ids strictly increasing at the cost of stalling the timestamp
// field until the wall clock catches up.
func (n *Node) millis() int64 {
	ts := n.now() - n.epoch
	if ts < n.last {
		ts = n.last
	}
	if ts > n.maxElapsed {
		ts = n.maxElapsed
	}
	return ts
}

// waitNext yields until the clock advances past ts.
func (n *Node) waitNext(ts int64) int64 {
	next := n.millis()
	for next <= ts {
		runtime.Gosched()
		next = n.millis()
	}
	return next
}

// Timestamp extracts the creation time of an id produced by this node.
func (n *Node) Timestamp(id int64) time.Time {
	return time.UnixMilli(id>>n.timeShift + n.epoch)
}

// Sequence extracts the sequence field of an id produced by this node.
func (n *Node) Sequence(id int64) int64 {
	return id & n.seqMask
}

// Worker extracts the worker field of an id produced by this node.
func (n *Node) Worker(id int64) int64 {
	return id >> n.workerShift & (int64(1)<<(n.timeShift-n.workerShift) - 1)
}
