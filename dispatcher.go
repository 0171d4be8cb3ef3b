package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbaliyan/dispatch/snowflake"
)

// Dispatcher is the facade tying id generation and the bus together.
// It owns a snowflake node for envelope ids and a Bus (injected or
// default-constructed).
//
// Example:
//
//	dsp, err := dispatch.New(dispatch.WithWorkerID(3))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	off := dsp.On(orderCreated, func(ctx context.Context, env *dispatch.Envelope) error {
//	    // handle
//	    return nil
//	})
//	defer off()
//
//	env, err := orderCreated.Create(ctx, dsp, map[string]any{"order_id": "42", "total": 9.5})
//	if err != nil {
//	    return err
//	}
//	dsp.Emit(ctx, orderCreated, env)
type Dispatcher struct {
	workerID int64
	node     *snowflake.Node
	bus      *Bus
	logger   *slog.Logger
}

// New creates a Dispatcher.
//
// Options:
//   - WithWorkerID: worker identity (default 0)
//   - WithBus: inject a bus; the default is a bus built with the same
//     worker id
//   - WithLogger: custom logger
//
// Returns an error if the worker id does not fit the snowflake layout.
func New(opts ...Option) (*Dispatcher, error) {
	o := newOptions(opts...)

	node, err := snowflake.New(o.workerID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	bus := o.bus
	if bus == nil {
		bus = NewBus(WithBusWorkerID(o.workerID), WithBusLogger(o.logger))
	}

	return &Dispatcher{
		workerID: o.workerID,
		node:     node,
		bus:      bus,
		logger:   o.logger.With("component", "dispatcher", "worker_id", o.workerID),
	}, nil
}

// NextID returns the next envelope id: strictly increasing and unique
// to this dispatcher's worker.
func (d *Dispatcher) NextID() int64 {
	return d.node.Next()
}

// WorkerID returns the dispatcher's worker identity.
func (d *Dispatcher) WorkerID() int64 {
	return d.workerID
}

// Bus returns the underlying bus.
func (d *Dispatcher) Bus() *Bus {
	return d.bus
}

// Logger returns the dispatcher's logger, for flows and custom
// handlers that want consistent output.
func (d *Dispatcher) Logger() *slog.Logger {
	return d.logger
}

// On registers a handler on the underlying bus.
func (d *Dispatcher) On(def *Definition, fn Handler) func() {
	return d.bus.On(def, fn)
}

// Emit delivers an envelope through the underlying bus.
func (d *Dispatcher) Emit(ctx context.Context, def *Definition, env *Envelope) error {
	return d.bus.Emit(ctx, def, env)
}

// Close stops the underlying bus.
func (d *Dispatcher) Close() {
	d.bus.Close()
}
