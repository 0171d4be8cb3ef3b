package dispatch

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rbaliyan/dispatch/ratelimit"
)

// FlowContext is the per-dispatch accumulator threaded through a
// flow's steps. One FlowContext is created per handler invocation and
// discarded afterwards; it is never shared across concurrent
// dispatches, so steps may read and write it without locking.
//
// Accumulation is append-only within a dispatch: values merged by a
// step are visible to every later step.
type FlowContext struct {
	// FlowID is freshly generated for each dispatch.
	FlowID string

	// Dispatcher is the facade the flow was built on.
	Dispatcher *Dispatcher

	// Topic, Envelope and Payload describe the incoming event.
	Topic    string
	Envelope *Envelope
	Payload  any

	values map[string]any
}

// Get returns a value contributed by an earlier step.
func (fc *FlowContext) Get(key string) (any, bool) {
	v, ok := fc.values[key]
	return v, ok
}

// Value returns a value contributed by an earlier step, or nil.
func (fc *FlowContext) Value(key string) any {
	return fc.values[key]
}

// Set stores a value for later steps.
func (fc *FlowContext) Set(key string, value any) {
	fc.values[key] = value
}

// Len returns the number of accumulated values.
func (fc *FlowContext) Len() int {
	return len(fc.values)
}

// merge shallow-merges a step result; result keys override existing
// ones.
func (fc *FlowContext) merge(values map[string]any) {
	for k, v := range values {
		fc.values[k] = v
	}
}

// Step is one middleware stage. The returned map (if non-nil) is
// shallow-merged into the flow context for later steps. Returning
// ErrStop ends the dispatch silently; any other error is routed to the
// flow's catch handler.
type Step func(ctx context.Context, fc *FlowContext) (map[string]any, error)

// CatchFunc receives the flow context as of the failing step, plus the
// error that stopped the flow.
type CatchFunc func(ctx context.Context, fc *FlowContext, err error)

// Flow is an ordered middleware chain bound to one or more event
// definitions. Steps run strictly in registration order, each awaited
// before the next, so later steps observe values contributed by
// earlier ones.
//
// Flows are built once and dispatched many times; configure the chain
// fully before Build or Commit.
//
// Example:
//
//	off := dispatch.NewFlow(dsp, orderCreated).
//	    Filter(func(ctx context.Context, fc *dispatch.FlowContext) (bool, error) {
//	        payload := fc.Payload.(map[string]any)
//	        return payload["total"].(float64) > 0, nil
//	    }).
//	    Pipe(func(ctx context.Context, fc *dispatch.FlowContext) (map[string]any, error) {
//	        return map[string]any{"invoice": buildInvoice(fc.Payload)}, nil
//	    }).
//	    Handle(func(ctx context.Context, fc *dispatch.FlowContext) error {
//	        return send(fc.Value("invoice"))
//	    }).
//	    Catch(func(ctx context.Context, fc *dispatch.FlowContext, err error) {
//	        fc.Dispatcher.Logger().Error("order flow failed", "error", err)
//	    }).
//	    Commit()
//	defer off()
type Flow struct {
	dsp   *Dispatcher
	defs  []*Definition
	steps []Step
	catch CatchFunc
}

// NewFlow creates a flow bound to the given definitions.
func NewFlow(dsp *Dispatcher, defs ...*Definition) *Flow {
	return &Flow{dsp: dsp, defs: defs}
}

// Pipe appends a step. Returns the flow for chaining.
func (f *Flow) Pipe(step Step) *Flow {
	if step != nil {
		f.steps = append(f.steps, step)
	}
	return f
}

// Filter appends a step that stops the chain when the predicate is
// false. A predicate error fails the dispatch like any step error.
func (f *Flow) Filter(pred func(ctx context.Context, fc *FlowContext) (bool, error)) *Flow {
	return f.Pipe(func(ctx context.Context, fc *FlowContext) (map[string]any, error) {
		ok, err := pred(ctx, fc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrStop
		}
		return nil, nil
	})
}

// Handle appends a side-effect step that contributes nothing to the
// context and always continues on success.
func (f *Flow) Handle(fn func(ctx context.Context, fc *FlowContext) error) *Flow {
	return f.Pipe(func(ctx context.Context, fc *FlowContext) (map[string]any, error) {
		return nil, fn(ctx, fc)
	})
}

// Throttle appends a step that drops the dispatch (stops the chain)
// when the limiter disallows it.
func (f *Flow) Throttle(limiter ratelimit.Limiter) *Flow {
	return f.Pipe(func(ctx context.Context, fc *FlowContext) (map[string]any, error) {
		if !limiter.Allow(ctx) {
			return nil, ErrStop
		}
		return nil, nil
	})
}

// Catch registers the flow's single error handler. It is invoked with
// the context as of the failing step whenever a step returns an error
// other than ErrStop (or panics). Without a catch handler errors are
// logged and swallowed; either way the dispatch ends and no further
// step runs.
func (f *Flow) Catch(fn CatchFunc) *Flow {
	f.catch = fn
	return f
}

// Build returns a bus handler that creates a fresh FlowContext per
// invocation and runs the steps in order. The handler never returns an
// error: flow failures stop at the flow.
func (f *Flow) Build() Handler {
	steps := make([]Step, len(f.steps))
	copy(steps, f.steps)
	catch := f.catch

	return func(ctx context.Context, env *Envelope) error {
		fc := &FlowContext{
			FlowID:     uuid.NewString(),
			Dispatcher: f.dsp,
			Topic:      env.Topic,
			Envelope:   env,
			Payload:    env.Payload,
			values:     make(map[string]any),
		}

		for _, step := range steps {
			values, err := runStep(ctx, step, fc)
			if err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				if catch != nil {
					catch(ctx, fc, err)
				} else if f.dsp != nil {
					f.dsp.Logger().Debug("flow step failed",
						"flow_id", fc.FlowID,
						"topic", fc.Topic,
						"error", err)
				}
				return nil
			}
			fc.merge(values)
		}
		return nil
	}
}

// Commit builds the handler once and registers it on the bus for every
// bound definition. The returned closure unsubscribes from all of
// them.
func (f *Flow) Commit() func() {
	handler := f.Build()

	offs := make([]func(), 0, len(f.defs))
	for _, def := range f.defs {
		offs = append(offs, f.dsp.On(def, handler))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// runStep executes one step, converting panics into errors so a
// misbehaving step is handled like a failing one.
func runStep(ctx context.Context, step Step, fc *FlowContext) (values map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			values = nil
			err = &HandlerPanicError{Topic: fc.Topic, Value: r}
			if fc.Dispatcher != nil {
				fc.Dispatcher.Logger().Error("flow step panic recovered",
					"flow_id", fc.FlowID,
					"topic", fc.Topic,
					"error", r,
					"stack", string(debug.Stack()))
			}
		}
	}()
	return step(ctx, fc)
}
