package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	busRunning = 1
	busStopped = 0
)

const (
	spanKeyEnvelopeID = "envelope.id"
	spanKeyTopic      = "envelope.topic"
	spanKeyFrom       = "envelope.from"
	spanKeyWorker     = "bus.worker_id"
	spanKeySubscriber = "subscription.id"
)

// Handler processes a delivered envelope. A non-nil error (or a panic)
// is recorded as a failed outcome for that handler only; it is never
// surfaced to the Emit caller and never affects sibling handlers.
type Handler func(ctx context.Context, env *Envelope) error

// subscriber is one (topic, handler) registration.
type subscriber struct {
	id string
	fn Handler
}

// Bus is a topic-keyed subscription registry with concurrent,
// failure-isolated delivery.
//
// Delivery contract:
//   - the envelope is validated against the definition before fan-out;
//     an invalid envelope is dropped silently
//   - an envelope targeted at other workers is not delivered
//   - all handlers for the topic run concurrently; Emit resolves once
//     every outcome has settled or timed out
//   - a handler failure (error or panic) never propagates to the Emit
//     caller and never blocks sibling handlers
type Bus struct {
	status     int32
	id         string
	workerID   int64
	maxTimeout time.Duration
	logger     *slog.Logger

	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool

	mu     sync.RWMutex
	topics map[string][]*subscriber

	published metric.Int64Counter
	delivered metric.Int64Counter
	failed    metric.Int64Counter
	timeouts  metric.Int64Counter
	dropped   metric.Int64Counter
}

// NewBus creates a bus.
//
// Options:
//   - WithBusWorkerID: worker identity for targeted delivery (default 0)
//   - WithMaxTimeout: per-handler settle timeout (default 0 = unbounded)
//   - WithBusLogger, WithBusTracing, WithBusMetrics, WithBusRecovery
func NewBus(opts ...BusOption) *Bus {
	o := newBusOptions(opts...)

	b := &Bus{
		status:          busRunning,
		id:              uuid.NewString(),
		workerID:        o.workerID,
		maxTimeout:      o.maxTimeout,
		logger:          o.logger.With("component", "bus", "worker_id", o.workerID),
		tracingEnabled:  o.tracingEnabled,
		metricsEnabled:  o.metricsEnabled,
		recoveryEnabled: o.recoveryEnabled,
		topics:          make(map[string][]*subscriber),
	}

	meter := otel.Meter("dispatch.bus")
	b.published, _ = meter.Int64Counter("dispatch.emitted",
		metric.WithDescription("Total envelopes accepted for fan-out"))
	b.delivered, _ = meter.Int64Counter("dispatch.delivered",
		metric.WithDescription("Total successful handler deliveries"))
	b.failed, _ = meter.Int64Counter("dispatch.handler_errors",
		metric.WithDescription("Total handler failures (errors and panics)"))
	b.timeouts, _ = meter.Int64Counter("dispatch.handler_timeouts",
		metric.WithDescription("Total handlers abandoned to timeout"))
	b.dropped, _ = meter.Int64Counter("dispatch.dropped",
		metric.WithDescription("Total envelopes dropped before fan-out"))

	return b
}

// ID returns the bus id.
func (b *Bus) ID() string {
	return b.id
}

// WorkerID returns the worker identity used for targeted delivery.
func (b *Bus) WorkerID() int64 {
	return b.workerID
}

// Running reports whether the bus accepts subscriptions and emissions.
func (b *Bus) Running() bool {
	return atomic.LoadInt32(&b.status) == busRunning
}

// Close stops the bus and drops all subscriptions. Emitting on a
// closed bus returns ErrClosed; in-flight handlers are not cancelled.
func (b *Bus) Close() {
	if atomic.CompareAndSwapInt32(&b.status, busRunning, busStopped) {
		b.mu.Lock()
		b.topics = make(map[string][]*subscriber)
		b.mu.Unlock()
		b.logger.Debug("bus closed")
	}
}

// On registers a handler under the definition's topic and returns an
// unsubscribe closure. Handlers for one topic are iterated in
// registration order but delivered concurrently, so completion order
// is unspecified.
//
// Unsubscribing the last handler for a topic removes the topic entry
// entirely; unsubscribing a handler mid-execution does not cancel the
// in-flight execution. The closure is idempotent.
func (b *Bus) On(def *Definition, fn Handler) func() {
	if def == nil || fn == nil || !b.Running() {
		return func() {}
	}

	sub := &subscriber{id: uuid.NewString(), fn: fn}
	topic := def.Topic()

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	b.logger.Debug("subscribed", "topic", topic, "subscription_id", sub.id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.topics[topic]
			for i, s := range subs {
				if s == sub {
					subs = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(subs) == 0 {
				delete(b.topics, topic)
			} else {
				b.topics[topic] = subs
			}
			b.logger.Debug("unsubscribed", "topic", topic, "subscription_id", sub.id)
		})
	}
}

// Subscribers returns the number of handlers registered for a topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Topics returns the topics that currently have subscribers.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	return names
}

// Emit delivers env to every current subscriber of the definition's
// topic and returns once all outcomes have settled (or been abandoned
// to the configured timeout).
//
// Emit never reports delivery failures: an invalid envelope, a
// mistargeted envelope, an empty topic, handler errors, panics and
// timeouts are all absorbed. The only error is ErrClosed (bus closed)
// or ErrNilDefinition.
func (b *Bus) Emit(ctx context.Context, def *Definition, env *Envelope) error {
	if def == nil {
		return ErrNilDefinition
	}
	if !b.Running() {
		return ErrClosed
	}
	if env == nil {
		return nil
	}

	topic := def.Topic()

	// Every delivered envelope satisfies its definition's shape.
	if !def.Validate(ctx, env) {
		b.drop(ctx, topic, "invalid")
		return nil
	}

	// Worker targeting: empty To broadcasts, otherwise this bus's
	// worker id must be listed.
	if !env.TargetedAt(b.workerID) {
		b.drop(ctx, topic, "worker_filter")
		return nil
	}

	b.mu.RLock()
	subs := make([]*subscriber, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	if b.metricsEnabled {
		b.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
	}

	if b.tracingEnabled {
		var span trace.Span
		ctx, span = otel.Tracer("dispatch.bus").Start(ctx, fmt.Sprintf("%s.emit", topic),
			trace.WithAttributes(
				attribute.Int64(spanKeyEnvelopeID, env.ID),
				attribute.String(spanKeyTopic, topic),
				attribute.Int64(spanKeyFrom, env.From),
				attribute.Int64(spanKeyWorker, b.workerID)),
			trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *subscriber) {
			defer wg.Done()
			b.deliver(ctx, topic, sub, env)
		}(sub)
	}
	wg.Wait()

	return nil
}

// deliver runs one handler and waits for its outcome, racing it
// against the configured timeout. A timed-out handler keeps running;
// the bus merely stops waiting for it.
func (b *Bus) deliver(ctx context.Context, topic string, sub *subscriber, env *Envelope) {
	if b.tracingEnabled {
		var span trace.Span
		ctx, span = otel.Tracer("dispatch.bus").Start(ctx, fmt.Sprintf("%s.deliver", topic),
			trace.WithAttributes(
				attribute.Int64(spanKeyEnvelopeID, env.ID),
				attribute.String(spanKeyTopic, topic),
				attribute.String(spanKeySubscriber, sub.id)),
			trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
	}

	outcome := make(chan error, 1)
	go func() {
		outcome <- b.invoke(ctx, topic, sub.fn, env)
	}()

	var err error
	if b.maxTimeout > 0 {
		timer := time.NewTimer(b.maxTimeout)
		defer timer.Stop()
		select {
		case err = <-outcome:
		case <-timer.C:
			err = &TimeoutError{Topic: topic, Timeout: b.maxTimeout}
		}
	} else {
		err = <-outcome
	}

	switch {
	case err == nil:
		if b.metricsEnabled {
			b.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
		}
	case IsTimeout(err):
		if b.metricsEnabled {
			b.timeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
		}
		b.logger.Warn("handler abandoned to timeout",
			"topic", topic,
			"subscription_id", sub.id,
			"timeout", b.maxTimeout)
	default:
		if b.metricsEnabled {
			b.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
		}
		b.logger.Warn("handler failed",
			"topic", topic,
			"subscription_id", sub.id,
			"error", err)
	}
}

// invoke calls the handler, converting panics into errors when
// recovery is enabled.
func (b *Bus) invoke(ctx context.Context, topic string, fn Handler, env *Envelope) (err error) {
	if b.recoveryEnabled {
		defer func() {
			if r := recover(); r != nil {
				err = &HandlerPanicError{Topic: topic, Value: r}
				b.logger.Error("handler panic recovered",
					"topic", topic,
					"error", r,
					"stack", string(debug.Stack()))
			}
		}()
	}
	return fn(ctx, env)
}

// drop records an envelope rejected before fan-out.
func (b *Bus) drop(ctx context.Context, topic, reason string) {
	if b.metricsEnabled {
		b.dropped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("reason", reason)))
	}
	b.logger.Debug("envelope dropped", "topic", topic, "reason", reason)
}
