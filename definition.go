package dispatch

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rbaliyan/dispatch/cache"
	"github.com/rbaliyan/dispatch/schema"
)

// Definition binds a topic to a payload shape and default envelope
// options. Definitions are immutable after construction and typically
// live as package-level values for the process lifetime.
//
// Example:
//
//	orderCreated, err := dispatch.NewDefinition("order.created",
//	    schema.Object("order").
//	        WithRequired("order_id", "total").
//	        WithProperty("order_id", "string").
//	        WithProperty("total", "number"),
//	    dispatch.WithDefaultTags("orders"),
//	    dispatch.WithResultCache(0, 0),
//	)
type Definition struct {
	topic          string
	payload        schema.Schema
	defaultTags    []string
	defaultPayload any
	results        *cache.Cache[int64, *parseOutcome]
}

// parseOutcome memoizes the result of a full envelope parse, keyed by
// envelope id.
type parseOutcome struct {
	env *Envelope
	err error
}

// NewDefinition creates a definition for the given topic and payload
// shape. A nil shape accepts any payload. Construction fails eagerly:
// ErrEmptyTopic for a missing topic, cache.ErrInvalidCapacity for a
// non-positive explicit cache capacity.
func NewDefinition(topic string, payload schema.Schema, opts ...DefinitionOption) (*Definition, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	o := newDefinitionOptions(opts...)
	if payload == nil {
		payload = schema.Any()
	}

	d := &Definition{
		topic:          topic,
		payload:        payload,
		defaultTags:    slices.Clone(o.defaultTags),
		defaultPayload: o.defaultPayload,
	}

	if o.cacheEnabled {
		results, err := cache.New[int64, *parseOutcome](o.cacheCapacity, cache.WithTTL(o.cacheTTL))
		if err != nil {
			return nil, fmt.Errorf("dispatch: result cache for topic %q: %w", topic, err)
		}
		d.results = results
	}

	return d, nil
}

// MustDefinition is NewDefinition that panics on error. Intended for
// package-level definitions where a bad shape is a programming error.
func MustDefinition(topic string, payload schema.Schema, opts ...DefinitionOption) *Definition {
	d, err := NewDefinition(topic, payload, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Topic returns the definition's topic.
func (d *Definition) Topic() string {
	return d.topic
}

// Schema returns the payload shape.
func (d *Definition) Schema() schema.Schema {
	return d.payload
}

// DefaultTags returns a copy of the tags prepended to every envelope.
func (d *Definition) DefaultTags() []string {
	return slices.Clone(d.defaultTags)
}

// Create builds a validated envelope. The payload argument may be nil,
// in which case the definition's default payload (or an empty object)
// is used. Returns a *ValidationError if the resolved payload does not
// conform to the shape.
func (d *Definition) Create(ctx context.Context, dsp *Dispatcher, payload any, opts ...CreateOption) (*Envelope, error) {
	o := newCreateOptions(opts...)

	parsed, err := d.payload.Parse(ctx, d.resolvePayload(payload, o))
	if err != nil {
		return nil, &ValidationError{Topic: d.topic, Err: err}
	}

	return d.newEnvelope(dsp, parsed, o), nil
}

// UnsafeCreate builds an envelope without validating the payload.
// The caller is responsible for shape conformance; the bus will still
// validate before fan-out.
func (d *Definition) UnsafeCreate(dsp *Dispatcher, payload any, opts ...CreateOption) *Envelope {
	o := newCreateOptions(opts...)
	return d.newEnvelope(dsp, d.resolvePayload(payload, o), o)
}

// resolvePayload picks the effective payload: explicit option, then
// positional argument, then the definition default, then an empty
// object.
func (d *Definition) resolvePayload(payload any, o *createOptions) any {
	if o.payload != nil {
		return o.payload
	}
	if payload != nil {
		return payload
	}
	if d.defaultPayload != nil {
		return d.defaultPayload
	}
	return map[string]any{}
}

func (d *Definition) newEnvelope(dsp *Dispatcher, payload any, o *createOptions) *Envelope {
	from := dsp.WorkerID()
	if o.from != nil {
		from = *o.from
	}

	tags := make([]string, 0, len(d.defaultTags)+len(o.tags))
	tags = append(tags, d.defaultTags...)
	tags = append(tags, o.tags...)

	return &Envelope{
		ID:      dsp.NextID(),
		Time:    time.Now(),
		Topic:   d.topic,
		From:    from,
		To:      slices.Clone(o.to),
		Tags:    tags,
		Payload: payload,
	}
}

// Validate reports whether candidate is a full, conforming envelope
// for this definition.
func (d *Definition) Validate(ctx context.Context, candidate any) bool {
	_, err := d.Parse(ctx, candidate)
	return err == nil
}

// Parse checks candidate against the full envelope shape: id, time,
// topic literal match, routing fields, and payload conformance. The
// candidate may be an *Envelope, an Envelope, or a map[string]any.
//
// When the result cache is enabled and the candidate carries an id,
// the outcome is memoized per id, so re-parsing the same identified
// envelope is O(1) after the first parse.
func (d *Definition) Parse(ctx context.Context, candidate any) (*Envelope, error) {
	env, err := asEnvelope(candidate)
	if err != nil {
		return nil, &ValidationError{Topic: d.topic, Err: err}
	}

	if d.results != nil && env.ID != 0 {
		if outcome, ok := d.results.Get(env.ID); ok {
			return outcome.env, outcome.err
		}
	}

	parsed, err := d.parseEnvelope(ctx, env)

	if d.results != nil && env.ID != 0 {
		d.results.Set(env.ID, &parseOutcome{env: parsed, err: err})
	}

	return parsed, err
}

// parseEnvelope performs the uncached full-shape check.
func (d *Definition) parseEnvelope(ctx context.Context, env *Envelope) (*Envelope, error) {
	var violations []schema.Violation
	if env.ID <= 0 {
		violations = append(violations, schema.Violation{
			Field: "id", Type: "required", Description: "id must be a positive integer",
		})
	}
	if env.Time.IsZero() {
		violations = append(violations, schema.Violation{
			Field: "time", Type: "required", Description: "time must be set",
		})
	}
	if env.Topic != d.topic {
		violations = append(violations, schema.Violation{
			Field: "topic", Type: "const",
			Description: fmt.Sprintf("topic must be %q, got %q", d.topic, env.Topic),
		})
	}
	if len(violations) > 0 {
		return nil, &ValidationError{
			Topic: d.topic,
			Err:   &schema.Error{Schema: d.topic, Violations: violations},
		}
	}

	if _, err := d.payload.Parse(ctx, env.Payload); err != nil {
		return nil, &ValidationError{Topic: d.topic, Err: err}
	}

	return env, nil
}

// ParseMany parses a batch of candidates. The first failing candidate
// fails the batch with the same error the singular Parse would return.
func (d *Definition) ParseMany(ctx context.Context, candidates []any) ([]*Envelope, error) {
	envelopes := make([]*Envelope, 0, len(candidates))
	for i, candidate := range candidates {
		env, err := d.Parse(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// ClearCache drops all memoized parse results.
func (d *Definition) ClearCache() {
	if d.results != nil {
		d.results.Clear()
	}
}

// CacheLen returns the number of memoized parse results.
func (d *Definition) CacheLen() int {
	if d.results == nil {
		return 0
	}
	return d.results.Len()
}

// asEnvelope reads a candidate as an envelope without judging its
// contents.
func asEnvelope(candidate any) (*Envelope, error) {
	switch v := candidate.(type) {
	case *Envelope:
		if v == nil {
			return nil, fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
		}
		return v, nil
	case Envelope:
		return &v, nil
	case map[string]any:
		return envelopeFromMap(v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformedEnvelope, candidate)
	}
}

// envelopeFromMap decodes the generic-map form produced by JSON
// round-trips.
func envelopeFromMap(m map[string]any) (*Envelope, error) {
	env := &Envelope{Payload: m["payload"]}

	var err error
	if env.ID, err = toInt64(m["id"]); err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrMalformedEnvelope, err)
	}
	if env.From, err = toInt64(m["from"]); err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrMalformedEnvelope, err)
	}

	switch v := m["time"].(type) {
	case nil:
	case time.Time:
		env.Time = v
	case string:
		if env.Time, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("%w: time: %v", ErrMalformedEnvelope, err)
		}
	default:
		return nil, fmt.Errorf("%w: time: unsupported type %T", ErrMalformedEnvelope, v)
	}

	if topic, ok := m["topic"]; ok {
		s, ok := topic.(string)
		if !ok {
			return nil, fmt.Errorf("%w: topic: unsupported type %T", ErrMalformedEnvelope, topic)
		}
		env.Topic = s
	}

	if env.To, err = toInt64Slice(m["to"]); err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrMalformedEnvelope, err)
	}
	if env.Tags, err = toStringSlice(m["tags"]); err != nil {
		return nil, fmt.Errorf("%w: tags: %v", ErrMalformedEnvelope, err)
	}

	return env, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toInt64Slice(v any) ([]int64, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []int64:
		return slices.Clone(s), nil
	case []any:
		out := make([]int64, 0, len(s))
		for _, item := range s {
			n, err := toInt64(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func toStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return slices.Clone(s), nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported element type %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
