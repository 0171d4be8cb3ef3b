package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"

	"github.com/rbaliyan/dispatch/cache"
	"github.com/rbaliyan/dispatch/schema"
)

func init() {
	faker.Seed(time.Now().UnixNano())
}

// orderShape is the payload shape used across definition tests.
func orderShape() schema.Schema {
	return schema.Object("order").
		WithRequired("order_id", "total").
		WithProperty("order_id", "string").
		WithProperty("total", "number")
}

func testDispatcher(t *testing.T, workerID int64, busOpts ...BusOption) *Dispatcher {
	t.Helper()
	opts := append([]BusOption{
		WithBusWorkerID(workerID),
		WithBusTracing(false),
		WithBusMetrics(false),
	}, busOpts...)
	dsp, err := New(WithWorkerID(workerID), WithBus(NewBus(opts...)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return dsp
}

// countingSchema wraps a schema and counts Parse invocations, to make
// result-cache hits observable.
type countingSchema struct {
	inner schema.Schema
	calls atomic.Int64
}

func (s *countingSchema) Name() string { return s.inner.Name() }

func (s *countingSchema) Parse(ctx context.Context, candidate any) (any, error) {
	s.calls.Add(1)
	return s.inner.Parse(ctx, candidate)
}

func TestNewDefinition(t *testing.T) {
	t.Run("empty topic", func(t *testing.T) {
		if _, err := NewDefinition("", nil); !errors.Is(err, ErrEmptyTopic) {
			t.Errorf("expected ErrEmptyTopic, got %v", err)
		}
	})

	t.Run("nil schema accepts any payload", func(t *testing.T) {
		def, err := NewDefinition("free.form", nil)
		if err != nil {
			t.Fatalf("NewDefinition failed: %v", err)
		}
		dsp := testDispatcher(t, 0)
		if _, err := def.Create(context.Background(), dsp, "anything at all"); err != nil {
			t.Errorf("expected any payload to pass, got %v", err)
		}
	})

	t.Run("invalid cache capacity fails eagerly", func(t *testing.T) {
		_, err := NewDefinition("t", nil, WithResultCache(-1, time.Minute))
		if !errors.Is(err, cache.ErrInvalidCapacity) {
			t.Errorf("expected cache.ErrInvalidCapacity, got %v", err)
		}
	})
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	dsp := testDispatcher(t, 7)

	def, err := NewDefinition("order.created", orderShape(), WithDefaultTags("orders", "v1"))
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	t.Run("conforming payload", func(t *testing.T) {
		payload := map[string]any{"order_id": faker.Lorem().Word(), "total": 99.5}
		env, err := def.Create(ctx, dsp, payload, WithTags("priority"))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if diff := cmp.Diff(payload, env.Payload); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"orders", "v1", "priority"}, env.Tags); diff != "" {
			t.Errorf("tags mismatch (-want +got):\n%s", diff)
		}
		if env.Topic != "order.created" {
			t.Errorf("expected topic %q, got %q", "order.created", env.Topic)
		}
		if env.From != 7 {
			t.Errorf("expected from to default to worker id 7, got %d", env.From)
		}
		if !env.Broadcast() {
			t.Errorf("expected broadcast envelope, got to=%v", env.To)
		}
		if env.ID <= 0 {
			t.Errorf("expected positive id, got %d", env.ID)
		}
		if env.Time.IsZero() {
			t.Error("expected creation time to be set")
		}
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := def.Create(ctx, dsp, map[string]any{"order_id": "x"})
		if !IsValidation(err) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		var serr *schema.Error
		if !errors.As(err, &serr) {
			t.Fatalf("expected underlying *schema.Error, got %v", err)
		}
	})

	t.Run("routing overrides", func(t *testing.T) {
		env, err := def.Create(ctx, dsp,
			map[string]any{"order_id": "x", "total": 1.0},
			WithFrom(42), WithTo(1, 2, 3))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if env.From != 42 {
			t.Errorf("expected from 42, got %d", env.From)
		}
		if diff := cmp.Diff([]int64{1, 2, 3}, env.To); diff != "" {
			t.Errorf("to mismatch (-want +got):\n%s", diff)
		}
		if !env.TargetedAt(2) || env.TargetedAt(4) {
			t.Error("worker targeting mismatch")
		}
	})

	t.Run("payload option overrides positional argument", func(t *testing.T) {
		want := map[string]any{"order_id": "opt", "total": 2.0}
		env, err := def.Create(ctx, dsp, map[string]any{"order_id": "pos", "total": 1.0}, WithPayload(want))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if diff := cmp.Diff(want, env.Payload); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("nil payload falls back to default payload", func(t *testing.T) {
		fallback := map[string]any{"order_id": "default", "total": 0.0}
		withDefault, err := NewDefinition("order.default", orderShape(), WithDefaultPayload(fallback))
		if err != nil {
			t.Fatalf("NewDefinition failed: %v", err)
		}

		env, err := withDefault.Create(ctx, dsp, nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if diff := cmp.Diff(fallback, env.Payload); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("nil payload without default becomes empty object", func(t *testing.T) {
		loose, err := NewDefinition("loose", nil)
		if err != nil {
			t.Fatalf("NewDefinition failed: %v", err)
		}
		env, err := loose.Create(ctx, dsp, nil)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if diff := cmp.Diff(map[string]any{}, env.Payload); diff != "" {
			t.Errorf("payload mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUnsafeCreate(t *testing.T) {
	dsp := testDispatcher(t, 1)

	def, err := NewDefinition("order.created", orderShape())
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	// Payload violates the shape; UnsafeCreate must not care.
	env := def.UnsafeCreate(dsp, map[string]any{"bogus": true})
	if env == nil {
		t.Fatal("expected envelope")
	}
	if env.ID <= 0 || env.Topic != "order.created" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	// The full parse still rejects it.
	if def.Validate(context.Background(), env) {
		t.Error("expected full validation to reject non-conforming payload")
	}
}

func TestParse(t *testing.T) {
	ctx := context.Background()
	dsp := testDispatcher(t, 1)

	def, err := NewDefinition("order.created", orderShape())
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	valid, err := def.Create(ctx, dsp, map[string]any{"order_id": "a", "total": 1.0})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	t.Run("valid envelope", func(t *testing.T) {
		env, err := def.Parse(ctx, valid)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if env.ID != valid.ID {
			t.Errorf("expected id %d, got %d", valid.ID, env.ID)
		}
	})

	t.Run("envelope value candidate", func(t *testing.T) {
		if _, err := def.Parse(ctx, *valid); err != nil {
			t.Errorf("Parse of Envelope value failed: %v", err)
		}
	})

	t.Run("map candidate", func(t *testing.T) {
		m := map[string]any{
			"id":      float64(valid.ID),
			"time":    valid.Time.Format(time.RFC3339Nano),
			"topic":   "order.created",
			"from":    float64(1),
			"tags":    []any{"a"},
			"payload": map[string]any{"order_id": "a", "total": 1.0},
		}
		env, err := def.Parse(ctx, m)
		if err != nil {
			t.Fatalf("Parse of map failed: %v", err)
		}
		if env.ID != valid.ID {
			t.Errorf("expected id %d, got %d", valid.ID, env.ID)
		}
	})

	t.Run("wrong topic", func(t *testing.T) {
		other := *valid
		other.Topic = "order.updated"
		if _, err := def.Parse(ctx, &other); !IsValidation(err) {
			t.Errorf("expected ValidationError for wrong topic, got %v", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		other := *valid
		other.ID = 0
		if _, err := def.Parse(ctx, &other); !IsValidation(err) {
			t.Errorf("expected ValidationError for missing id, got %v", err)
		}
	})

	t.Run("zero time", func(t *testing.T) {
		other := *valid
		other.Time = time.Time{}
		if _, err := def.Parse(ctx, &other); !IsValidation(err) {
			t.Errorf("expected ValidationError for zero time, got %v", err)
		}
	})

	t.Run("unsupported candidate type", func(t *testing.T) {
		_, err := def.Parse(ctx, 42)
		if !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("expected ErrMalformedEnvelope, got %v", err)
		}
		if !IsValidation(err) {
			t.Errorf("expected malformed candidate to surface as ValidationError, got %v", err)
		}
	})
}

func TestParseResultCache(t *testing.T) {
	ctx := context.Background()
	dsp := testDispatcher(t, 1)

	counting := &countingSchema{inner: orderShape()}
	def, err := NewDefinition("order.created", counting, WithResultCache(0, 0))
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	env, err := def.Create(ctx, dsp, map[string]any{"order_id": "a", "total": 1.0})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	createCalls := counting.calls.Load()

	if _, err := def.Parse(ctx, env); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if def.CacheLen() != 1 {
		t.Errorf("expected one cached result, got %d", def.CacheLen())
	}

	for i := 0; i < 5; i++ {
		if _, err := def.Parse(ctx, env); err != nil {
			t.Fatalf("cached Parse failed: %v", err)
		}
	}
	if got := counting.calls.Load(); got != createCalls+1 {
		t.Errorf("expected a single schema parse after create, got %d additional", got-createCalls)
	}

	t.Run("failures are memoized too", func(t *testing.T) {
		bad := def.UnsafeCreate(dsp, map[string]any{"bogus": true})
		before := counting.calls.Load()

		first := def.Validate(ctx, bad)
		second := def.Validate(ctx, bad)
		if first || second {
			t.Error("expected cached failure on both parses")
		}
		if got := counting.calls.Load(); got != before+1 {
			t.Errorf("expected one schema parse for repeated failing envelope, got %d", got-before)
		}
	})

	t.Run("clear cache forces re-parse", func(t *testing.T) {
		def.ClearCache()
		if def.CacheLen() != 0 {
			t.Fatalf("expected empty cache, got %d", def.CacheLen())
		}
		before := counting.calls.Load()
		if _, err := def.Parse(ctx, env); err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if got := counting.calls.Load(); got != before+1 {
			t.Errorf("expected re-parse after ClearCache, got %d additional calls", got-before)
		}
	})
}

func TestParseMany(t *testing.T) {
	ctx := context.Background()
	dsp := testDispatcher(t, 1)

	def, err := NewDefinition("order.created", orderShape())
	if err != nil {
		t.Fatalf("NewDefinition failed: %v", err)
	}

	first, _ := def.Create(ctx, dsp, map[string]any{"order_id": "a", "total": 1.0})
	second, _ := def.Create(ctx, dsp, map[string]any{"order_id": "b", "total": 2.0})

	t.Run("all valid", func(t *testing.T) {
		envs, err := def.ParseMany(ctx, []any{first, second})
		if err != nil {
			t.Fatalf("ParseMany failed: %v", err)
		}
		if len(envs) != 2 {
			t.Fatalf("expected 2 envelopes, got %d", len(envs))
		}
	})

	t.Run("one invalid fails the batch", func(t *testing.T) {
		bad := def.UnsafeCreate(dsp, map[string]any{"bogus": true})
		_, err := def.ParseMany(ctx, []any{first, bad, second})
		if !IsValidation(err) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})
}

func TestMustDefinition(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid definition")
		}
	}()
	MustDefinition("", nil)
}
