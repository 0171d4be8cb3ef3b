package dispatch

import (
	"context"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		dsp, err := New()
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if dsp.WorkerID() != 0 {
			t.Errorf("expected default worker id 0, got %d", dsp.WorkerID())
		}
		if dsp.Bus() == nil {
			t.Fatal("expected a default bus")
		}
		if dsp.Bus().WorkerID() != 0 {
			t.Errorf("expected bus to inherit worker id, got %d", dsp.Bus().WorkerID())
		}
		if dsp.Logger() == nil {
			t.Fatal("expected a logger")
		}
	})

	t.Run("worker id out of range", func(t *testing.T) {
		if _, err := New(WithWorkerID(1 << 20)); err == nil {
			t.Error("expected error for worker id outside the snowflake layout")
		}
		if _, err := New(WithWorkerID(-1)); err == nil {
			t.Error("expected error for negative worker id")
		}
	})

	t.Run("injected bus", func(t *testing.T) {
		b := testBus(WithBusWorkerID(5))
		dsp, err := New(WithWorkerID(5), WithBus(b))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if dsp.Bus() != b {
			t.Error("expected the injected bus")
		}
	})
}

func TestDispatcherNextID(t *testing.T) {
	dsp := testDispatcher(t, 3)

	prev := dsp.NextID()
	for i := 0; i < 10_000; i++ {
		id := dsp.NextID()
		if id <= prev {
			t.Fatalf("ids must be strictly increasing: %d after %d", id, prev)
		}
		prev = id
	}
}

func TestDispatcherClose(t *testing.T) {
	dsp := testDispatcher(t, 1)
	def := MustDefinition("order.created", orderShape())

	dsp.Close()

	env := def.UnsafeCreate(dsp, map[string]any{"order_id": "a", "total": 1.0})
	if err := dsp.Emit(context.Background(), def, env); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
