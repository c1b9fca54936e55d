package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ein-bandit/unity-webrtc-control/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) handler() Handler {
	return HandlerFuncs{
		Register:   func(id uuid.UUID) { r.add("register") },
		Message:    func(id uuid.UUID, payload string) { r.add("message:" + payload) },
		Unregister: func(id uuid.UUID) { r.add("unregister") },
	}
}

func TestBridgeDeliversInOrder(t *testing.T) {
	rec := &recorder{}
	m := metrics.New()
	b := New(rec.handler(), Config{QueueSize: 8, Metrics: m})

	id := uuid.New()
	for _, err := range []error{
		b.Register(id),
		b.Message(id, "a"),
		b.Message(id, "b"),
		b.Unregister(id),
	} {
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	b.Stop()
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"register", "message:a", "message:b", "unregister"}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events=%v, want %v", got, want)
		}
	}
	if got := m.Get(metrics.BridgeEventDelivered); got != 4 {
		t.Fatalf("%s=%d, want 4", metrics.BridgeEventDelivered, got)
	}
}

func TestBridgeQueueFullDrops(t *testing.T) {
	m := metrics.New()
	b := New(nil, Config{QueueSize: 1, Metrics: m})
	id := uuid.New()

	if err := b.Message(id, "first"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := b.Message(id, "second"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second enqueue err=%v, want ErrQueueFull", err)
	}
	if got := m.Get(metrics.BridgeEventDropped); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.BridgeEventDropped, got)
	}
}

func TestBridgeStopRejects(t *testing.T) {
	b := New(nil, Config{})
	b.Stop()
	b.Stop()
	if err := b.Register(uuid.New()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Register after Stop err=%v, want ErrStopped", err)
	}
}

func TestBridgeRunStopsOnContext(t *testing.T) {
	b := New(nil, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err=%v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestBridgeSurvivesHandlerPanic(t *testing.T) {
	rec := &recorder{}
	b := New(HandlerFuncs{
		Message: func(id uuid.UUID, payload string) {
			if payload == "boom" {
				panic("boom")
			}
			rec.add(payload)
		},
	}, Config{})

	id := uuid.New()
	_ = b.Message(id, "boom")
	_ = b.Message(id, "ok")
	b.Stop()
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rec.snapshot(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("events=%v, want [ok]", got)
	}
}

func TestBridgeKeepsLifecycleEventsWhenQueueFull(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{})
	release := make(chan struct{})
	m := metrics.New()
	b := New(HandlerFuncs{
		Message: func(id uuid.UUID, payload string) {
			if payload == "a" {
				close(started)
				<-release
			}
			rec.add("message:" + payload)
		},
		Unregister: func(id uuid.UUID) { rec.add("unregister") },
	}, Config{QueueSize: 1, Metrics: m})

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	id := uuid.New()
	if err := b.Message(id, "a"); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	<-started
	if err := b.Message(id, "b"); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if err := b.Message(id, "c"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue c err=%v, want ErrQueueFull", err)
	}
	if err := b.Unregister(id); err != nil {
		t.Fatalf("Unregister err=%v, want nil", err)
	}
	if err := b.Register(uuid.New()); err != nil {
		t.Fatalf("Register err=%v, want nil", err)
	}
	close(release)

	b.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}

	want := []string{"message:a", "message:b", "unregister"}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events=%v, want %v", got, want)
		}
	}
	if got := m.Get(metrics.BridgeEventDropped); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.BridgeEventDropped, got)
	}
}

func TestBridgeRunDrainsOnContext(t *testing.T) {
	rec := &recorder{}
	b := New(rec.handler(), Config{})
	id := uuid.New()
	_ = b.Register(id)
	_ = b.Unregister(id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v, want context.Canceled", err)
	}
	if got := rec.snapshot(); len(got) != 2 || got[1] != "unregister" {
		t.Fatalf("events=%v, want [register unregister]", got)
	}
}
