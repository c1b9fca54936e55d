// Package bridge hands data-channel events to the embedding application on a
// single goroutine.
//
// Sessions enqueue events from their own goroutines; Run delivers them one at
// a time, so the application never sees concurrent callbacks and events of one
// client arrive in the order they were raised.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ein-bandit/unity-webrtc-control/internal/metrics"
)

var (
	ErrClientUnavailable = errors.New("client unavailable")
	ErrStopped           = errors.New("bridge stopped")
	ErrQueueFull         = errors.New("bridge queue full")
)

const DefaultQueueSize = 256

// Handler is implemented by the embedding application.
type Handler interface {
	OnRegister(id uuid.UUID)
	OnMessage(id uuid.UUID, payload string)
	OnUnregister(id uuid.UUID)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Register   func(id uuid.UUID)
	Message    func(id uuid.UUID, payload string)
	Unregister func(id uuid.UUID)
}

func (f HandlerFuncs) OnRegister(id uuid.UUID) {
	if f.Register != nil {
		f.Register(id)
	}
}

func (f HandlerFuncs) OnMessage(id uuid.UUID, payload string) {
	if f.Message != nil {
		f.Message(id, payload)
	}
}

func (f HandlerFuncs) OnUnregister(id uuid.UUID) {
	if f.Unregister != nil {
		f.Unregister(id)
	}
}

type EventKind int

const (
	EventRegister EventKind = iota
	EventMessage
	EventUnregister
)

func (k EventKind) String() string {
	switch k {
	case EventRegister:
		return "register"
	case EventMessage:
		return "message"
	case EventUnregister:
		return "unregister"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind     EventKind
	ClientID uuid.UUID
	Payload  string
}

type Config struct {
	// QueueSize bounds the data messages waiting for delivery. Register and
	// Unregister events are never dropped and do not count against it.
	QueueSize int
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Bridge struct {
	handler   Handler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	queueSize int

	mu       sync.Mutex
	pending  []Event
	messages int // EventMessage entries in pending
	stopped  bool

	wake chan struct{}
	stop chan struct{}
}

func New(h Handler, cfg Config) *Bridge {
	if h == nil {
		h = HandlerFuncs{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		handler:   h,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		queueSize: cfg.QueueSize,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

func (b *Bridge) Register(id uuid.UUID) error {
	return b.enqueue(Event{Kind: EventRegister, ClientID: id})
}

func (b *Bridge) Message(id uuid.UUID, payload string) error {
	return b.enqueue(Event{Kind: EventMessage, ClientID: id, Payload: payload})
}

func (b *Bridge) Unregister(id uuid.UUID) error {
	return b.enqueue(Event{Kind: EventUnregister, ClientID: id})
}

// enqueue never blocks. A data message is dropped when QueueSize messages are
// already waiting; lifecycle events are always queued, so their number is
// bounded by two per admitted client.
func (b *Bridge) enqueue(ev Event) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	if ev.Kind == EventMessage {
		if b.messages >= b.queueSize {
			b.mu.Unlock()
			b.metrics.Inc(metrics.BridgeEventDropped)
			b.logger.Warn("bridge queue full, dropping message", "client_id", ev.ClientID.String())
			return ErrQueueFull
		}
		b.messages++
	}
	b.pending = append(b.pending, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *Bridge) next() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return Event{}, false
	}
	ev := b.pending[0]
	b.pending[0] = Event{}
	b.pending = b.pending[1:]
	if ev.Kind == EventMessage {
		b.messages--
	}
	return ev, true
}

// Run delivers queued events until ctx is done or Stop is called, then
// delivers whatever is still queued and returns. It returns ctx.Err() when
// ctx ended it and nil after Stop.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		b.drain()
		select {
		case <-ctx.Done():
			b.drain()
			return ctx.Err()
		case <-b.stop:
			b.drain()
			return nil
		case <-b.wake:
		}
	}
}

// Stop refuses further events and lets Run finish. It is idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.stop)
}

func (b *Bridge) drain() {
	for {
		ev, ok := b.next()
		if !ok {
			return
		}
		b.deliver(ev)
	}
}

func (b *Bridge) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge handler panicked", "client_id", ev.ClientID.String(), "event", ev.Kind.String(), "panic", r)
		}
	}()

	switch ev.Kind {
	case EventRegister:
		b.handler.OnRegister(ev.ClientID)
	case EventMessage:
		b.handler.OnMessage(ev.ClientID, ev.Payload)
	case EventUnregister:
		b.handler.OnUnregister(ev.ClientID)
	}
	b.metrics.Inc(metrics.BridgeEventDelivered)
}
