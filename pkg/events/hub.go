// Package events fans out status and output events to any number of subscribers.
package events

import (
	"context"
	"sync"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/aretw0/interplay/pkg/ports"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Hub is an in-process publisher. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan domain.Event]struct{}
	metrics *observability.Metrics
	closed  bool
	done    chan struct{}
}

// Option configures the Hub.
type Option func(*Hub)

// WithMetrics counts events dropped for slow subscribers.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub with no subscribers.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs: make(map[chan domain.Event]struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish delivers ev to every subscriber that has room for it.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.metrics.Dropped(observability.DropSlowSubscriber)
		}
	}
}

// Subscribe returns a channel receiving every event published from now on.
// The channel is closed when ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, buffer int) <-chan domain.Event {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan domain.Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.remove(ch)
		case <-h.done:
		}
	}()
	return ch
}

func (h *Hub) remove(ch chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Close disconnects every subscriber. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// Publish records ev.
func (p *MemoryPublisher) Publish(ev domain.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Named returns the published events with the given name.
func (p *MemoryPublisher) Named(name string) []domain.Event {
	var out []domain.Event
	for _, ev := range p.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Multi publishes to several publishers in order.
type Multi []ports.EventPublisher

// Publish forwards ev to each publisher.
func (m Multi) Publish(ev domain.Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}
