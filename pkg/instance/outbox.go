package instance

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/interplay/pkg/domain"
)

// DefaultOutboxSize is the trigger queue capacity used when none is configured.
const DefaultOutboxSize = 256

// Outbox is the outbound queue of one instance.
//
// Trigger events go through a bounded FIFO; Push reports false when it is full
// and the event is dropped. Stream events are kept in a last-value-wins slot
// per event name, so a slow consumer only ever sees the latest value.
type Outbox struct {
	mu       sync.Mutex
	triggers chan domain.Event
	streams  map[string]domain.Event
	notify   chan struct{}
	closed   bool
}

// NewOutbox creates an outbox whose trigger queue holds size events.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		triggers: make(chan domain.Event, size),
		streams:  make(map[string]domain.Event),
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues ev. It never blocks.
func (o *Outbox) Push(ev domain.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}

	if ev.Kind == domain.KindStream {
		o.streams[ev.Name] = ev
		select {
		case o.notify <- struct{}{}:
		default:
		}
		return true
	}

	select {
	case o.triggers <- ev:
		return true
	default:
		return false
	}
}

// Close stops accepting events. Events already queued are still drained.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.triggers)
}

// takeStreams removes and returns the pending stream values, ordered by name.
func (o *Outbox) takeStreams() []domain.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.streams) == 0 {
		return nil
	}
	out := make([]domain.Event, 0, len(o.streams))
	for _, ev := range o.streams {
		out = append(out, ev)
	}
	clear(o.streams)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Drain calls fn for every event, sequentially, until the outbox is closed and
// empty or ctx is done. It is meant to run on a single goroutine per outbox.
func (o *Outbox) Drain(ctx context.Context, fn func(domain.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.triggers:
			if !ok {
				for _, s := range o.takeStreams() {
					fn(s)
				}
				return
			}
			fn(ev)
		case <-o.notify:
			for _, s := range o.takeStreams() {
				fn(s)
			}
		}
	}
}
