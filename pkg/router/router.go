// Package router delivers output events from instances to the inputs of other
// instances along routes.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/instance"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/aretw0/interplay/pkg/ports"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 5 * time.Second

// Node is what the router needs from an instance: a source to drain and a
// target to deliver to.
type Node interface {
	ID() string
	Outbox() *instance.Outbox
	Handle(ctx context.Context, input string, ev domain.Event) error
}

type routeKey struct {
	source string
	event  string
}

type routeIndex map[routeKey][]domain.Route

type attachment struct {
	node   Node
	cancel context.CancelFunc
	done   chan struct{}
}

// Router drains every attached instance on its own goroutine, so emissions of
// one source are routed in order while sources never wait on each other.
type Router struct {
	index atomic.Pointer[routeIndex]

	mu       sync.RWMutex
	attached map[string]*attachment

	ctx    context.Context
	cancel context.CancelFunc

	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	publisher ports.EventPublisher
}

// Option configures the Router.
type Option func(*Router)

// WithLogger configures a logger for the Router.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithPublisher receives every routed event plus route_error events.
func WithPublisher(p ports.EventPublisher) Option {
	return func(r *Router) { r.publisher = p }
}

// WithTimeout sets the per-delivery timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}

// New creates a router with no routes and no attached instances.
func New(opts ...Option) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		attached:  make(map[string]*attachment),
		ctx:       ctx,
		cancel:    cancel,
		timeout:   DefaultTimeout,
		logger:    logging.NewNop(),
		publisher: nopPublisher{},
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := routeIndex{}
	r.index.Store(&empty)
	return r
}

// SetRoutes atomically replaces the whole routing table.
func (r *Router) SetRoutes(routes []domain.Route) {
	idx := make(routeIndex, len(routes))
	for _, rt := range routes {
		k := routeKey{source: rt.SourceInstanceID, event: rt.SourceEvent}
		idx[k] = append(idx[k], rt.Clone())
	}
	for k := range idx {
		list := idx[k]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	r.index.Store(&idx)
}

// Routes returns the routes leaving (source, event).
func (r *Router) Routes(source, event string) []domain.Route {
	idx := *r.index.Load()
	return idx[routeKey{source: source, event: event}]
}

// Attach starts draining n's outbox and makes n a delivery target.
// Attaching an id twice replaces the previous attachment.
func (r *Router) Attach(n Node) {
	r.Detach(n.ID())

	ctx, cancel := context.WithCancel(r.ctx)
	a := &attachment{node: n, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.attached[n.ID()] = a
	r.mu.Unlock()

	go func() {
		defer close(a.done)
		n.Outbox().Drain(ctx, r.route)
	}()
}

// Detach stops draining the instance and removes it as a target. It waits for
// an in-flight emission to finish routing.
func (r *Router) Detach(id string) {
	r.mu.Lock()
	a, ok := r.attached[id]
	delete(r.attached, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	a.cancel()
	<-a.done
}

// Close detaches every instance.
func (r *Router) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.attached))
	for id := range r.attached {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Detach(id)
	}
	r.cancel()
}

func (r *Router) target(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attached[id]
	if !ok {
		return nil, false
	}
	return a.node, true
}

// route handles one emission. It runs on the source's drain goroutine.
func (r *Router) route(ev domain.Event) {
	r.publisher.Publish(ev)

	for _, rt := range r.Routes(ev.Source, ev.Name) {
		r.deliver(rt, ev)
	}
}

func (r *Router) deliver(rt domain.Route, ev domain.Event) {
	if rt.Condition != nil && !rt.Condition.Match(ev.Payload) {
		r.metrics.Delivery(observability.ResultFiltered, 0)
		return
	}

	target, ok := r.target(rt.TargetInstanceID)
	if !ok {
		r.metrics.Dropped(observability.DropNoTarget)
		r.fail(rt, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, rt.TargetInstanceID), observability.ResultError, 0)
		return
	}

	out := ev
	if rt.Transform != nil {
		out.Payload = rt.Transform.Apply(ev.Payload)
	} else {
		out.Payload = domain.ClonePayload(ev.Payload)
	}

	input := rt.TargetInput
	if input == "" {
		input = ev.Name
	}

	start := time.Now()
	result, err := r.call(target, input, out)
	if err != nil {
		r.fail(rt, err, result, time.Since(start))
		return
	}
	r.metrics.Delivery(observability.ResultOK, time.Since(start))
	r.logger.Debug("event delivered", "route_id", rt.ID, "event", ev.Name, "seq", ev.Seq)
}

type callResult struct {
	err      error
	panicked bool
}

// call runs target.Handle under recover with the delivery timeout. A handler
// that ignores its context is abandoned when the timeout fires.
func (r *Router) call(target Node, input string, ev domain.Event) (string, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", p), panicked: true}
			}
		}()
		done <- callResult{err: target.Handle(ctx, input, ev)}
	}()

	select {
	case res := <-done:
		switch {
		case res.panicked:
			return observability.ResultPanic, res.err
		case errors.Is(res.err, context.DeadlineExceeded):
			return observability.ResultTimeout, res.err
		case res.err != nil:
			return observability.ResultError, res.err
		}
		return observability.ResultOK, nil
	case <-ctx.Done():
		return observability.ResultTimeout, fmt.Errorf("delivery abandoned: %w", ctx.Err())
	}
}

func (r *Router) fail(rt domain.Route, err error, result string, d time.Duration) {
	re := &domain.RoutingError{
		RouteID:  rt.ID,
		SourceID: rt.SourceInstanceID,
		TargetID: rt.TargetInstanceID,
		Err:      err,
	}
	r.metrics.Delivery(result, d)
	r.logger.Warn("delivery failed",
		"route_id", rt.ID,
		"event", rt.SourceEvent,
		"result", result,
		"err", re,
	)
	r.publisher.Publish(domain.NewRouteErrorEvent(re))
}
