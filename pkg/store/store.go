// Package store owns the single AppState of the runtime and keeps it durable.
//
// Structural changes are validated, applied in memory and written through to
// the backend right away. Runtime metadata changes are coalesced and written
// after a quiet period. Writes are serialized and stamped with a generation so
// an older snapshot never overwrites a newer one.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/aretw0/interplay/pkg/ports"
)

// DefaultDebounce is the quiet period before runtime metadata is written.
const DefaultDebounce = 250 * time.Millisecond

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("state store closed")

// Store holds the AppState in memory and persists it to a backend.
type Store struct {
	backend ports.StateBackend

	mu      sync.Mutex // guards the fields below
	state   *domain.AppState
	gen     uint64 // bumped by every mutation
	written uint64 // last generation the backend accepted
	timer   *time.Timer
	closed  bool

	writeMu sync.Mutex // serializes backend writes

	quarantined string
	release     func(context.Context) error

	debounce time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures the Store.
type Option func(*Store)

// WithLogger configures a logger for the Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithDebounce sets the quiet period for runtime metadata writes.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Open loads the persisted state from backend. A missing state starts empty.
// A state that cannot be read is moved aside with Quarantine and the store
// starts empty; this is logged, never returned. Open only fails when the
// backend refuses ownership.
func Open(ctx context.Context, backend ports.StateBackend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:  backend,
		debounce: DefaultDebounce,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if ex, ok := backend.(ports.Exclusive); ok {
		release, err := ex.Acquire(ctx)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "acquire", Err: err}
		}
		s.release = release
	}

	state, err := backend.Load(ctx)
	switch {
	case err == nil:
		s.logger.Info("state loaded",
			"instances", len(state.Instances),
			"routes", len(state.Routes),
			"interactions", len(state.Interactions),
		)
	case errors.Is(err, domain.ErrStateNotFound):
		s.logger.Info("no persisted state, starting empty")
		state = domain.NewAppState()
	default:
		s.logger.Error("persisted state unreadable, starting empty", "err", &domain.PersistenceError{Op: "load", Err: err})
		where, qerr := backend.Quarantine(ctx)
		if qerr != nil {
			s.logger.Error("could not quarantine unreadable state", "err", qerr)
		} else {
			s.quarantined = where
			s.logger.Warn("unreadable state preserved", "location", where)
		}
		state = domain.NewAppState()
	}

	state.Normalize()
	s.state = state
	return s, nil
}

// Quarantined returns where an unreadable state was moved by Open, if any.
func (s *Store) Quarantined() string { return s.quarantined }

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *domain.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Dirty reports whether some mutation has not reached the backend yet.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written < s.gen
}

// Instance returns the persisted view of one instance.
func (s *Store) Instance(id string) (domain.InstanceSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.state.Instances[id]
	return inst.Clone(), ok
}

// Route returns one route.
func (s *Store) Route(id string) (domain.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Routes[id]
	return r.Clone(), ok
}

// Interaction returns one interaction.
func (s *Store) Interaction(id string) (domain.Interaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ia, ok := s.state.Interactions[id]
	return ia.Clone(), ok
}

// Update applies fn to a copy of the state. If fn fails or the result breaks
// an invariant, nothing changes and the error is returned. Otherwise the copy
// becomes the state and is written to the backend before Update returns.
// A failed write is logged and retried later; it is not returned.
func (s *Store) Update(ctx context.Context, fn func(*domain.AppState) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	next := s.state.Clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := Check(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	_ = s.persist(context.WithoutCancel(ctx))
	return nil
}

// UpdateRuntime replaces the runtime metadata of an instance and schedules a
// debounced write. A burst of calls produces a single write. Unknown ids are
// ignored.
func (s *Store) UpdateRuntime(id string, meta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	inst, ok := s.state.Instances[id]
	if !ok {
		return
	}
	inst.Runtime = domain.ClonePayload(meta)
	s.state.Instances[id] = inst
	s.gen++
	s.scheduleLocked()
}

// Flush writes the current state now, whatever the debounce timer says.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	return s.persist(ctx)
}

// Close stops the debounce timer, performs the final write, releases backend
// ownership and closes the backend if it can be closed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	var errs []error
	if err := s.persist(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.release != nil {
		if err := s.release(ctx); err != nil {
			errs = append(errs, &domain.PersistenceError{Op: "release", Err: err})
		}
	}
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, &domain.PersistenceError{Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (s *Store) scheduleLocked() {
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushPending)
		return
	}
	s.timer.Reset(s.debounce)
}

func (s *Store) flushPending() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	_ = s.persist(context.Background())
}

// persist writes the latest generation unless the backend already has it.
func (s *Store) persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.written >= s.gen {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	snap := s.state.Clone()
	s.mu.Unlock()

	err := s.backend.Save(ctx, snap)
	s.metrics.StoreWrite(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		pe := &domain.PersistenceError{Op: "save", Err: err}
		s.logger.Error("state write failed", "generation", gen, "err", pe)
		if !s.closed {
			s.scheduleLocked()
		}
		return pe
	}
	if gen > s.written {
		s.written = gen
	}
	s.logger.Debug("state written", "generation", gen)
	return nil
}

// PutInstance inserts or replaces an instance. A non-empty InteractionID also
// makes it a member of that interaction.
func (s *Store) PutInstance(ctx context.Context, inst domain.InstanceSummary) error {
	return s.Update(ctx, func(st *domain.AppState) error {
		if prev, ok := st.Instances[inst.ID]; ok && prev.InteractionID != inst.InteractionID {
			return domain.NewValidationError("instance", inst.ID, "cannot move between interactions")
		}
		st.Instances[inst.ID] = inst.Clone()
		if inst.InteractionID != "" {
			ia, ok := st.Interactions[inst.InteractionID]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrInteractionNotFound, inst.InteractionID)
			}
			if !ia.HasInstance(inst.ID) {
				ia.InstanceIDs = append(ia.InstanceIDs, inst.ID)
				st.Interactions[ia.ID] = ia
			}
		}
		return nil
	})
}

// DeleteInstance removes an instance together with every route touching it.
// It returns the ids of the removed routes.
func (s *Store) DeleteInstance(ctx context.Context, id string) ([]string, error) {
	var removed []string
	err := s.Update(ctx, func(st *domain.AppState) error {
		inst, ok := st.Instances[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
		removed = removed[:0]
		for _, rid := range sortedKeys(st.Routes) {
			r := st.Routes[rid]
			if r.SourceInstanceID == id || r.TargetInstanceID == id {
				deleteRoute(st, r)
				removed = append(removed, rid)
			}
		}
		delete(st.Instances, id)
		if ia, ok := st.Interactions[inst.InteractionID]; ok {
			ia.InstanceIDs = remove(ia.InstanceIDs, id)
			st.Interactions[ia.ID] = ia
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// PutRoute inserts or replaces a route and records it in its interaction.
func (s *Store) PutRoute(ctx context.Context, r domain.Route) error {
	return s.Update(ctx, func(st *domain.AppState) error {
		if prev, ok := st.Routes[r.ID]; ok {
			deleteRoute(st, prev)
		}
		st.Routes[r.ID] = r.Clone()
		if r.InteractionID != "" {
			ia, ok := st.Interactions[r.InteractionID]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrInteractionNotFound, r.InteractionID)
			}
			ia.RouteIDs = append(ia.RouteIDs, r.ID)
			st.Interactions[ia.ID] = ia
		}
		return nil
	})
}

// DeleteRoute removes a route.
func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	return s.Update(ctx, func(st *domain.AppState) error {
		r, ok := st.Routes[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrRouteNotFound, id)
		}
		deleteRoute(st, r)
		return nil
	})
}

// PutInteraction inserts an interaction or updates its name and enabled flag.
// Membership is managed through instances and routes.
func (s *Store) PutInteraction(ctx context.Context, ia domain.Interaction) error {
	return s.Update(ctx, func(st *domain.AppState) error {
		if prev, ok := st.Interactions[ia.ID]; ok {
			prev.Name = ia.Name
			prev.Enabled = ia.Enabled
			st.Interactions[ia.ID] = prev
			return nil
		}
		st.Interactions[ia.ID] = domain.Interaction{ID: ia.ID, Name: ia.Name, Enabled: ia.Enabled}
		return nil
	})
}

// DeleteInteraction removes an interaction with all its instances and routes.
func (s *Store) DeleteInteraction(ctx context.Context, id string) error {
	return s.Update(ctx, func(st *domain.AppState) error {
		ia, ok := st.Interactions[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrInteractionNotFound, id)
		}
		for _, rid := range ia.RouteIDs {
			delete(st.Routes, rid)
		}
		for _, iid := range ia.InstanceIDs {
			delete(st.Instances, iid)
		}
		delete(st.Interactions, id)
		return nil
	})
}

// Replace swaps the whole state, keeping settings when next has none.
func (s *Store) Replace(ctx context.Context, next *domain.AppState) error {
	return s.Update(ctx, func(st *domain.AppState) error {
		repl := next.Clone()
		repl.Normalize()
		if len(repl.Settings) == 0 {
			repl.Settings = st.Settings
		}
		*st = *repl
		return nil
	})
}

// Settings returns a copy of the free-form settings.
func (s *Store) Settings() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ClonePayload(s.state.Settings)
}

// UpdateSettings merges partial into the settings. A nil value deletes a key.
func (s *Store) UpdateSettings(ctx context.Context, partial map[string]any) error {
	return s.Update(ctx, func(st *domain.AppState) error {
		st.Settings = map[string]any(domain.ModuleConfig(st.Settings).Merge(partial))
		return nil
	})
}

func deleteRoute(st *domain.AppState, r domain.Route) {
	delete(st.Routes, r.ID)
	if ia, ok := st.Interactions[r.InteractionID]; ok {
		ia.RouteIDs = remove(ia.RouteIDs, r.ID)
		st.Interactions[ia.ID] = ia
	}
}
