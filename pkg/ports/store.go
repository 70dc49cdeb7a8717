package ports

import (
	"context"

	"github.com/aretw0/interplay/pkg/domain"
)

// StateBackend defines the interface for persisting the application state.
// A backend stores exactly one AppState document.
type StateBackend interface {
	// Load retrieves the persisted state.
	// Returns domain.ErrStateNotFound if nothing was ever saved and
	// domain.ErrStateCorrupt if the stored document cannot be decoded.
	Load(ctx context.Context) (*domain.AppState, error)

	// Save replaces the persisted state. It must be atomic: a reader never
	// observes a partially written document.
	Save(ctx context.Context, state *domain.AppState) error

	// Quarantine moves the current document aside so a fresh one can be written,
	// returning where it went (file path, key or table name).
	Quarantine(ctx context.Context) (string, error)

	// Delete removes the persisted state. Deleting a missing state is not an error.
	Delete(ctx context.Context) error
}

// EventPublisher receives every status and output event for fan-out.
type EventPublisher interface {
	Publish(ev domain.Event)
}

// ReloadEvent reports the outcome of one manifest reload.
type ReloadEvent struct {
	TypeName string
	Path     string
	Err      error
}

// Watchable defines an interface for sources that can notify about manifest changes.
// This is typically used for hot-reload during development.
type Watchable interface {
	// Watch returns a channel that receives the outcome of every reload the
	// source performed. The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan ReloadEvent, error)
}

// Exclusive is implemented by backends that can make sure a single process
// owns the persisted state. The store acquires ownership when it opens the
// backend and releases it on close.
type Exclusive interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}
