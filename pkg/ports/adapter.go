package ports

import (
	"context"

	"github.com/aretw0/interplay/pkg/domain"
)

// Emitter publishes output events on behalf of a running adapter.
// Emit fails for events the manifest does not declare as outputs.
type Emitter interface {
	Emit(event string, payload map[string]any) error
}

// RuntimeReporter is implemented by emitters that accept free-form runtime
// metadata (counters, last values). Reports are persisted with a debounce.
type RuntimeReporter interface {
	ReportRuntime(meta map[string]any)
}

// Adapter is the behaviour behind a module type. One Adapter value backs exactly
// one instance; the instance serializes lifecycle calls, but Handle may run
// concurrently with the adapter's own goroutines.
type Adapter interface {
	// Configure validates and applies cfg. It must be atomic: on error the
	// previously applied config stays in effect.
	Configure(cfg domain.ModuleConfig) error

	// Start acquires external resources. ctx stays valid until Stop is called,
	// so background work may be bound to it.
	Start(ctx context.Context, emit Emitter) error

	// Stop releases everything acquired by Start. It must leave the adapter
	// ready for another Start.
	Stop(ctx context.Context) error

	// Handle processes one input event while running.
	Handle(ctx context.Context, input string, ev domain.Event) error
}

// Reconfigurer is implemented by adapters that can apply some config changes live.
type Reconfigurer interface {
	// Reconfigure receives the current and the new (already schema-valid) config.
	// It returns restart=true when the change needs a stop/configure/start cycle.
	// When restart is false and err is nil the new config is already applied.
	Reconfigure(old, new domain.ModuleConfig) (restart bool, err error)
}

// AdapterFunc constructs a fresh adapter.
type AdapterFunc func() Adapter
