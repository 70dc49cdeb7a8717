package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/ports"
)

// RecordingEmitter is a ports.Emitter that keeps every emission in memory.
type RecordingEmitter struct {
	mu     sync.Mutex
	Events []domain.Event
}

// Emit records the event.
func (r *RecordingEmitter) Emit(event string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, domain.Event{Name: event, Payload: domain.ClonePayload(payload), Time: time.Now()})
	return nil
}

// Snapshot returns a copy of the recorded events.
func (r *RecordingEmitter) Snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.Events...)
}

// AdapterContractTest is a reusable test suite that verifies if an adapter complies
// with the lifecycle expectations of ports.Adapter. cfg must be schema-valid, with
// defaults already applied.
func AdapterContractTest(t *testing.T, newAdapter ports.AdapterFunc, cfg domain.ModuleConfig) {
	t.Helper()
	ctx := context.Background()

	// 1. Configure
	t.Run("Configure_Success", func(t *testing.T) {
		a := newAdapter()
		if err := a.Configure(cfg.Clone()); err != nil {
			t.Fatalf("unexpected error configuring adapter: %v", err)
		}
	})

	// 2. Start, stop and start again on the same value
	t.Run("Restart_Cycle", func(t *testing.T) {
		a := newAdapter()
		if err := a.Configure(cfg.Clone()); err != nil {
			t.Fatalf("configure: %v", err)
		}
		for i := 0; i < 2; i++ {
			runCtx, cancel := context.WithCancel(ctx)
			if err := a.Start(runCtx, &RecordingEmitter{}); err != nil {
				cancel()
				t.Fatalf("start #%d: %v", i+1, err)
			}
			if err := a.Stop(ctx); err != nil {
				cancel()
				t.Fatalf("stop #%d: %v", i+1, err)
			}
			cancel()
		}
	})

	// 3. Stop without Start
	t.Run("Stop_Without_Start", func(t *testing.T) {
		a := newAdapter()
		if err := a.Configure(cfg.Clone()); err != nil {
			t.Fatalf("configure: %v", err)
		}
		if err := a.Stop(ctx); err != nil {
			t.Errorf("expected Stop on a stopped adapter to be a no-op, got %v", err)
		}
	})
}
