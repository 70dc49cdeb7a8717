package instance

import (
	"fmt"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/observability"
)

// emitter is the ports.Emitter handed to a running adapter.
type emitter struct {
	inst *Instance
}

func (e *emitter) Emit(event string, payload map[string]any) error {
	i := e.inst
	decl, ok := i.factory.Manifest.Event(event, domain.DirectionOutput)
	if !ok {
		return fmt.Errorf("%s does not declare output %q", i.TypeName(), event)
	}
	if st := i.State(); st != domain.StateRunning {
		return fmt.Errorf("%w: emit %q in %s", domain.ErrNotRunning, event, st)
	}

	ev := domain.Event{
		Source:  i.id,
		Name:    event,
		Kind:    decl.EffectiveKind(),
		Seq:     i.nextSeq(event),
		Payload: domain.ClonePayload(payload),
		Time:    time.Now(),
	}
	if !i.outbox.Push(ev) {
		i.metrics.Dropped(observability.DropOutboxFull)
		i.logger.Warn("outbox full, dropping trigger event", "event", event, "seq", ev.Seq)
		return ErrOutboxFull
	}
	return nil
}

func (e *emitter) ReportRuntime(meta map[string]any) {
	e.inst.reportRuntime(meta)
}
