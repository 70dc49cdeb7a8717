package interplay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/instance"
	"github.com/aretw0/interplay/pkg/registry"
	"github.com/aretw0/interplay/pkg/schema"
	"github.com/aretw0/interplay/pkg/store"
	"github.com/google/uuid"
)

// ListInteractions returns every interaction, sorted by id.
func (o *Orchestrator) ListInteractions(ctx context.Context) []domain.Interaction {
	snap := o.store.Snapshot()
	out := make([]domain.Interaction, 0, len(snap.Interactions))
	for _, ia := range snap.Interactions {
		out = append(out, ia)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateInteraction adds an empty interaction.
func (o *Orchestrator) CreateInteraction(ctx context.Context, name string, enabled bool) (string, error) {
	o.graph.Lock()
	defer o.graph.Unlock()
	if err := o.checkOpen(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := o.store.PutInteraction(ctx, domain.Interaction{ID: id, Name: name, Enabled: enabled}); err != nil {
		return "", err
	}
	return id, nil
}

// EnableInteraction starts or stops every member of an interaction.
func (o *Orchestrator) EnableInteraction(ctx context.Context, id string, enabled bool) error {
	o.graph.Lock()
	defer o.graph.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	ia, ok := o.store.Interaction(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInteractionNotFound, id)
	}
	ia.Enabled = enabled
	if err := o.store.PutInteraction(ctx, ia); err != nil {
		return err
	}
	return o.applyEnabled(ctx, ia)
}

// DeleteInteraction destroys an interaction with all its instances and routes.
func (o *Orchestrator) DeleteInteraction(ctx context.Context, id string) error {
	o.graph.Lock()
	defer o.graph.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	ia, ok := o.store.Interaction(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInteractionNotFound, id)
	}
	if err := o.store.DeleteInteraction(ctx, id); err != nil {
		return err
	}
	o.syncRoutes()

	var errs []error
	for _, member := range ia.InstanceIDs {
		if err := o.destroyLive(ctx, member, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveInteractions replaces every interaction, with their instances and
// routes, by specs. Standalone instances and routes are left alone.
//
// The whole graph is validated first: an unknown type, a config rejected by
// a schema or an adapter, or a route that does not fit its endpoints returns a
// *domain.ValidationError with nothing changed. Then only the difference is
// applied: instances that keep their id and type are updated in place and
// keep running.
func (o *Orchestrator) SaveInteractions(ctx context.Context, specs []domain.InteractionSpec) error {
	o.graph.Lock()
	defer o.graph.Unlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	cur := o.store.Snapshot()
	p, err := o.plan(cur, specs)
	if err != nil {
		return err
	}

	for _, id := range p.changed {
		if err := instance.CheckConfig(id, p.factories[id], p.next.Instances[id].Config); err != nil {
			return err
		}
	}

	created := make(map[string]*instance.Instance, len(p.added))
	discard := func() {
		for _, inst := range created {
			_ = inst.Destroy(ctx)
		}
	}
	for _, id := range p.added {
		sum := p.next.Instances[id]
		inst := instance.New(id, p.factories[id], sum.Config, o.instanceOptions(sum.InteractionID,
			instance.WithCreatedAt(sum.CreatedAt),
		)...)
		created[id] = inst
		if err := inst.Init(ctx); err != nil {
			discard()
			return err
		}
	}

	if err := o.store.Replace(ctx, p.next); err != nil {
		discard()
		return err
	}

	var errs []error
	for _, id := range p.removed {
		if err := o.destroyLive(ctx, id, nil); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range p.added {
		inst := created[id]
		o.router.Attach(inst)
		o.mu.Lock()
		o.instances[id] = inst
		o.mu.Unlock()
	}
	for _, id := range p.changed {
		inst, ok := o.live(id)
		if !ok {
			continue
		}
		if err := inst.UpdateConfig(ctx, p.next.Instances[id].Config); err != nil {
			o.cfg.logger.Warn("config not applied", "instance_id", id, "err", err)
			errs = append(errs, err)
		}
		if err := o.store.PutInstance(ctx, inst.Summary()); err != nil {
			errs = append(errs, err)
		}
	}
	o.syncRoutes()

	for _, ia := range p.next.Interactions {
		if err := o.applyEnabled(ctx, ia); err != nil {
			errs = append(errs, err)
		}
	}

	o.cfg.logger.Info("interactions saved",
		"interactions", len(p.next.Interactions),
		"added", len(p.added),
		"removed", len(p.removed),
		"changed", len(p.changed),
	)
	return errors.Join(errs...)
}

// applyEnabled brings the members of ia to the state the interaction asks for.
// Failed members are left as they are.
func (o *Orchestrator) applyEnabled(ctx context.Context, ia domain.Interaction) error {
	var errs []error
	for _, id := range ia.InstanceIDs {
		inst, ok := o.live(id)
		if !ok {
			continue
		}
		switch st := inst.State(); {
		case ia.Enabled && st == domain.StateIdle:
			if err := inst.Start(ctx); err != nil {
				errs = append(errs, err)
			}
		case !ia.Enabled && st == domain.StateRunning:
			if err := inst.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// graphPlan is the validated outcome of a full-graph replace.
type graphPlan struct {
	next      *domain.AppState
	factories map[string]*registry.Factory
	added     []string
	removed   []string
	changed   []string
}

// plan builds the state specs describe and works out which live instances
// must be created, destroyed or reconfigured to reach it.
func (o *Orchestrator) plan(cur *domain.AppState, specs []domain.InteractionSpec) (*graphPlan, error) {
	next := cur.Clone()
	next.Interactions = make(map[string]domain.Interaction, len(specs))
	for id, inst := range next.Instances {
		if !inst.Standalone() {
			delete(next.Instances, id)
		}
	}
	for id, r := range next.Routes {
		if r.InteractionID != "" {
			delete(next.Routes, id)
		}
	}

	p := &graphPlan{next: next, factories: make(map[string]*registry.Factory)}
	now := time.Now().UTC()

	for _, spec := range specs {
		ia := domain.Interaction{ID: spec.ID, Name: spec.Name, Enabled: spec.Enabled}
		if ia.ID == "" {
			ia.ID = uuid.NewString()
		}
		if _, dup := next.Interactions[ia.ID]; dup {
			return nil, domain.NewValidationError("interaction", ia.ID, "listed twice")
		}

		for _, is := range spec.Instances {
			sum, err := o.planInstance(cur, p, ia.ID, is, now)
			if err != nil {
				return nil, err
			}
			next.Instances[sum.ID] = sum
			ia.InstanceIDs = append(ia.InstanceIDs, sum.ID)
		}

		for _, r := range spec.Routes {
			r = r.Clone()
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if _, dup := next.Routes[r.ID]; dup {
				return nil, domain.NewValidationError("route", r.ID, "listed twice")
			}
			r.InteractionID = ia.ID
			src, ok := p.factories[r.SourceInstanceID]
			if !ok || !ia.HasInstance(r.SourceInstanceID) {
				return nil, missingEndpoint(r.ID, "source", r.SourceInstanceID)
			}
			dst, ok := p.factories[r.TargetInstanceID]
			if !ok || !ia.HasInstance(r.TargetInstanceID) {
				return nil, missingEndpoint(r.ID, "target", r.TargetInstanceID)
			}
			if err := checkEndpoints(&r, src.Manifest, dst.Manifest); err != nil {
				return nil, err
			}
			next.Routes[r.ID] = r
			ia.RouteIDs = append(ia.RouteIDs, r.ID)
		}
		next.Interactions[ia.ID] = ia
	}

	if err := store.Check(next); err != nil {
		return nil, err
	}

	for id, prev := range cur.Instances {
		if prev.Standalone() {
			continue
		}
		want, ok := next.Instances[id]
		switch {
		case !ok:
			p.removed = append(p.removed, id)
		case replaced(prev, want):
			p.removed = append(p.removed, id)
			p.added = append(p.added, id)
		case domain.DiffConfig(prev.Config, want.Config) != nil:
			p.changed = append(p.changed, id)
		}
	}
	for id, sum := range next.Instances {
		if _, ok := cur.Instances[id]; !ok && !sum.Standalone() {
			p.added = append(p.added, id)
		}
	}
	sort.Strings(p.added)
	sort.Strings(p.removed)
	sort.Strings(p.changed)
	return p, nil
}

func (o *Orchestrator) planInstance(cur *domain.AppState, p *graphPlan, interactionID string, is domain.InstanceSpec, now time.Time) (domain.InstanceSummary, error) {
	id := is.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, dup := p.factories[id]; dup {
		return domain.InstanceSummary{}, domain.NewValidationError("instance", id, "listed twice")
	}
	prev, existed := cur.Instances[id]
	if existed && prev.Standalone() {
		return domain.InstanceSummary{}, domain.NewValidationError("instance", id, "is a standalone instance")
	}

	f, err := o.registry.Get(is.TypeName)
	if err != nil {
		return domain.InstanceSummary{}, &domain.ValidationError{Subject: "instance", ID: id, Reason: "unknown module type", Fields: []error{err}}
	}
	cfg, err := f.Schema.Apply(is.Config)
	if err != nil {
		fields := schema.ValidationErrors(err)
		if fields == nil {
			fields = []error{err}
		}
		return domain.InstanceSummary{}, &domain.ValidationError{Subject: "config", ID: id, Fields: fields}
	}

	sum := domain.InstanceSummary{
		ID:            id,
		TypeName:      is.TypeName,
		Version:       f.Manifest.Version,
		InteractionID: interactionID,
		Config:        cfg,
		CreatedAt:     now,
	}
	if existed && !replaced(prev, sum) {
		sum.Version = prev.Version
		sum.CreatedAt = prev.CreatedAt
		sum.Runtime = prev.Runtime
		if inst, ok := o.live(id); ok {
			f = inst.Factory()
		}
	}
	p.factories[id] = f
	return sum, nil
}

// replaced reports whether moving from prev to next needs a new instance.
func replaced(prev, next domain.InstanceSummary) bool {
	return prev.TypeName != next.TypeName || prev.InteractionID != next.InteractionID
}
