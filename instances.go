package interplay

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/instance"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/google/uuid"
)

// InstanceInfo is the persisted view of an instance plus its live state.
type InstanceInfo struct {
	domain.InstanceSummary
	State domain.InstanceState `json:"state"`
	Error string               `json:"error,omitempty"`
}

type instanceOptions struct {
	interactionID string
	stopped       bool
}

// InstanceOption configures CreateInstance.
type InstanceOption func(*instanceOptions)

// InInteraction makes the new instance a member of an existing interaction.
func InInteraction(id string) InstanceOption {
	return func(o *instanceOptions) { o.interactionID = id }
}

// Stopped leaves the new instance idle instead of starting it.
func Stopped() InstanceOption {
	return func(o *instanceOptions) { o.stopped = true }
}

func instanceKey(id string) string { return "instance:" + id }

// CreateInstance builds, configures and starts an instance of typeName.
//
// A config rejected by the module's schema or adapter returns a
// *domain.ValidationError and leaves nothing behind. A start failure returns
// the new id together with a *domain.ResourceError: the instance is kept in
// the failed state so the failure stays visible.
//
// Members of a disabled interaction are created idle.
func (o *Orchestrator) CreateInstance(ctx context.Context, typeName string, cfg domain.ModuleConfig, opts ...InstanceOption) (string, error) {
	var co instanceOptions
	for _, opt := range opts {
		opt(&co)
	}

	o.graph.RLock()
	defer o.graph.RUnlock()
	if err := o.checkOpen(); err != nil {
		return "", err
	}

	f, err := o.registry.Get(typeName)
	if err != nil {
		return "", &domain.ValidationError{Subject: "instance", Reason: "unknown module type", Fields: []error{err}}
	}
	if co.interactionID != "" {
		if _, ok := o.store.Interaction(co.interactionID); !ok {
			return "", fmt.Errorf("%w: %s", domain.ErrInteractionNotFound, co.interactionID)
		}
	}

	id := uuid.NewString()
	inst := instance.New(id, f, cfg, o.instanceOptions(co.interactionID)...)
	if err := inst.Init(ctx); err != nil {
		_ = inst.Destroy(ctx)
		return "", err
	}
	if err := o.store.PutInstance(ctx, inst.Summary()); err != nil {
		_ = inst.Destroy(ctx)
		return "", err
	}

	o.router.Attach(inst)
	o.mu.Lock()
	o.instances[id] = inst
	o.mu.Unlock()
	o.cfg.logger.Info("instance created", "instance_id", id, "type", typeName)

	if co.stopped || !o.interactionEnabled(co.interactionID) {
		return id, nil
	}
	if err := inst.Start(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// UpdateInstanceConfig merges partial over the instance's current config. A nil
// value deletes a key, so the schema default applies again. On any validation
// failure the previous config stays in effect, live and persisted.
func (o *Orchestrator) UpdateInstanceConfig(ctx context.Context, id string, partial domain.ModuleConfig) error {
	return o.withInstance(ctx, id, func(ctx context.Context, inst *instance.Instance) error {
		next := inst.Config().Merge(partial)
		err := inst.UpdateConfig(ctx, next)
		if err != nil && !domain.IsResource(err) {
			return err
		}
		// a failed restart still committed the new config
		if perr := o.store.PutInstance(ctx, inst.Summary()); perr != nil {
			return errors.Join(err, perr)
		}
		return err
	})
}

// StartInstance starts an idle instance. Starting a running one is a no-op.
func (o *Orchestrator) StartInstance(ctx context.Context, id string) error {
	return o.withInstance(ctx, id, func(ctx context.Context, inst *instance.Instance) error {
		return inst.Start(ctx)
	})
}

// StopInstance stops a running instance. Stopping an idle one is a no-op.
func (o *Orchestrator) StopInstance(ctx context.Context, id string) error {
	return o.withInstance(ctx, id, func(ctx context.Context, inst *instance.Instance) error {
		return inst.Stop(ctx)
	})
}

// DestroyInstance stops and removes an instance together with every route
// touching it.
func (o *Orchestrator) DestroyInstance(ctx context.Context, id string) error {
	o.graph.RLock()
	defer o.graph.RUnlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	return o.locks.WithLock(ctx, instanceKey(id), func(ctx context.Context) error {
		removed, err := o.store.DeleteInstance(ctx, id)
		if err != nil {
			return err
		}
		o.syncRoutes()
		return o.destroyLive(ctx, id, removed)
	})
}

// destroyLive tears down the live side of an instance already removed from the store.
func (o *Orchestrator) destroyLive(ctx context.Context, id string, routes []string) error {
	o.mu.Lock()
	inst, ok := o.instances[id]
	delete(o.instances, id)
	o.mu.Unlock()

	o.router.Detach(id)
	o.cfg.logger.Info("instance destroyed", "instance_id", id, "routes_removed", len(routes))
	if !ok {
		return nil
	}
	return inst.Destroy(ctx)
}

// Instance returns the persisted and live view of one instance.
func (o *Orchestrator) Instance(id string) (InstanceInfo, error) {
	sum, ok := o.store.Instance(id)
	if !ok {
		return InstanceInfo{}, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	return o.info(sum), nil
}

// ListInstances returns every instance, sorted by id.
func (o *Orchestrator) ListInstances() []InstanceInfo {
	snap := o.store.Snapshot()
	out := make([]InstanceInfo, 0, len(snap.Instances))
	for _, sum := range snap.Instances {
		out = append(out, o.info(sum))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Adapter returns the adapter behind a live instance.
func (o *Orchestrator) Adapter(id string) (ports.Adapter, error) {
	inst, ok := o.live(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	return inst.Adapter(), nil
}

func (o *Orchestrator) info(sum domain.InstanceSummary) InstanceInfo {
	inst, ok := o.live(sum.ID)
	if !ok {
		return InstanceInfo{
			InstanceSummary: sum,
			State:           domain.StateFailed,
			Error:           fmt.Sprintf("module type %q is not registered", sum.TypeName),
		}
	}
	info := InstanceInfo{InstanceSummary: sum, State: inst.State()}
	// the live config and version win over a write still in flight
	info.Config = inst.Config()
	info.Version = inst.Manifest().Version
	if err := inst.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// interactionEnabled is autostart against the live store.
func (o *Orchestrator) interactionEnabled(id string) bool {
	if id == "" {
		return true
	}
	ia, ok := o.store.Interaction(id)
	return ok && ia.Enabled
}

func (o *Orchestrator) withInstance(ctx context.Context, id string, fn func(context.Context, *instance.Instance) error) error {
	o.graph.RLock()
	defer o.graph.RUnlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	return o.locks.WithLock(ctx, instanceKey(id), func(ctx context.Context) error {
		inst, ok := o.live(id)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
		return fn(ctx, inst)
	})
}
