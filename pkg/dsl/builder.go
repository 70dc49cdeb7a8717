package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/interplay/pkg/domain"
)

// Builder manages the graph construction.
type Builder struct {
	interactions []*InteractionBuilder
	byID         map[string]*InteractionBuilder
}

// New creates a new graph builder.
func New() *Builder {
	return &Builder{byID: make(map[string]*InteractionBuilder)}
}

// Interaction starts a new interaction.
// If the interaction already exists, it returns the existing builder.
func (b *Builder) Interaction(id string) *InteractionBuilder {
	if ib, ok := b.byID[id]; ok {
		return ib
	}
	ib := &InteractionBuilder{
		spec:      domain.InteractionSpec{ID: id, Name: id},
		instances: make(map[string]*InstanceBuilder),
	}
	b.byID[id] = ib
	b.interactions = append(b.interactions, ib)
	return ib
}

// Build returns the interactions in declaration order. Structural mistakes
// (duplicate or dangling ids, missing types, bad conditions) are reported
// together. Types and configs are checked by the runtime when the graph is saved.
func (b *Builder) Build() ([]domain.InteractionSpec, error) {
	var errs []error
	owner := make(map[string]string)
	specs := make([]domain.InteractionSpec, 0, len(b.interactions))

	for _, ib := range b.interactions {
		spec, err := ib.build()
		if err != nil {
			errs = append(errs, err)
		}
		for _, inst := range spec.Instances {
			if prev, ok := owner[inst.ID]; ok && prev != spec.ID {
				errs = append(errs, fmt.Errorf("instance %q declared in %q and %q", inst.ID, prev, spec.ID))
			}
			owner[inst.ID] = spec.ID
		}
		specs = append(specs, spec)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}

// InteractionBuilder provides a fluent API for configuring an interaction.
type InteractionBuilder struct {
	spec      domain.InteractionSpec
	order     []*InstanceBuilder
	instances map[string]*InstanceBuilder
	routes    []*RouteBuilder
}

// Name sets the display name. It defaults to the id.
func (ib *InteractionBuilder) Name(name string) *InteractionBuilder {
	ib.spec.Name = name
	return ib
}

// Enabled marks the interaction so its instances start when saved.
func (ib *InteractionBuilder) Enabled() *InteractionBuilder {
	ib.spec.Enabled = true
	return ib
}

// Disabled keeps the instances of the interaction stopped.
func (ib *InteractionBuilder) Disabled() *InteractionBuilder {
	ib.spec.Enabled = false
	return ib
}

// Add declares an instance of typeName.
// If the instance already exists, it returns the existing builder.
func (ib *InteractionBuilder) Add(id, typeName string) *InstanceBuilder {
	if inst, ok := ib.instances[id]; ok {
		return inst
	}
	inst := &InstanceBuilder{spec: domain.InstanceSpec{ID: id, TypeName: typeName}}
	ib.instances[id] = inst
	ib.order = append(ib.order, inst)
	return inst
}

// Route starts a route from the event of a source instance.
func (ib *InteractionBuilder) Route(source, event string) *RouteBuilder {
	rb := &RouteBuilder{route: domain.Route{
		InteractionID:    ib.spec.ID,
		SourceInstanceID: source,
		SourceEvent:      event,
	}}
	ib.routes = append(ib.routes, rb)
	return rb
}

func (ib *InteractionBuilder) build() (domain.InteractionSpec, error) {
	var errs []error
	spec := ib.spec
	if spec.ID == "" {
		errs = append(errs, errors.New("interaction id is required"))
	}

	spec.Instances = make([]domain.InstanceSpec, 0, len(ib.order))
	for _, inst := range ib.order {
		if inst.spec.ID == "" {
			errs = append(errs, errors.New("instance id is required"))
		}
		if inst.spec.TypeName == "" {
			errs = append(errs, fmt.Errorf("instance %q: type is required", inst.spec.ID))
		}
		spec.Instances = append(spec.Instances, inst.Build())
	}

	spec.Routes = make([]domain.Route, 0, len(ib.routes))
	for i, rb := range ib.routes {
		r := rb.Build()
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-r%d", spec.ID, i+1)
		}
		if _, ok := ib.instances[r.SourceInstanceID]; !ok {
			errs = append(errs, fmt.Errorf("route %s: unknown source %q", r.ID, r.SourceInstanceID))
		}
		if r.TargetInstanceID == "" {
			errs = append(errs, fmt.Errorf("route %s: target is required", r.ID))
		} else if _, ok := ib.instances[r.TargetInstanceID]; !ok {
			errs = append(errs, fmt.Errorf("route %s: unknown target %q", r.ID, r.TargetInstanceID))
		}
		if r.Condition != nil {
			if err := r.Condition.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("route %s: %w", r.ID, err))
			}
		}
		spec.Routes = append(spec.Routes, r)
	}

	if len(errs) > 0 {
		return spec, fmt.Errorf("interaction %q: %w", spec.ID, errors.Join(errs...))
	}
	return spec, nil
}
