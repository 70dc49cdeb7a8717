package dsl

import "github.com/aretw0/interplay/pkg/domain"

// InstanceBuilder provides a fluent API for configuring an instance.
type InstanceBuilder struct {
	spec domain.InstanceSpec
}

// Set adds a config value. Unset fields take their schema default.
func (b *InstanceBuilder) Set(key string, value any) *InstanceBuilder {
	if b.spec.Config == nil {
		b.spec.Config = make(domain.ModuleConfig)
	}
	b.spec.Config[key] = value
	return b
}

// Config replaces the whole config.
func (b *InstanceBuilder) Config(cfg domain.ModuleConfig) *InstanceBuilder {
	b.spec.Config = cfg.Clone()
	return b
}

// Build returns the underlying domain.InstanceSpec.
func (b *InstanceBuilder) Build() domain.InstanceSpec {
	out := b.spec
	out.Config = b.spec.Config.Clone()
	return out
}
