package domain

import (
	"encoding/json"
	"time"
)

// StateVersion is the schema version written into persisted AppState files.
const StateVersion = 1

// ModuleConfig is an arbitrary key/value map validated against a manifest's ConfigSchema.
type ModuleConfig map[string]any

// Clone returns a deep copy of the config.
func (c ModuleConfig) Clone() ModuleConfig {
	if c == nil {
		return nil
	}
	return ModuleConfig(cloneMap(c))
}

// Merge returns a copy of c with partial applied on top.
// A nil value in partial deletes the key.
func (c ModuleConfig) Merge(partial ModuleConfig) ModuleConfig {
	out := c.Clone()
	if out == nil {
		out = ModuleConfig{}
	}
	for k, v := range partial {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// InstanceSummary is the persisted view of a module instance.
type InstanceSummary struct {
	ID       string `json:"id"`
	TypeName string `json:"typeName"`
	// Version is the manifest version the instance was created with.
	Version       string         `json:"version,omitempty"`
	InteractionID string         `json:"interactionId,omitempty"`
	Config        ModuleConfig   `json:"config"`
	Runtime       map[string]any `json:"runtime,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Standalone reports whether the instance is not attached to an interaction.
func (s InstanceSummary) Standalone() bool {
	return s.InteractionID == ""
}

// Clone returns a deep copy of the summary.
func (s InstanceSummary) Clone() InstanceSummary {
	out := s
	out.Config = s.Config.Clone()
	if s.Runtime != nil {
		out.Runtime = cloneMap(s.Runtime)
	}
	return out
}

// Route is a directed edge from an instance's output event to another instance's input.
type Route struct {
	ID               string     `json:"id"`
	InteractionID    string     `json:"interactionId,omitempty"`
	SourceInstanceID string     `json:"sourceInstanceId"`
	SourceEvent      string     `json:"sourceEvent"`
	TargetInstanceID string     `json:"targetInstanceId"`
	TargetInput      string     `json:"targetInput,omitempty"`
	Condition        *Condition `json:"condition,omitempty"`
	Transform        *Transform `json:"transform,omitempty"`
}

// Clone returns a deep copy of the route.
func (r Route) Clone() Route {
	out := r
	if r.Condition != nil {
		c := *r.Condition
		c.Value = cloneValue(c.Value)
		out.Condition = &c
	}
	if r.Transform != nil {
		t := r.Transform.clone()
		out.Transform = &t
	}
	return out
}

// Interaction is a saved graph of instances and routes, the unit of save/restore.
type Interaction struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	InstanceIDs []string `json:"instanceIds"`
	RouteIDs    []string `json:"routeIds"`
}

// Clone returns a deep copy of the interaction.
func (i Interaction) Clone() Interaction {
	out := i
	out.InstanceIDs = append([]string(nil), i.InstanceIDs...)
	out.RouteIDs = append([]string(nil), i.RouteIDs...)
	return out
}

// HasInstance reports whether id is a member of the interaction.
func (i Interaction) HasInstance(id string) bool {
	for _, m := range i.InstanceIDs {
		if m == id {
			return true
		}
	}
	return false
}

// AppState is the single mutable root persisted by the state store.
type AppState struct {
	Version      int                        `json:"version"`
	Interactions map[string]Interaction     `json:"interactions"`
	Instances    map[string]InstanceSummary `json:"instances"`
	Routes       map[string]Route           `json:"routes"`
	Settings     map[string]any             `json:"settings"`
}

// NewAppState creates an empty state.
func NewAppState() *AppState {
	return &AppState{
		Version:      StateVersion,
		Interactions: make(map[string]Interaction),
		Instances:    make(map[string]InstanceSummary),
		Routes:       make(map[string]Route),
		Settings:     make(map[string]any),
	}
}

// Normalize fills nil maps so a decoded state is always safe to mutate.
func (s *AppState) Normalize() {
	if s.Version == 0 {
		s.Version = StateVersion
	}
	if s.Interactions == nil {
		s.Interactions = make(map[string]Interaction)
	}
	if s.Instances == nil {
		s.Instances = make(map[string]InstanceSummary)
	}
	if s.Routes == nil {
		s.Routes = make(map[string]Route)
	}
	if s.Settings == nil {
		s.Settings = make(map[string]any)
	}
}

// Clone returns a deep copy of the state.
func (s *AppState) Clone() *AppState {
	if s == nil {
		return nil
	}
	out := &AppState{
		Version:      s.Version,
		Interactions: make(map[string]Interaction, len(s.Interactions)),
		Instances:    make(map[string]InstanceSummary, len(s.Instances)),
		Routes:       make(map[string]Route, len(s.Routes)),
		Settings:     cloneMap(s.Settings),
	}
	if out.Settings == nil {
		out.Settings = make(map[string]any)
	}
	for k, v := range s.Interactions {
		out.Interactions[k] = v.Clone()
	}
	for k, v := range s.Instances {
		out.Instances[k] = v.Clone()
	}
	for k, v := range s.Routes {
		out.Routes[k] = v.Clone()
	}
	return out
}

// InstanceSpec describes one instance inside an InteractionSpec.
type InstanceSpec struct {
	ID       string       `json:"id,omitempty"`
	TypeName string       `json:"typeName"`
	Config   ModuleConfig `json:"config"`
}

// InteractionSpec is the full description of one interaction, as sent by the
// editor when it replaces the whole graph.
type InteractionSpec struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Enabled   bool           `json:"enabled"`
	Instances []InstanceSpec `json:"instances"`
	Routes    []Route        `json:"routes"`
}

// MarshalState encodes the state as indented JSON.
func MarshalState(s *AppState) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalState decodes a persisted state. Numbers are kept as json.Number so that
// configs round-trip without float conversion.
func UnmarshalState(data []byte) (*AppState, error) {
	var s AppState
	if err := decodeJSON(data, &s); err != nil {
		return nil, err
	}
	s.Normalize()
	return &s, nil
}
