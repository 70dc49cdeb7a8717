package domain

// Direction tells whether a declared event flows into or out of a module.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// EventKind selects the delivery semantics of a declared event.
type EventKind string

const (
	// KindTrigger is a one-shot, fire-and-forget signal (at-most-once per emission).
	KindTrigger EventKind = "trigger"
	// KindStream is a continuously updating value where only the latest matters.
	KindStream EventKind = "stream"
)

// EventDecl declares one event a module type consumes or produces.
type EventDecl struct {
	Name      string    `json:"name" yaml:"name"`
	Direction Direction `json:"direction" yaml:"direction"`
	Kind      EventKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	// PayloadShape documents the payload fields (name -> type name). Informational only.
	PayloadShape map[string]string `json:"payloadShape,omitempty" yaml:"payloadShape,omitempty"`
}

// EffectiveKind returns the declared kind, defaulting to trigger.
func (e EventDecl) EffectiveKind() EventKind {
	if e.Kind == "" {
		return KindTrigger
	}
	return e.Kind
}

// Property describes one configuration key.
type Property struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ConfigSchema is the configuration contract declared by a manifest.
type ConfigSchema struct {
	Required   []string            `json:"required" yaml:"required"`
	Properties map[string]Property `json:"properties" yaml:"properties"`
}

// IsZero reports whether the schema declares nothing at all.
func (s ConfigSchema) IsZero() bool {
	return len(s.Required) == 0 && len(s.Properties) == 0
}

// Manifest is the static declaration of a module type.
// It is immutable once loaded.
type Manifest struct {
	TypeName    string `json:"typeName" yaml:"typeName"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Adapter names the compiled-in adapter the manifest binds to. Defaults to TypeName.
	Adapter      string       `json:"adapter,omitempty" yaml:"adapter,omitempty"`
	ConfigSchema ConfigSchema `json:"configSchema" yaml:"configSchema"`
	Events       []EventDecl  `json:"events" yaml:"events"`
}

// AdapterName returns the adapter constructor name for this manifest.
func (m Manifest) AdapterName() string {
	if m.Adapter != "" {
		return m.Adapter
	}
	return m.TypeName
}

// Event looks up a declared event by name and direction.
func (m Manifest) Event(name string, dir Direction) (EventDecl, bool) {
	for _, e := range m.Events {
		if e.Name == name && e.Direction == dir {
			return e, true
		}
	}
	return EventDecl{}, false
}

// Inputs returns the declared input events in declaration order.
func (m Manifest) Inputs() []EventDecl {
	return m.filter(DirectionInput)
}

// Outputs returns the declared output events in declaration order.
func (m Manifest) Outputs() []EventDecl {
	return m.filter(DirectionOutput)
}

func (m Manifest) filter(dir Direction) []EventDecl {
	var out []EventDecl
	for _, e := range m.Events {
		if e.Direction == dir {
			out = append(out, e)
		}
	}
	return out
}
