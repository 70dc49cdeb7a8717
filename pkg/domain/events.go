package domain

import "time"

// InstanceState is the lifecycle state of a module instance.
type InstanceState string

const (
	StateCreated      InstanceState = "created"
	StateInitializing InstanceState = "initializing"
	StateIdle         InstanceState = "idle"
	StateRunning      InstanceState = "running"
	StateStopping     InstanceState = "stopping"
	StateFailed       InstanceState = "failed"
	StateDestroyed    InstanceState = "destroyed"
)

// Terminal reports whether no further transition is possible from s.
func (s InstanceState) Terminal() bool {
	return s == StateFailed || s == StateDestroyed
}

// Status is the coarse lifecycle status published to subscribers.
type Status string

const (
	StatusListening Status = "listening"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
	StatusDestroyed Status = "destroyed"
)

// Reserved event names published by the runtime itself.
const (
	EventStatus       = "status"
	EventRouteError   = "route_error"
	EventModuleReload = "module_reload"
)

// Event is one emission flowing from an instance to the router and to subscribers.
type Event struct {
	Source string    `json:"source"`
	Name   string    `json:"name"`
	Kind   EventKind `json:"kind"`
	// Seq increases monotonically per (Source, Name).
	Seq     uint64         `json:"seq"`
	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time"`
}

// NewStatusEvent builds the event published on every lifecycle transition.
func NewStatusEvent(instanceID string, state InstanceState, status Status, err error) Event {
	payload := map[string]any{
		"instanceId": instanceID,
		"state":      string(state),
		"status":     string(status),
	}
	if err != nil {
		payload["err"] = err.Error()
	}
	return Event{
		Source:  instanceID,
		Name:    EventStatus,
		Kind:    KindTrigger,
		Payload: payload,
		Time:    time.Now(),
	}
}

// NewRouteErrorEvent builds the event published when a delivery fails.
func NewRouteErrorEvent(err *RoutingError) Event {
	return Event{
		Source: err.SourceID,
		Name:   EventRouteError,
		Kind:   KindTrigger,
		Payload: map[string]any{
			"routeId":  err.RouteID,
			"sourceId": err.SourceID,
			"targetId": err.TargetID,
			"err":      err.Error(),
		},
		Time: time.Now(),
	}
}
