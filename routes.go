package interplay

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/google/uuid"
)

type routeOptions struct {
	input     string
	condition *domain.Condition
	transform *domain.Transform
}

// RouteOption configures CreateRoute.
type RouteOption func(*routeOptions)

// ToInput delivers to the named input instead of the input named like the source event.
func ToInput(name string) RouteOption {
	return func(o *routeOptions) { o.input = name }
}

// When delivers only the events whose payload satisfies c.
func When(c domain.Condition) RouteOption {
	return func(o *routeOptions) { o.condition = &c }
}

// WithTransform reshapes the payload before delivery.
func WithTransform(t domain.Transform) RouteOption {
	return func(o *routeOptions) { o.transform = &t }
}

// CreateRoute connects sourceEvent of one instance to an input of another.
// Both endpoints must exist, declare the event and the input, and belong to
// the same interaction (or both be standalone); otherwise a
// *domain.ValidationError is returned and nothing is persisted.
func (o *Orchestrator) CreateRoute(ctx context.Context, sourceID, sourceEvent, targetID string, opts ...RouteOption) (string, error) {
	var ro routeOptions
	for _, opt := range opts {
		opt(&ro)
	}

	o.graph.RLock()
	defer o.graph.RUnlock()
	if err := o.checkOpen(); err != nil {
		return "", err
	}

	r := domain.Route{
		ID:               uuid.NewString(),
		SourceInstanceID: sourceID,
		SourceEvent:      sourceEvent,
		TargetInstanceID: targetID,
		TargetInput:      ro.input,
		Condition:        ro.condition,
		Transform:        ro.transform,
	}

	keys := []string{instanceKey(sourceID), instanceKey(targetID)}
	err := o.locks.WithLocks(ctx, keys, func(ctx context.Context) error {
		src, ok := o.live(sourceID)
		if !ok {
			return missingEndpoint(r.ID, "source", sourceID)
		}
		dst, ok := o.live(targetID)
		if !ok {
			return missingEndpoint(r.ID, "target", targetID)
		}
		if src.InteractionID() != dst.InteractionID() {
			return domain.NewValidationError("route", r.ID,
				"source belongs to %q but target belongs to %q", src.InteractionID(), dst.InteractionID())
		}
		if err := checkEndpoints(&r, src.Manifest(), dst.Manifest()); err != nil {
			return err
		}
		r.InteractionID = src.InteractionID()

		if err := o.store.PutRoute(ctx, r); err != nil {
			return err
		}
		o.syncRoutes()
		return nil
	})
	if err != nil {
		return "", err
	}
	o.cfg.logger.Info("route created", "route_id", r.ID, "source", sourceID, "event", sourceEvent, "target", targetID)
	return r.ID, nil
}

// RemoveRoute deletes a route. In-flight deliveries along it may still complete.
func (o *Orchestrator) RemoveRoute(ctx context.Context, routeID string) error {
	o.graph.RLock()
	defer o.graph.RUnlock()
	if err := o.checkOpen(); err != nil {
		return err
	}

	r, ok := o.store.Route(routeID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRouteNotFound, routeID)
	}
	keys := []string{instanceKey(r.SourceInstanceID), instanceKey(r.TargetInstanceID)}
	return o.locks.WithLocks(ctx, keys, func(ctx context.Context) error {
		if err := o.store.DeleteRoute(ctx, routeID); err != nil {
			return err
		}
		o.syncRoutes()
		o.cfg.logger.Info("route removed", "route_id", routeID)
		return nil
	})
}

// ListRoutes returns every route, sorted by id.
func (o *Orchestrator) ListRoutes() []domain.Route {
	snap := o.store.Snapshot()
	out := make([]domain.Route, 0, len(snap.Routes))
	for _, r := range snap.Routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func missingEndpoint(routeID, role, id string) error {
	return &domain.ValidationError{
		Subject: "route",
		ID:      routeID,
		Reason:  role + " does not exist",
		Fields:  []error{fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)},
	}
}

// checkEndpoints verifies that the route refers to a declared output of the
// source and a declared input of the target, and records that input on r.
// Without an explicit input, the input named like the event is used, then the
// only input of the target; a target with several inputs needs one named.
func checkEndpoints(r *domain.Route, src, dst domain.Manifest) error {
	if r.SourceInstanceID == r.TargetInstanceID {
		return domain.NewValidationError("route", r.ID, "source and target are the same instance")
	}
	if _, ok := src.Event(r.SourceEvent, domain.DirectionOutput); !ok {
		return domain.NewValidationError("route", r.ID, "%s does not declare output %q", src.TypeName, r.SourceEvent)
	}
	input, err := targetInput(r, dst)
	if err != nil {
		return err
	}
	r.TargetInput = input
	if r.Condition != nil {
		if err := r.Condition.Validate(); err != nil {
			return &domain.ValidationError{Subject: "route", ID: r.ID, Reason: "condition", Fields: []error{err}}
		}
	}
	return nil
}

func targetInput(r *domain.Route, dst domain.Manifest) (string, error) {
	if r.TargetInput != "" {
		if _, ok := dst.Event(r.TargetInput, domain.DirectionInput); !ok {
			return "", domain.NewValidationError("route", r.ID, "%s does not declare input %q", dst.TypeName, r.TargetInput)
		}
		return r.TargetInput, nil
	}
	if _, ok := dst.Event(r.SourceEvent, domain.DirectionInput); ok {
		return r.SourceEvent, nil
	}
	switch inputs := dst.Inputs(); len(inputs) {
	case 0:
		return "", domain.NewValidationError("route", r.ID, "%s declares no input", dst.TypeName)
	case 1:
		return inputs[0].Name, nil
	default:
		return "", domain.NewValidationError("route", r.ID, "%s declares several inputs, name one of %s", dst.TypeName, inputNames(inputs))
	}
}

func inputNames(evs []domain.EventDecl) string {
	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = strconv.Quote(ev.Name)
	}
	return strings.Join(names, ", ")
}
