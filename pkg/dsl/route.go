package dsl

import "github.com/aretw0/interplay/pkg/domain"

// RouteBuilder provides a fluent API for configuring a route.
type RouteBuilder struct {
	route domain.Route
}

// ID fixes the route id. Routes without one get "<interaction>-r<n>".
func (r *RouteBuilder) ID(id string) *RouteBuilder {
	r.route.ID = id
	return r
}

// To sets the target instance and input. An empty input delivers to the input
// named like the source event.
func (r *RouteBuilder) To(target, input string) *RouteBuilder {
	r.route.TargetInstanceID = target
	r.route.TargetInput = input
	return r
}

// When gates delivery on a payload field.
func (r *RouteBuilder) When(field string, op domain.ConditionOp, value any) *RouteBuilder {
	r.route.Condition = &domain.Condition{Field: field, Op: op, Value: value}
	return r
}

// Pick keeps only the listed payload fields.
func (r *RouteBuilder) Pick(fields ...string) *RouteBuilder {
	t := r.transform()
	t.Pick = append(t.Pick, fields...)
	return r
}

// Rename moves a payload field before delivery.
func (r *RouteBuilder) Rename(from, to string) *RouteBuilder {
	t := r.transform()
	if t.Rename == nil {
		t.Rename = make(map[string]string)
	}
	t.Rename[from] = to
	return r
}

// SetField writes a constant into the delivered payload.
func (r *RouteBuilder) SetField(key string, value any) *RouteBuilder {
	t := r.transform()
	if t.Set == nil {
		t.Set = make(map[string]any)
	}
	t.Set[key] = value
	return r
}

func (r *RouteBuilder) transform() *domain.Transform {
	if r.route.Transform == nil {
		r.route.Transform = &domain.Transform{}
	}
	return r.route.Transform
}

// Build returns the underlying domain.Route.
func (r *RouteBuilder) Build() domain.Route {
	return r.route.Clone()
}
