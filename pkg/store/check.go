package store

import (
	"fmt"
	"sort"

	"github.com/aretw0/interplay/pkg/domain"
)

// Check verifies the structural invariants of a state: ids match their keys,
// route endpoints exist and share the route's interaction, and interaction
// membership agrees with the interactionId of its members. It reports the
// first violation found, in id order.
func Check(s *domain.AppState) error {
	for _, id := range sortedKeys(s.Instances) {
		inst := s.Instances[id]
		if inst.ID != id {
			return domain.NewValidationError("instance", id, "stored under a different id %q", inst.ID)
		}
		if inst.TypeName == "" {
			return domain.NewValidationError("instance", id, "typeName is required")
		}
		if inst.InteractionID != "" {
			ia, ok := s.Interactions[inst.InteractionID]
			if !ok {
				return domain.NewValidationError("instance", id, "interaction %q does not exist", inst.InteractionID)
			}
			if !ia.HasInstance(id) {
				return domain.NewValidationError("instance", id, "not listed as a member of interaction %q", ia.ID)
			}
		}
	}

	for _, id := range sortedKeys(s.Routes) {
		if err := checkRoute(s, id, s.Routes[id]); err != nil {
			return err
		}
	}

	for _, id := range sortedKeys(s.Interactions) {
		ia := s.Interactions[id]
		if ia.ID != id {
			return domain.NewValidationError("interaction", id, "stored under a different id %q", ia.ID)
		}
		for _, member := range ia.InstanceIDs {
			inst, ok := s.Instances[member]
			if !ok {
				return domain.NewValidationError("interaction", id, "member instance %q does not exist", member)
			}
			if inst.InteractionID != id {
				return domain.NewValidationError("interaction", id, "member instance %q belongs to %q", member, inst.InteractionID)
			}
		}
		for _, rid := range ia.RouteIDs {
			r, ok := s.Routes[rid]
			if !ok {
				return domain.NewValidationError("interaction", id, "route %q does not exist", rid)
			}
			if r.InteractionID != id {
				return domain.NewValidationError("interaction", id, "route %q belongs to %q", rid, r.InteractionID)
			}
		}
	}
	return nil
}

func checkRoute(s *domain.AppState, id string, r domain.Route) error {
	if r.ID != id {
		return domain.NewValidationError("route", id, "stored under a different id %q", r.ID)
	}
	if r.SourceEvent == "" {
		return domain.NewValidationError("route", id, "sourceEvent is required")
	}
	src, ok := s.Instances[r.SourceInstanceID]
	if !ok {
		return &domain.ValidationError{
			Subject: "route",
			ID:      id,
			Reason:  "source does not exist",
			Fields:  []error{fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, r.SourceInstanceID)},
		}
	}
	dst, ok := s.Instances[r.TargetInstanceID]
	if !ok {
		return &domain.ValidationError{
			Subject: "route",
			ID:      id,
			Reason:  "target does not exist",
			Fields:  []error{fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, r.TargetInstanceID)},
		}
	}
	if src.InteractionID != r.InteractionID || dst.InteractionID != r.InteractionID {
		return domain.NewValidationError("route", id,
			"endpoints must belong to the route's interaction %q (source in %q, target in %q)",
			r.InteractionID, src.InteractionID, dst.InteractionID)
	}
	if r.InteractionID != "" {
		ia, ok := s.Interactions[r.InteractionID]
		if !ok {
			return domain.NewValidationError("route", id, "interaction %q does not exist", r.InteractionID)
		}
		if !contains(ia.RouteIDs, id) {
			return domain.NewValidationError("route", id, "not listed in interaction %q", ia.ID)
		}
	}
	if r.Condition != nil {
		if err := r.Condition.Validate(); err != nil {
			return &domain.ValidationError{Subject: "route", ID: id, Reason: "condition", Fields: []error{err}}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
