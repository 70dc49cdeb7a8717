package store

import (
	"testing"

	"github.com/aretw0/interplay/pkg/domain"
)

func validState() *domain.AppState {
	s := domain.NewAppState()
	s.Interactions["ia"] = domain.Interaction{ID: "ia", InstanceIDs: []string{"a", "b"}, RouteIDs: []string{"r"}}
	s.Instances["a"] = domain.InstanceSummary{ID: "a", TypeName: "clock-input", InteractionID: "ia"}
	s.Instances["b"] = domain.InstanceSummary{ID: "b", TypeName: "log-output", InteractionID: "ia"}
	s.Routes["r"] = domain.Route{ID: "r", InteractionID: "ia", SourceInstanceID: "a", SourceEvent: "trigger", TargetInstanceID: "b"}
	return s
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *domain.AppState)
		subject string
	}{
		{"valid", func(*domain.AppState) {}, ""},
		{"instance key mismatch", func(s *domain.AppState) {
			i := s.Instances["a"]
			i.ID = "z"
			s.Instances["a"] = i
		}, "instance"},
		{"instance without type", func(s *domain.AppState) {
			i := s.Instances["a"]
			i.TypeName = ""
			s.Instances["a"] = i
		}, "instance"},
		{"instance in unknown interaction", func(s *domain.AppState) {
			s.Instances["c"] = domain.InstanceSummary{ID: "c", TypeName: "x", InteractionID: "nope"}
		}, "instance"},
		{"instance not listed", func(s *domain.AppState) {
			s.Instances["c"] = domain.InstanceSummary{ID: "c", TypeName: "x", InteractionID: "ia"}
		}, "instance"},
		{"route without event", func(s *domain.AppState) {
			r := s.Routes["r"]
			r.SourceEvent = ""
			s.Routes["r"] = r
		}, "route"},
		{"route not listed", func(s *domain.AppState) {
			ia := s.Interactions["ia"]
			ia.RouteIDs = nil
			s.Interactions["ia"] = ia
		}, "route"},
		{"member missing", func(s *domain.AppState) {
			ia := s.Interactions["ia"]
			ia.InstanceIDs = append(ia.InstanceIDs, "ghost")
			s.Interactions["ia"] = ia
		}, "interaction"},
		{"listed route missing", func(s *domain.AppState) {
			ia := s.Interactions["ia"]
			ia.RouteIDs = append(ia.RouteIDs, "ghost")
			s.Interactions["ia"] = ia
		}, "interaction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validState()
			tt.mutate(s)
			err := Check(s)
			if tt.subject == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ve, ok := err.(*domain.ValidationError)
			if !ok {
				t.Fatalf("expected *domain.ValidationError, got %T (%v)", err, err)
			}
			if ve.Subject != tt.subject {
				t.Errorf("subject = %q, want %q (%v)", ve.Subject, tt.subject, err)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	in := []string{"a", "b", "a", "c"}
	out := remove(in, "a")
	if len(out) != 2 || out[0] != "b" || out[1] != "c" {
		t.Errorf("remove = %v", out)
	}
	if in[0] != "a" {
		t.Errorf("remove must not touch its input, got %v", in)
	}
}
