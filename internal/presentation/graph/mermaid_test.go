package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/interplay/internal/presentation/graph"
	"github.com/aretw0/interplay/pkg/domain"
)

func sample() *domain.AppState {
	st := domain.NewAppState()
	st.Instances["clk-1"] = domain.InstanceSummary{ID: "clk-1", TypeName: "clock-input", InteractionID: "show"}
	st.Instances["log-1"] = domain.InstanceSummary{ID: "log-1", TypeName: "log-output", InteractionID: "show"}
	st.Instances["fc"] = domain.InstanceSummary{ID: "fc", TypeName: "frame-counter"}
	st.Interactions["show"] = domain.Interaction{
		ID: "show", Name: "Evening \"show\"", Enabled: true,
		InstanceIDs: []string{"clk-1", "log-1"}, RouteIDs: []string{"r1", "r2"},
	}
	st.Routes["r1"] = domain.Route{ID: "r1", InteractionID: "show", SourceInstanceID: "clk-1", SourceEvent: "trigger", TargetInstanceID: "log-1", TargetInput: "log"}
	st.Routes["r2"] = domain.Route{
		ID: "r2", InteractionID: "show", SourceInstanceID: "clk-1", SourceEvent: "time", TargetInstanceID: "log-1", TargetInput: "log",
		Condition: &domain.Condition{Field: "now", Op: domain.OpExists},
	}
	return st
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		overlay  *graph.GraphOverlay
		contains []string
		absent   []string
	}{
		{
			name: "Interaction Subgraph",
			contains: []string{
				"subgraph n_show[\"Evening 'show'\"]",
				"        n_clk_1[\"clock-input<br/>clk-1\"]",
				"    end\n",
			},
		},
		{
			name:     "Standalone Outside Subgraphs",
			contains: []string{"end\n    n_fc[\"frame-counter<br/>fc\"]"},
		},
		{
			name: "Routes",
			contains: []string{
				"n_clk_1 -- \"trigger → log\" --> n_log_1",
				"n_clk_1 -. \"time → log<br/>now exists <nil>\" .-> n_log_1",
			},
		},
		{
			name:   "No Overlay",
			absent: []string{"classDef"},
		},
		{
			name: "State Overlay",
			overlay: &graph.GraphOverlay{States: map[string]domain.InstanceState{
				"clk-1": domain.StateRunning,
				"log-1": domain.StateFailed,
				"fc":    domain.StateDestroyed,
			}},
			contains: []string{
				"class n_clk_1 running;",
				"class n_log_1 failed;",
			},
			absent: []string{"class n_fc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(sample(), tt.overlay)
			if !strings.HasPrefix(got, "graph LR\n") {
				t.Errorf("missing header:\n%s", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected %q in:\n%s", want, got)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(got, unwanted) {
					t.Errorf("did not expect %q in:\n%s", unwanted, got)
				}
			}
		})
	}
}

func TestGenerateMermaid_Nil(t *testing.T) {
	if got := graph.GenerateMermaid(nil, nil); got != "graph LR\n" {
		t.Errorf("got %q", got)
	}
}
