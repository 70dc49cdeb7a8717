package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/interplay/pkg/domain"
)

// GraphOverlay contains live data to paint on the graph.
type GraphOverlay struct {
	States map[string]domain.InstanceState
}

// GenerateMermaid produces a Mermaid flowchart of the instance graph.
// Interactions become subgraphs; standalone instances sit outside them.
// Conditional routes are drawn dotted and labelled with their condition.
func GenerateMermaid(st *domain.AppState, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")
	if st == nil {
		return sb.String()
	}

	members := make(map[string]bool)
	for _, ia := range sortedInteractions(st) {
		fmt.Fprintf(&sb, "    subgraph %s[\"%s\"]\n", nodeID(ia.ID), escape(ia.Name))
		if !ia.Enabled {
			sb.WriteString("        %% disabled\n")
		}
		for _, id := range ia.InstanceIDs {
			if inst, ok := st.Instances[id]; ok {
				members[id] = true
				writeInstance(&sb, "        ", inst)
			}
		}
		sb.WriteString("    end\n")
	}
	for _, id := range sortedKeys(st.Instances) {
		if !members[id] {
			writeInstance(&sb, "    ", st.Instances[id])
		}
	}

	for _, id := range sortedKeys(st.Routes) {
		r := st.Routes[id]
		input := r.TargetInput
		if input == "" {
			input = r.SourceEvent
		}
		label := r.SourceEvent
		if input != r.SourceEvent {
			label += " → " + input
		}
		from, to := nodeID(r.SourceInstanceID), nodeID(r.TargetInstanceID)
		if r.Condition != nil {
			cond := fmt.Sprintf("%s %s %v", r.Condition.Field, r.Condition.Op, r.Condition.Value)
			fmt.Fprintf(&sb, "    %s -. \"%s<br/>%s\" .-> %s\n", from, escape(label), escape(cond), to)
			continue
		}
		fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, escape(label), to)
	}

	if overlay != nil && len(overlay.States) > 0 {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for contrast on light and dark themes
		sb.WriteString("    classDef running fill:#dcfce7,stroke:#15803d,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef idle fill:#f1f5f9,stroke:#64748b,color:#000;\n")
		sb.WriteString("    classDef failed fill:#fee2e2,stroke:#b91c1c,stroke-width:3px,color:#000;\n")
		for _, id := range sortedKeys(overlay.States) {
			if class := classFor(overlay.States[id]); class != "" {
				fmt.Fprintf(&sb, "    class %s %s;\n", nodeID(id), class)
			}
		}
	}
	return sb.String()
}

func writeInstance(sb *strings.Builder, indent string, inst domain.InstanceSummary) {
	fmt.Fprintf(sb, "%s%s[\"%s<br/>%s\"]\n", indent, nodeID(inst.ID), escape(inst.TypeName), shortID(inst.ID))
}

func classFor(st domain.InstanceState) string {
	switch st {
	case domain.StateRunning:
		return "running"
	case domain.StateFailed:
		return "failed"
	case domain.StateIdle, domain.StateCreated:
		return "idle"
	}
	return ""
}

// nodeID turns an arbitrary id into a Mermaid identifier.
func nodeID(id string) string {
	s := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
	return "n_" + s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sortedInteractions(st *domain.AppState) []domain.Interaction {
	out := make([]domain.Interaction, 0, len(st.Interactions))
	for _, id := range sortedKeys(st.Interactions) {
		out = append(out, st.Interactions[id])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
