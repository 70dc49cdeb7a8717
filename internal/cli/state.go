package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aretw0/interplay/internal/presentation/graph"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/persistence/middleware"
	"github.com/aretw0/interplay/pkg/ports"
)

// Inspect formats.
const (
	FormatTable   = "table"
	FormatJSON    = "json"
	FormatMermaid = "mermaid"
)

// Redacted wraps backend so secret-looking config values are masked on Load.
func Redacted(backend ports.StateBackend) ports.StateBackend {
	mw, err := middleware.NewRedactMiddleware(middleware.DefaultSecretPatterns)
	if err != nil {
		// DefaultSecretPatterns are constant and compile.
		panic(err)
	}
	return mw(backend)
}

// InspectState prints the persisted state of backend without starting anything.
func InspectState(ctx context.Context, w io.Writer, backend ports.StateBackend, format string, tty bool) error {
	st, err := backend.Load(ctx)
	if errors.Is(err, domain.ErrStateNotFound) {
		st = domain.NewAppState()
	} else if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		data, err := domain.MarshalState(st)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case FormatMermaid:
		_, err := io.WriteString(w, graph.GenerateMermaid(st, nil))
		return err
	case FormatTable, "":
		return Render(w, StateMarkdown(st), tty)
	default:
		return fmt.Errorf("unknown format %q (table, json, mermaid)", format)
	}
}

// StateMarkdown summarizes interactions, instances and routes.
func StateMarkdown(st *domain.AppState) string {
	var sb strings.Builder

	sb.WriteString("## Interactions\n\n")
	if len(st.Interactions) == 0 {
		sb.WriteString("_None._\n\n")
	} else {
		sb.WriteString("| id | name | enabled | instances | routes |\n|---|---|---|---|---|\n")
		for _, id := range sortedKeys(st.Interactions) {
			ia := st.Interactions[id]
			fmt.Fprintf(&sb, "| `%s` | %s | %t | %d | %d |\n", ia.ID, ia.Name, ia.Enabled, len(ia.InstanceIDs), len(ia.RouteIDs))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Instances\n\n")
	if len(st.Instances) == 0 {
		sb.WriteString("_None._\n\n")
	} else {
		sb.WriteString("| id | type | version | interaction | config |\n|---|---|---|---|---|\n")
		for _, id := range sortedKeys(st.Instances) {
			inst := st.Instances[id]
			cfg, _ := json.Marshal(inst.Config)
			interaction := inst.InteractionID
			if interaction == "" {
				interaction = "-"
			}
			fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | `%s` |\n", inst.ID, inst.TypeName, inst.Version, interaction, cfg)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Routes\n\n")
	if len(st.Routes) == 0 {
		sb.WriteString("_None._\n")
		return sb.String()
	}
	sb.WriteString("| id | from | to | filter |\n|---|---|---|---|\n")
	for _, id := range sortedKeys(st.Routes) {
		r := st.Routes[id]
		input := r.TargetInput
		if input == "" {
			input = r.SourceEvent
		}
		filter := "-"
		if r.Condition != nil {
			filter = fmt.Sprintf("%s %s %v", r.Condition.Field, r.Condition.Op, r.Condition.Value)
		}
		fmt.Fprintf(&sb, "| `%s` | %s.%s | %s.%s | %s |\n", r.ID, r.SourceInstanceID, r.SourceEvent, r.TargetInstanceID, input, filter)
	}
	return sb.String()
}

// ResetState deletes the persisted state of backend.
func ResetState(ctx context.Context, w io.Writer, backend ports.StateBackend) error {
	if err := backend.Delete(ctx); err != nil {
		return err
	}
	printSystemMessage(w, "State deleted.")
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
