package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
// Without a terminal the markdown is returned as is.
func NewRenderer(tty bool) func(string) (string, error) {
	if !tty {
		return func(markdown string) (string, error) { return markdown, nil }
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// ManifestMarkdown describes a module type: its config schema and its events.
func ManifestMarkdown(m domain.Manifest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s `%s`\n\n", m.TypeName, m.Version)
	if m.Description != "" {
		sb.WriteString(m.Description + "\n\n")
	}
	if m.AdapterName() != m.TypeName {
		fmt.Fprintf(&sb, "Adapter: `%s`\n\n", m.AdapterName())
	}

	sb.WriteString("## Config\n\n")
	if len(m.ConfigSchema.Properties) == 0 {
		sb.WriteString("_No settings._\n\n")
	} else {
		required := make(map[string]bool, len(m.ConfigSchema.Required))
		for _, k := range m.ConfigSchema.Required {
			required[k] = true
		}
		sb.WriteString("| key | type | default | description |\n|---|---|---|---|\n")
		for _, k := range sortedKeys(m.ConfigSchema.Properties) {
			p := m.ConfigSchema.Properties[k]
			def := "-"
			switch {
			case required[k]:
				def = "**required**"
			case p.Default != nil:
				def = fmt.Sprintf("`%v`", p.Default)
			}
			desc := p.Description
			if len(p.Enum) > 0 {
				desc = strings.TrimSpace(fmt.Sprintf("%s one of %v", desc, p.Enum))
			}
			fmt.Fprintf(&sb, "| `%s` | %s | %s | %s |\n", k, p.Type, def, desc)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Events\n\n")
	for _, ev := range m.Events {
		fmt.Fprintf(&sb, "- **%s** `%s` (%s)", ev.Direction, ev.Name, ev.EffectiveKind())
		if len(ev.PayloadShape) > 0 {
			fields := make([]string, 0, len(ev.PayloadShape))
			for _, k := range sortedKeys(ev.PayloadShape) {
				fields = append(fields, k+": "+ev.PayloadShape[k])
			}
			fmt.Fprintf(&sb, ": `{%s}`", strings.Join(fields, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
