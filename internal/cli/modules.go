package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/interplay/internal/presentation/tui"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/loader"
	"github.com/aretw0/interplay/pkg/modules"
	"github.com/aretw0/interplay/pkg/registry"
)

// ModulesMarkdown is the module table shown by `modules ls`.
func ModulesMarkdown(manifests []domain.Manifest) string {
	var sb strings.Builder
	sb.WriteString("| type | version | inputs | outputs | description |\n|---|---|---|---|---|\n")
	for _, m := range manifests {
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s |\n",
			m.TypeName, m.Version,
			eventNames(m.Inputs()), eventNames(m.Outputs()),
			m.Description,
		)
	}
	return sb.String()
}

func eventNames(evs []domain.EventDecl) string {
	if len(evs) == 0 {
		return "-"
	}
	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = ev.Name
	}
	return strings.Join(names, ", ")
}

// Render writes markdown to w, styled when tty is set.
func Render(w io.Writer, markdown string, tty bool) error {
	out, err := tui.NewRenderer(tty)(markdown)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// ShowModule renders the manifest of typeName from reg.
func ShowModule(w io.Writer, reg *registry.Registry, typeName string, tty bool) error {
	f, err := reg.Get(typeName)
	if err != nil {
		return err
	}
	md := tui.ManifestMarkdown(f.Manifest)
	if f.Source != "" {
		md += fmt.Sprintf("\n_Loaded from `%s`._\n", f.Source)
	}
	return Render(w, md, tty)
}

// ValidateDir checks every plugin manifest under dir against the compiled-in
// adapters. Nothing is registered anywhere else and nothing is started.
func ValidateDir(ctx context.Context, w io.Writer, dir string) error {
	reg := registry.NewRegistry()
	catalog := loader.NewCatalog()
	modules.Register(catalog)
	l := loader.New(reg, catalog)

	report, err := l.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range report.Loaded {
		printSystemMessage(w, "ok      %s", name)
	}
	errs := make([]error, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		printSystemMessage(w, "invalid %s: %v", s.Dir, s.Err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Dir, s.Err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d manifests rejected: %w",
			len(errs), len(errs)+len(report.Loaded), errors.Join(errs...))
	}
	return nil
}
