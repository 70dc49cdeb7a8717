package tui

import (
	"io"
	"os"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// StateLabel colors a lifecycle state for out. Plain text when out has no colors.
func StateLabel(out *termenv.Output, st domain.InstanceState) string {
	var color string
	switch st {
	case domain.StateRunning:
		color = "#22c55e"
	case domain.StateFailed:
		color = "#ef4444"
	case domain.StateIdle, domain.StateCreated:
		color = "#94a3b8"
	default:
		color = "#f59e0b"
	}
	return out.String(string(st)).Foreground(out.Color(color)).String()
}
