package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the interplay banner and version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	// Teal to amber, one stop per line
	lines := []struct{ text, color string }{
		{" _       _                  _             ", "#2dd4bf"},
		{"(_)_ __ | |_ ___ _ __ _ __ | | __ _ _   _ ", "#34d399"},
		{"| | '_ \\| __/ _ \\ '__| '_ \\| |/ _` | | | |", "#a3e635"},
		{"| | | | | ||  __/ |  | |_) | | (_| | |_| |", "#facc15"},
		{"|_|_| |_|\\__\\___|_|  | .__/|_|\\__,_|\\__, |", "#fbbf24"},
		{"                     |_|            |___/ ", "#f59e0b"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
