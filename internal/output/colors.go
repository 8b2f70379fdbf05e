// Package output renders human-readable console output: per-outcome
// result lines, run and performance summaries, and one-off
// request/response views. Machine formats live in internal/report.
package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for the different output
// elements.
type ColorScheme struct {
	Pass    *color.Color
	Fail    *color.Color
	Skip    *color.Color
	Flaky   *color.Color
	Cancel  *color.Color
	Method  *color.Color
	URL     *color.Color
	Dim     *color.Color
	Header  *color.Color
	Stat    *color.Color
	Caution *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Pass:    color.New(color.FgGreen, color.Bold),
		Fail:    color.New(color.FgRed, color.Bold),
		Skip:    color.New(color.FgYellow),
		Flaky:   color.New(color.FgMagenta),
		Cancel:  color.New(color.FgYellow),
		Method:  color.New(color.FgBlue, color.Bold),
		URL:     color.New(color.FgCyan),
		Dim:     color.New(color.Faint),
		Header:  color.New(color.FgCyan, color.Bold),
		Stat:    color.New(color.FgCyan),
		Caution: color.New(color.FgYellow, color.Bold),
	}
}

// NoColorScheme returns a color scheme with every color disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Pass, scheme.Fail, scheme.Skip, scheme.Flaky, scheme.Cancel,
		scheme.Method, scheme.URL, scheme.Dim, scheme.Header, scheme.Stat,
		scheme.Caution,
	} {
		c.DisableColor()
	}
	return scheme
}

// ColorEnabled reports whether colored output makes sense for w:
// the writer is a terminal and NO_COLOR is unset.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
