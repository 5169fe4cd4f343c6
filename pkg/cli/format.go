// Package cli provides output helpers for the vlanhop command line.
package cli

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// colorEnabled is false when NO_COLOR is set or stdout is not a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor overrides terminal detection.
func SetColor(on bool) { colorEnabled = on }

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Green(s string) string  { return paint("32", s) }
func Yellow(s string) string { return paint("33", s) }
func Red(s string) string    { return paint("31", s) }
func Bold(s string) string   { return paint("1", s) }
func Dim(s string) string    { return paint("2", s) }

// Status renders a pass/fail word.
func Status(ok bool) string {
	if ok {
		return Green("OK")
	}
	return Red("FAIL")
}

// State colours a change state name: saved green, failed red, the rest yellow.
func State(name string) string {
	switch name {
	case "saved":
		return Green(name)
	case "failed":
		return Red(name)
	}
	return Yellow(name)
}

// YesNo renders a flag as "yes" or "-".
func YesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

// DotPad pads name with dots to the given width.
// Example: DotPad("core-sw1", 20) → "core-sw1 ..........."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}
