// Package ui holds the terminal styles shared by the lt commands.
//
// Styles render through lipgloss, which degrades automatically on dumb
// terminals. AutoProfile drops to plain text when stdout is not a TTY so
// piped output stays clean.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boldStyle   = lipgloss.NewStyle().Bold(true)

	// CardBox frames a flashcard side during review.
	CardBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(1, 2).
		Width(60)
)

// AutoProfile disables color when stdout is not a terminal or when the
// NO_COLOR convention asks for it. Call once at startup.
func AutoProfile() {
	if _, set := os.LookupEnv("NO_COLOR"); set || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// RenderPass styles a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn styles a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail styles a failure marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent styles an informational marker.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted styles secondary detail like ids and timestamps.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold styles a heading.
func RenderBold(s string) string { return boldStyle.Render(s) }

// ClearScreen clears w and homes the cursor when w is a terminal.
func ClearScreen(w io.Writer) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return
	}
	out := termenv.NewOutput(f)
	out.ClearScreen()
}
