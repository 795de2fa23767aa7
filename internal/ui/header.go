package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the box printed before a command talks to a device.
type Header struct {
	Title   string   // upper-cased on render
	Command string   // the invocation, e.g. "blufi provision"
	Params  []Detail // connection parameters, one per line
	Width   int
}

// NewHeader creates a header sized to the terminal.
func NewHeader(title, command string, params ...Detail) *Header {
	return &Header{Title: title, Command: command, Params: params, Width: GetTerminalWidth()}
}

// SetWidth overrides the render width.
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header.
func (h *Header) Render() string {
	width := max(h.Width, MinTerminalWidth)

	lines := []string{
		HeaderTitleStyle.Render(strings.ToUpper(h.Title)),
		HeaderCommandStyle.Render("$ " + h.Command),
	}
	if len(h.Params) > 0 {
		keyWidth := 0
		for _, p := range h.Params {
			keyWidth = max(keyWidth, lipgloss.Width(p.Key)+1)
		}
		lines = append(lines, " "+Divider(width-6))
		for _, p := range h.Params {
			key := HeaderParamStyle.Width(keyWidth).Render(p.Key + ":")
			lines = append(lines, " "+key+" "+HeaderValueStyle.Render(p.Value))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(AccentColor).
		Width(width - 2).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}
