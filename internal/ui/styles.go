package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Palette
var (
	AccentColor  = lipgloss.Color("#3B82F6") // blue: headers, borders, table titles
	SuccessColor = lipgloss.Color("#22C55E")
	ErrorColor   = lipgloss.Color("#EF4444")
	WarningColor = lipgloss.Color("#F59E0B")
	MutedColor   = lipgloss.Color("#6B7280")
	TextColor    = lipgloss.Color("#F9FAFB")
)

// Output is clamped to this range of columns.
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// Shared styles
var (
	HeaderTitleStyle   = fg(TextColor).Bold(true).PaddingLeft(1)
	HeaderCommandStyle = fg(MutedColor).PaddingLeft(1)
	HeaderParamStyle   = fg(MutedColor)
	HeaderValueStyle   = fg(TextColor)

	SuccessTitleStyle = fg(SuccessColor).Bold(true)
	ErrorTitleStyle   = fg(ErrorColor).Bold(true)
	WarningTitleStyle = fg(WarningColor).Bold(true)
	ErrorMessageStyle = fg(ErrorColor)

	// ResultKeyStyle pads detail keys into a column.
	ResultKeyStyle   = fg(MutedColor).Width(20)
	ResultValueStyle = fg(TextColor)

	TroubleshootingTitleStyle = fg(MutedColor).Bold(true)
	TroubleshootingItemStyle  = fg(MutedColor)

	TableHeaderStyle = fg(AccentColor).Bold(true)
	TableCellStyle   = fg(TextColor)

	PromptStyle = fg(WarningColor).Bold(true)
)

// Status markers
const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
	WarningMarker = "⚠"
)

// GetTerminalWidth returns the width of stdout clamped to
// [MinTerminalWidth, MaxContentWidth]. When stdout is not a terminal,
// $COLUMNS is consulted before falling back to the minimum.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width, _ = strconv.Atoi(os.Getenv("COLUMNS"))
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	return min(max(width, MinTerminalWidth), MaxContentWidth)
}

// Divider returns a rule of the given width.
func Divider(width int) string {
	return fg(AccentColor).Render(strings.Repeat("─", max(width, 1)))
}
