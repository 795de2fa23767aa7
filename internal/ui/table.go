package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table is a simple column-aligned listing.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a table with the given column titles.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// AddRow appends a row. Missing cells render empty; extra cells are ignored.
func (t *Table) AddRow(cells ...string) *Table {
	t.Rows = append(t.Rows, cells)
	return t
}

// Render returns the table as a string, one line per row.
func (t *Table) Render() string {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i := range widths {
			if i < len(row) {
				widths[i] = max(widths[i], lipgloss.Width(row[i]))
			}
		}
	}

	var b strings.Builder
	b.WriteString(t.renderRow(t.Headers, widths, TableHeaderStyle))
	for _, row := range t.Rows {
		b.WriteString("\n")
		b.WriteString(t.renderRow(row, widths, TableCellStyle))
	}
	return b.String()
}

func (t *Table) renderRow(cells []string, widths []int, style lipgloss.Style) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", w-lipgloss.Width(cell))
		parts[i] = style.Render(cell) + pad
	}
	return "  " + strings.TrimRight(strings.Join(parts, "  "), " ")
}

// String implements fmt.Stringer
func (t *Table) String() string {
	return t.Render()
}

// SignalBars renders an RSSI as a four-step bar.
func SignalBars(rssi int8) string {
	switch {
	case rssi >= -55:
		return "▂▄▆█"
	case rssi >= -67:
		return "▂▄▆ "
	case rssi >= -78:
		return "▂▄  "
	default:
		return "▂   "
	}
}
