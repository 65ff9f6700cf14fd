package formatter

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table is an aligned text table. Columns listed in Right are right-aligned.
type Table struct {
	Headers []string
	Rows    [][]string
	Right   map[int]bool
}

// RenderTable renders a left-aligned table with a header separator line.
func RenderTable(headers []string, rows [][]string) string {
	return Table{Headers: headers, Rows: rows}.Render()
}

// Render pads every column to its widest visible cell.
func (t Table) Render() string {
	if len(t.Headers) == 0 {
		return ""
	}
	cols := len(t.Headers)

	widths := make([]int, cols)
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < cols && i < len(row); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	const colGap = 2

	var b strings.Builder
	writeRow := func(cells []string, style func(string) string) {
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := widths[i] - lipgloss.Width(cell)
			if pad < 0 {
				pad = 0
			}
			if style != nil {
				cell = style(cell)
			}
			last := i == cols-1
			if t.Right[i] {
				b.WriteString(strings.Repeat(" ", pad) + cell)
				if !last {
					b.WriteString(strings.Repeat(" ", colGap))
				}
				continue
			}
			b.WriteString(cell)
			if !last {
				b.WriteString(strings.Repeat(" ", pad+colGap))
			}
		}
		b.WriteString("\n")
	}

	writeRow(t.Headers, func(s string) string { return StyleHeader.Render(s) })
	for i, w := range widths {
		b.WriteString(StyleDim.Render(strings.Repeat("─", w)))
		if i < cols-1 {
			b.WriteString(strings.Repeat(" ", colGap))
		}
	}
	b.WriteString("\n")
	for _, row := range t.Rows {
		writeRow(row, nil)
	}
	return b.String()
}
