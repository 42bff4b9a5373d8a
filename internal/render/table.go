package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

const (
	columnGap      = 2
	minColumnWidth = 4
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	statusColors = map[string]lipgloss.Color{
		"PENDING":          lipgloss.Color("11"),
		"RUNNING":          lipgloss.Color("14"),
		"WAITING_APPROVAL": lipgloss.Color("13"),
		"COMPLETED":        lipgloss.Color("10"),
		"APPROVED":         lipgloss.Color("10"),
		"RESOLVED":         lipgloss.Color("10"),
		"FAILED":           lipgloss.Color("9"),
		"REJECTED":         lipgloss.Color("9"),
		"OPEN":             lipgloss.Color("9"),
		"CANCELLED":        lipgloss.Color("245"),
		"EXPIRED":          lipgloss.Color("245"),
		"IGNORED":          lipgloss.Color("245"),
		"IN_PROGRESS":      lipgloss.Color("14"),
	}
)

// Status colors a status word. Unknown statuses are left plain.
func Status(status string) string {
	color, ok := statusColors[strings.ToUpper(status)]
	if !ok {
		return status
	}
	return lipgloss.NewStyle().Foreground(color).Render(status)
}

// Table is a list view with a header row. Cells may already carry styling.
type Table struct {
	Headers []string
	Rows    [][]string
	// Empty is printed instead of the header when there are no rows.
	Empty string
}

func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Write prints the table within maxWidth columns. The last column absorbs
// any overflow and is truncated with an ellipsis.
func (t *Table) Write(w io.Writer, maxWidth int) error {
	if len(t.Rows) == 0 && t.Empty != "" {
		_, err := fmt.Fprintln(w, mutedStyle.Render(t.Empty))
		return err
	}
	widths := t.columnWidths(maxWidth)
	if _, err := fmt.Fprintln(w, t.line(t.Headers, widths, true)); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintln(w, t.line(row, widths, false)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) columnWidths(maxWidth int) []int {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if cw := xansi.StringWidth(row[i]); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	if maxWidth <= 0 || len(widths) == 0 {
		return widths
	}
	total := columnGap * (len(widths) - 1)
	for _, cw := range widths {
		total += cw
	}
	if over := total - maxWidth; over > 0 {
		last := len(widths) - 1
		widths[last] = max(widths[last]-over, minColumnWidth)
	}
	return widths
}

func (t *Table) line(cells []string, widths []int, header bool) string {
	var b strings.Builder
	for i, width := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		cell = fit(cell, width)
		if header {
			cell = headerStyle.Render(cell)
		}
		b.WriteString(cell)
		if i < len(widths)-1 {
			b.WriteString(strings.Repeat(" ", columnGap))
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// fit pads or truncates cell to exactly width terminal columns.
func fit(cell string, width int) string {
	cw := xansi.StringWidth(cell)
	if cw > width {
		plain := xansi.Strip(cell)
		return runewidth.Truncate(plain, width, "…")
	}
	return cell + strings.Repeat(" ", width-cw)
}
