// Package render turns engine records into terminal output: aligned tables
// for lists and Markdown reports for single runs.
package render

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	glamouransi "github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	xansi "github.com/charmbracelet/x/ansi"
)

var (
	rendererMu sync.Mutex
	renderers  = map[int]*glamour.TermRenderer{}
)

// Markdown renders input for a terminal of the given width. Rendering
// failures fall back to the raw text.
func Markdown(input string, width int) string {
	input = strings.TrimRight(input, "\n")
	if input == "" {
		return ""
	}
	if width <= 0 {
		width = 100
	}
	r := rendererFor(width)
	if r == nil {
		return input
	}
	out, err := r.Render(input)
	if err != nil {
		return input
	}
	out = xansi.Hardwrap(strings.TrimRight(out, "\n"), width, true)
	return strings.TrimRight(out, "\n")
}

func rendererFor(width int) *glamour.TermRenderer {
	rendererMu.Lock()
	defer rendererMu.Unlock()
	if r, ok := renderers[width]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(reportStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	renderers[width] = r
	return r
}

func reportStyle() glamouransi.StyleConfig {
	base := styles.DarkStyleConfig
	base.Document.StylePrimitive.BlockPrefix = ""
	base.Document.StylePrimitive.BlockSuffix = ""
	zero := uint(0)
	base.Document.Margin = &zero
	return base
}

// escapeMarkdown keeps free text from being read as Markdown structure.
func escapeMarkdown(text string) string {
	if text == "" {
		return ""
	}
	replacer := strings.NewReplacer("`", "\\`", "|", "\\|", "*", "\\*", "_", "\\_")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = replacer.Replace(strings.TrimSpace(line))
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">") || strings.HasPrefix(line, "- ") {
			line = "\\" + line
		}
		lines[i] = line
	}
	return strings.Join(lines, " ")
}
