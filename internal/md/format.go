// Package md renders report output as markdown: an optional YAML frontmatter
// block, a title, and a pipe table.
package md

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one rendered report.
type Document struct {
	Title   string
	Meta    map[string]interface{}
	Headers []string
	Rows    [][]string
}

// Format renders doc. Meta becomes YAML frontmatter when non-empty.
func Format(doc Document) (string, error) {
	var b strings.Builder

	if len(doc.Meta) > 0 {
		front, err := yaml.Marshal(doc.Meta)
		if err != nil {
			return "", fmt.Errorf("failed to marshal frontmatter: %w", err)
		}
		b.WriteString("---\n")
		b.Write(front)
		b.WriteString("---\n\n")
	}

	if doc.Title != "" {
		b.WriteString("# " + doc.Title + "\n\n")
	}

	if len(doc.Rows) == 0 {
		b.WriteString("_No rows._\n")
		return b.String(), nil
	}

	b.WriteString(Table(doc.Headers, doc.Rows))
	return b.String(), nil
}

// Table renders a pipe table with columns padded to equal width. Rows
// shorter than headers are padded with empty cells; extra cells are dropped.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = max(3, len(Escape(h)))
	}

	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(headers))
		for i := range headers {
			if i < len(row) {
				cells[r][i] = Escape(row[i])
			}
			widths[i] = max(widths[i], len(cells[r][i]))
		}
	}

	var b strings.Builder
	writeRow := func(vals []string) {
		b.WriteString("|")
		for i, v := range vals {
			b.WriteString(" " + v + strings.Repeat(" ", widths[i]-len(v)) + " |")
		}
		b.WriteString("\n")
	}

	escaped := make([]string, len(headers))
	sep := make([]string, len(headers))
	for i, h := range headers {
		escaped[i] = Escape(h)
		sep[i] = strings.Repeat("-", widths[i])
	}
	writeRow(escaped)
	writeRow(sep)
	for _, row := range cells {
		writeRow(row)
	}
	return b.String()
}

// Escape makes s safe inside a table cell.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", "<br>")
	return strings.ReplaceAll(s, "\n", "<br>")
}
