package minutes

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
)

// TraceInfo identifies where a rendered document came from. It must not
// carry per-request values: identical input renders identical bytes.
type TraceInfo struct {
	UserKey      string
	SourceItemID string
	SourceName   string
}

// Renderer turns validated minutes into a document.
type Renderer interface {
	Render(ctx context.Context, m *Minutes, trace TraceInfo) ([]byte, error)
	Extension() string
	MimeType() string
}

// MarkdownRenderer renders minutes as CommonMark.
type MarkdownRenderer struct {
	tmpl *template.Template
}

var _ Renderer = (*MarkdownRenderer)(nil)

const markdownTemplate = `# {{ .M.Title | inline }}

**Date:** {{ .M.Date }}
{{- with .M.Location }}
**Location:** {{ . | inline }}
{{- end }}

## Attendees
{{ range .M.Attendees }}
- {{ . | inline }}
{{- end }}
{{- with .M.Agenda }}

## Agenda
{{ range $i, $a := . }}
{{ inc $i }}. {{ $a | inline }}
{{- end }}
{{- end }}
{{- with .M.Summary }}

## Summary

{{ . | paragraph }}
{{- end }}
{{- with .M.Decisions }}

## Decisions
{{ range . }}
- {{ . | inline }}
{{- end }}
{{- end }}
{{- with .M.ActionItems }}

## Action items

| Owner | Task | Due |
|---|---|---|
{{- range . }}
| {{ or .Owner "-" | cell }} | {{ .Task | cell }} | {{ or .Due "-" }} |
{{- end }}
{{- end }}
{{- if or .T.UserKey .T.SourceItemID }}

<!-- minutes-gateway{{ with .T.UserKey }} user={{ . | comment }}{{ end }}{{ with .T.SourceItemID }} source={{ . | comment }}{{ end }}{{ with .T.SourceName }} sourceName={{ . | comment }}{{ end }} -->
{{- end }}
`

// NewMarkdownRenderer parses the built-in template.
func NewMarkdownRenderer() (*MarkdownRenderer, error) {
	tmpl, err := template.New("minutes.md").Funcs(template.FuncMap{
		"inline":    inline,
		"paragraph": paragraph,
		"cell":      cell,
		"comment":   comment,
		"inc":       func(i int) int { return i + 1 },
	}).Parse(markdownTemplate)
	if err != nil {
		return nil, fmt.Errorf("minutes: parsing markdown template: %w", err)
	}

	return &MarkdownRenderer{tmpl: tmpl}, nil
}

// Render implements Renderer.
func (r *MarkdownRenderer) Render(ctx context.Context, m *Minutes, trace TraceInfo) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, struct {
		M *Minutes
		T TraceInfo
	}{m, trace}); err != nil {
		return nil, fmt.Errorf("minutes: rendering markdown: %w", err)
	}

	return buf.Bytes(), nil
}

// Extension implements Renderer.
func (r *MarkdownRenderer) Extension() string { return ".md" }

// MimeType implements Renderer.
func (r *MarkdownRenderer) MimeType() string { return "text/markdown; charset=utf-8" }

// inline collapses whitespace so a value stays on one line.
func inline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// paragraph normalizes line endings and trims surrounding blank lines.
func paragraph(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}

// cell makes a value safe inside a table cell.
func cell(s string) string {
	return strings.ReplaceAll(inline(s), "|", `\|`)
}

// comment keeps a value from closing the HTML comment.
func comment(s string) string {
	return strings.ReplaceAll(inline(s), "--", "- -")
}
