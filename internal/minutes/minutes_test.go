package minutes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

const validDoc = `{
  "title": "Weekly sync",
  "date": "2026-03-02",
  "attendees": ["Alice", "Bob"],
  "summary": "Good meeting.",
  "decisions": ["Ship it"],
  "actionItems": [{"owner": "Alice", "task": "Write notes", "due": "2026-03-09"}]
}`

func TestParse_Valid(t *testing.T) {
	m, err := Parse([]byte(validDoc))
	require.NoError(t, err)
	assert.Equal(t, "Weekly sync", m.Title)
	assert.Equal(t, []string{"Alice", "Bob"}, m.Attendees)
	assert.Equal(t, "2026-03-09", m.ActionItems[0].Due)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"not json", `{"title":`},
		{"missing title", `{"date":"2026-03-02","attendees":["a"]}`},
		{"no attendees", `{"title":"t","date":"2026-03-02","attendees":[]}`},
		{"bad date format", `{"title":"t","date":"03/02/2026","attendees":["a"]}`},
		{"impossible date", `{"title":"t","date":"2026-02-30","attendees":["a"]}`},
		{"unknown field", `{"title":"t","date":"2026-03-02","attendees":["a"],"secret":1}`},
		{"action without task", `{"title":"t","date":"2026-03-02","attendees":["a"],"actionItems":[{"owner":"a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestParse_ReportsSchemaErrors(t *testing.T) {
	_, err := Parse([]byte(`{"title":"","date":"x","attendees":[]}`))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)

	problems, ok := ae.Details["errors"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(problems), 3)
}

func TestMarkdown_Render(t *testing.T) {
	m, err := Parse([]byte(validDoc))
	require.NoError(t, err)

	r, err := NewMarkdownRenderer()
	require.NoError(t, err)

	out, err := r.Render(context.Background(), m, TraceInfo{})
	require.NoError(t, err)

	want := `# Weekly sync

**Date:** 2026-03-02

## Attendees

- Alice
- Bob

## Summary

Good meeting.

## Decisions

- Ship it

## Action items

| Owner | Task | Due |
|---|---|---|
| Alice | Write notes | 2026-03-09 |
`
	assert.Equal(t, want, string(out))
}

func TestMarkdown_Deterministic(t *testing.T) {
	m, err := Parse([]byte(validDoc))
	require.NoError(t, err)

	r, err := NewMarkdownRenderer()
	require.NoError(t, err)

	trace := TraceInfo{UserKey: "alice-1a2b3c4d", SourceItemID: "ITEM1", SourceName: "sync.vtt"}

	first, err := r.Render(context.Background(), m, trace)
	require.NoError(t, err)

	second, err := r.Render(context.Background(), m, trace)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, string(first), "<!-- minutes-gateway user=alice-1a2b3c4d source=ITEM1 sourceName=sync.vtt -->")
}

func TestMarkdown_Escaping(t *testing.T) {
	r, err := NewMarkdownRenderer()
	require.NoError(t, err)

	m := &Minutes{
		Title:       "Line\nbreak",
		Date:        "2026-01-01",
		Attendees:   []string{"A"},
		Agenda:      []string{"First", "Second"},
		ActionItems: []ActionItem{{Task: "a | b"}},
	}

	out, err := r.Render(context.Background(), m, TraceInfo{SourceName: "x --> y", SourceItemID: "1"})
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "# Line break\n"))
	assert.Contains(t, s, "1. First\n2. Second")
	assert.Contains(t, s, `| - | a \| b | - |`)
	assert.Equal(t, 1, strings.Count(s, "-->"))
}

func TestNewMarkdownRenderer_Parses(t *testing.T) {
	r, err := NewMarkdownRenderer()
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, ".md", r.Extension())
	assert.Equal(t, "text/markdown; charset=utf-8", r.MimeType())
}

func TestMarkdown_SummaryParagraph(t *testing.T) {
	r, err := NewMarkdownRenderer()
	require.NoError(t, err)

	m := &Minutes{
		Title:     "T",
		Date:      "2026-01-01",
		Attendees: []string{"A"},
		Summary:   "\r\n\nFirst line.\r\nSecond line.\n\n",
	}

	out, err := r.Render(context.Background(), m, TraceInfo{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "## Summary\n\nFirst line.\nSecond line.\n")
	assert.NotContains(t, string(out), "\r")
}

func TestMarkdown_Canceled(t *testing.T) {
	r, err := NewMarkdownRenderer()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Render(ctx, &Minutes{}, TraceInfo{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		title, want string
	}{
		{"Weekly sync", "2026-03-02-weekly-sync"},
		{"  Q1 / Planning!! ", "2026-03-02-q1-planning"},
		{"Päivä", "2026-03-02-p-iv"},
		{"???", "2026-03-02-minutes"},
	}

	for _, tt := range tests {
		m := &Minutes{Title: tt.title, Date: "2026-03-02"}
		assert.Equal(t, tt.want, m.FileName(), tt.title)
	}
}

func TestSchema(t *testing.T) {
	assert.Contains(t, string(Schema()), `"actionItems"`)
}
