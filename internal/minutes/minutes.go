// Package minutes defines the meeting minutes document, validates it
// against an embedded JSON schema and renders it deterministically.
package minutes

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

//go:embed schema.json
var schemaJSON []byte

// maxReportedErrors bounds the schema errors echoed back to callers.
const maxReportedErrors = 10

// schema is compiled once; it is embedded, so a failure is a build defect.
var schema = mustSchema()

func mustSchema() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("minutes: invalid embedded schema: %v", err))
	}

	return s
}

// Schema returns the JSON schema document for Minutes.
func Schema() json.RawMessage {
	return json.RawMessage(schemaJSON)
}

// ActionItem is one follow-up task.
type ActionItem struct {
	Owner string `json:"owner,omitempty"`
	Task  string `json:"task"`
	Due   string `json:"due,omitempty"`
}

// Minutes is a validated minutes document.
type Minutes struct {
	Title       string       `json:"title"`
	Date        string       `json:"date"`
	Location    string       `json:"location,omitempty"`
	Attendees   []string     `json:"attendees"`
	Agenda      []string     `json:"agenda,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Decisions   []string     `json:"decisions,omitempty"`
	ActionItems []ActionItem `json:"actionItems,omitempty"`
}

// Parse validates raw against the schema and decodes it. Schema
// violations are validation errors listing the offending fields.
func Parse(raw []byte) (*Minutes, error) {
	if len(raw) == 0 {
		return nil, apperr.Validation("invalid_minutes", "minutes document is empty", nil)
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, apperr.Validation("invalid_minutes", "minutes document is not valid JSON", err)
	}

	if !res.Valid() {
		var problems []string

		for i, e := range res.Errors() {
			if i == maxReportedErrors {
				problems = append(problems, fmt.Sprintf("and %d more", len(res.Errors())-i))
				break
			}

			problems = append(problems, e.String())
		}

		return nil, apperr.Validation("invalid_minutes", "minutes document does not match the schema", nil).
			WithDetail("errors", problems)
	}

	var m Minutes
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Validation("invalid_minutes", "minutes document could not be decoded", err)
	}

	if err := m.checkDates(); err != nil {
		return nil, err
	}

	return &m, nil
}

// checkDates rejects dates the schema pattern accepts but the calendar
// does not, such as 2026-02-30.
func (m *Minutes) checkDates() error {
	dates := []struct{ field, value string }{{"date", m.Date}}
	for i, a := range m.ActionItems {
		if a.Due != "" {
			dates = append(dates, struct{ field, value string }{fmt.Sprintf("actionItems.%d.due", i), a.Due})
		}
	}

	for _, d := range dates {
		if _, err := time.Parse(time.DateOnly, d.value); err != nil {
			return apperr.Validation("invalid_minutes", "minutes document has an invalid date", err).
				WithDetail("field", d.field)
		}
	}

	return nil
}

// FileName derives a default file name such as "2026-03-02-weekly-sync".
// The extension is left to the renderer.
func (m *Minutes) FileName() string {
	var b strings.Builder

	dash := false

	for _, r := range strings.ToLower(m.Title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')

			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}

	if slug == "" {
		slug = "minutes"
	}

	return m.Date + "-" + slug
}
