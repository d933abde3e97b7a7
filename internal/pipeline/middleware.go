package pipeline

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/IshaanNene/specwatch/internal/types"
)

// HTMLSanitizeMiddleware strips tags and decodes entities in the title and
// feature texts, so "Bowers &amp; Wilkins" scores like "Bowers & Wilkins".
type HTMLSanitizeMiddleware struct {
	stripRe *regexp.Regexp
}

func NewHTMLSanitizeMiddleware() *HTMLSanitizeMiddleware {
	return &HTMLSanitizeMiddleware{
		stripRe: regexp.MustCompile(`<[^>]*>`),
	}
}

func (m *HTMLSanitizeMiddleware) Name() string { return "html_sanitize" }

func (m *HTMLSanitizeMiddleware) Process(rec *types.VehicleRecord) (*types.VehicleRecord, error) {
	rec.Title = m.clean(rec.Title)
	for i, f := range rec.Features {
		rec.Features[i] = m.clean(f)
	}
	return rec, nil
}

func (m *HTMLSanitizeMiddleware) clean(s string) string {
	if s == "" {
		return s
	}
	s = m.stripRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// DateNormalizeMiddleware rewrites the registration date into one layout.
// Day-first layouts are tried before month-first ones. Unparseable values
// are left untouched.
type DateNormalizeMiddleware struct {
	outFormat string
	inFormats []string
}

func NewDateNormalizeMiddleware(outFormat string) *DateNormalizeMiddleware {
	if outFormat == "" {
		outFormat = time.RFC3339
	}
	return &DateNormalizeMiddleware{
		outFormat: outFormat,
		inFormats: []string{
			"2006-01-02",
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"02/01/2006",
			"2 January 2006",
			"2 Jan 2006",
			"02-Jan-2006",
			"2006/01/02",
			"January 2, 2006",
			"Jan 2, 2006",
		},
	}
}

func (m *DateNormalizeMiddleware) Name() string { return "date_normalize" }

func (m *DateNormalizeMiddleware) Process(rec *types.VehicleRecord) (*types.VehicleRecord, error) {
	if rec.RegistrationDate == nil {
		return rec, nil
	}
	s := strings.TrimSpace(*rec.RegistrationDate)
	for _, format := range m.inFormats {
		if t, err := time.Parse(format, s); err == nil {
			out := t.Format(m.outFormat)
			rec.RegistrationDate = &out
			break
		}
	}
	return rec, nil
}
