package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/laion/papermap/internal/paper"
)

// Source classifications written by the summarization model.
const (
	SourceScientific        = "SCIENTIFIC_TEXT"
	SourcePartialScientific = "PARTIAL_SCIENTIFIC_TEXT"
)

// Extracted holds the fields lifted out of a summarization document.
type Extracted struct {
	Title           *string
	PublicationYear *int64
	FieldSubfield   *string
	Classification  string // FULL_TEXT or PARTIAL_TEXT
}

type summarization struct {
	ArticleClassification string `json:"article_classification"`
	Summary               *struct {
		Title           *string         `json:"title"`
		PublicationYear json.RawMessage `json:"publication_year"`
		FieldSubfield   *string         `json:"field_subfield"`
	} `json:"summary"`
}

// ParseSummarization decodes a summarization JSON document. It returns
// false when the document is not valid JSON or is not classified as
// scientific or partially scientific text.
func ParseSummarization(raw string) (Extracted, bool) {
	var s summarization
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Extracted{}, false
	}

	var out Extracted
	switch s.ArticleClassification {
	case SourceScientific:
		out.Classification = paper.ClassFullText
	case SourcePartialScientific:
		out.Classification = paper.ClassPartialText
	default:
		return Extracted{}, false
	}

	if s.Summary != nil {
		out.Title = s.Summary.Title
		out.FieldSubfield = s.Summary.FieldSubfield
		out.PublicationYear = parseYear(s.Summary.PublicationYear)
	}
	return out, true
}

// parseYear accepts a JSON number or a numeric string.
func parseYear(raw json.RawMessage) *int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		n = json.Number(strings.TrimSpace(s))
	}

	if v, err := n.Int64(); err == nil {
		return &v
	}
	if f, err := strconv.ParseFloat(string(n), 64); err == nil && f == float64(int64(f)) {
		v := int64(f)
		return &v
	}
	return nil
}
