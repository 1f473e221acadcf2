package ingest

import (
	"testing"

	"github.com/laion/papermap/internal/paper"
)

func TestParseSummarization(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantClass string
		wantYear  *int64
	}{
		{"scientific", `{"article_classification":"SCIENTIFIC_TEXT","summary":{"publication_year":2019}}`, true, paper.ClassFullText, i64p(2019)},
		{"partial", `{"article_classification":"PARTIAL_SCIENTIFIC_TEXT"}`, true, paper.ClassPartialText, nil},
		{"year as string", `{"article_classification":"SCIENTIFIC_TEXT","summary":{"publication_year":"2001"}}`, true, paper.ClassFullText, i64p(2001)},
		{"year padded string", `{"article_classification":"SCIENTIFIC_TEXT","summary":{"publication_year":" 2001 "}}`, true, paper.ClassFullText, i64p(2001)},
		{"year as float", `{"article_classification":"SCIENTIFIC_TEXT","summary":{"publication_year":2001.0}}`, true, paper.ClassFullText, i64p(2001)},
		{"year unknown", `{"article_classification":"SCIENTIFIC_TEXT","summary":{"publication_year":"unknown"}}`, true, paper.ClassFullText, nil},
		{"year null", `{"article_classification":"SCIENTIFIC_TEXT","summary":{"publication_year":null}}`, true, paper.ClassFullText, nil},
		{"non scientific", `{"article_classification":"NON_SCIENTIFIC_TEXT"}`, false, "", nil},
		{"missing classification", `{"summary":{"title":"x"}}`, false, "", nil},
		{"empty", ``, false, "", nil},
		{"invalid json", `{"article_classification":`, false, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSummarization(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Classification != tt.wantClass {
				t.Errorf("classification = %q, want %q", got.Classification, tt.wantClass)
			}
			switch {
			case tt.wantYear == nil && got.PublicationYear != nil:
				t.Errorf("expected nil year, got %d", *got.PublicationYear)
			case tt.wantYear != nil && (got.PublicationYear == nil || *got.PublicationYear != *tt.wantYear):
				t.Errorf("year = %v, want %d", got.PublicationYear, *tt.wantYear)
			}
		})
	}
}

func TestParseSummarization_Fields(t *testing.T) {
	got, ok := ParseSummarization(`{"article_classification":"SCIENTIFIC_TEXT","summary":{"title":"Coral bleaching","field_subfield":"Ecology / Marine"}}`)
	if !ok {
		t.Fatal("expected document to be accepted")
	}
	if got.Title == nil || *got.Title != "Coral bleaching" {
		t.Errorf("unexpected title: %v", got.Title)
	}
	if got.FieldSubfield == nil || *got.FieldSubfield != "Ecology / Marine" {
		t.Errorf("unexpected field: %v", got.FieldSubfield)
	}
}
