package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/laion/papermap/internal/paper"
)

func TestGetByID(t *testing.T) {
	db := setupTestDB(t)

	p, err := db.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if p.Title == nil || *p.Title != "Protein folding with transformers" {
		t.Errorf("unexpected title: %v", p.Title)
	}
	if p.PublicationYear == nil || *p.PublicationYear != 2021 {
		t.Errorf("unexpected year: %v", p.PublicationYear)
	}
	if p.ClusterLabel == nil || *p.ClusterLabel != "Biology" {
		t.Errorf("unexpected cluster label: %v", p.ClusterLabel)
	}

	if _, err := db.GetByID(context.Background(), 404); !errors.Is(err, ErrPaperNotFound) {
		t.Errorf("expected ErrPaperNotFound, got %v", err)
	}
}

func TestGetByID_PrefersClaudeLabel(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.db.Exec(`UPDATE papers SET claude_label = 'Structural Biology' WHERE id = 1`); err != nil {
		t.Fatalf("setting claude_label: %v", err)
	}

	p, err := db.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if p.ClusterLabel == nil || *p.ClusterLabel != "Structural Biology" {
		t.Errorf("expected claude_label to win, got %v", p.ClusterLabel)
	}
}

func TestGetByID_PartialSchema(t *testing.T) {
	db, err := Open(rawDB(t,
		`CREATE TABLE papers (id INTEGER PRIMARY KEY, title TEXT, x REAL, y REAL)`,
		`INSERT INTO papers VALUES (1, 'Only basics', 1, 2)`,
	))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	p, err := db.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if p.ClusterID != nil || p.Z != nil {
		t.Errorf("expected missing columns to read as nil, got cluster=%v z=%v", p.ClusterID, p.Z)
	}
}

func TestGetByIDs_PreservesOrder(t *testing.T) {
	db := setupTestDB(t)

	papers, err := db.GetByIDs(context.Background(), []int64{3, 1, 999, 2})
	if err != nil {
		t.Fatalf("GetByIDs failed: %v", err)
	}

	want := []int64{3, 1, 2}
	if len(papers) != len(want) {
		t.Fatalf("expected %d papers, got %d", len(want), len(papers))
	}
	for i, id := range want {
		if papers[i].ID != id {
			t.Errorf("position %d: expected %d, got %d", i, id, papers[i].ID)
		}
	}
}

func TestGetByIDs_Empty(t *testing.T) {
	db := setupTestDB(t)

	papers, err := db.GetByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetByIDs failed: %v", err)
	}
	if papers == nil || len(papers) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", papers)
	}
}

func TestSearch(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		name  string
		query string
		limit int
		want  []int64
	}{
		{"title match", "attention", 10, []int64{3}},
		{"field match", "Computer Science", 10, []int64{2}},
		{"unpositioned excluded", "Unprojected", 10, nil},
		{"limit", "", 2, []int64{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			papers, err := db.Search(context.Background(), tt.query, tt.limit)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if len(papers) != len(tt.want) {
				t.Fatalf("expected %d results, got %d", len(tt.want), len(papers))
			}
			for i, id := range tt.want {
				if papers[i].ID != id {
					t.Errorf("result %d: expected %d, got %d", i, id, papers[i].ID)
				}
			}
		})
	}
}

func TestClusters(t *testing.T) {
	db := setupTestDB(t)

	clusters, err := db.Clusters(context.Background())
	if err != nil {
		t.Fatalf("Clusters failed: %v", err)
	}
	if len(clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(clusters))
	}

	noise := clusters[0]
	if noise.ID != -1 || noise.Color != "#E8E8E8" || noise.Label != "" {
		t.Errorf("unexpected noise cluster: %+v", noise)
	}
	ml := clusters[2]
	if ml.ID != 1 || ml.Count != 2 || ml.Label != "ML" {
		t.Errorf("unexpected ML cluster: %+v", ml)
	}
}

func paperIDs(papers []paper.Paper) []int64 {
	ids := make([]int64, len(papers))
	for i, p := range papers {
		ids[i] = p.ID
	}
	return ids
}

func TestListPapers(t *testing.T) {
	db := setupTestDB(t)

	tests := []struct {
		name string
		opts ListOptions
		want []int64
	}{
		{"all positioned", ListOptions{Limit: -1}, []int64{1, 2, 3, 4}},
		{"limited", ListOptions{Limit: 2}, []int64{1, 2}},
		{"one cluster", ListOptions{ClusterID: i64p(1), Limit: -1}, []int64{2, 3}},
		{"unknown cluster", ListOptions{ClusterID: i64p(42), Limit: -1}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			papers, err := db.ListPapers(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("ListPapers failed: %v", err)
			}
			if got := paperIDs(papers); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ListPapers() ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSamplePapers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	papers, err := db.SamplePapers(ctx, 1)
	if err != nil {
		t.Fatalf("SamplePapers failed: %v", err)
	}
	// One per cluster in cluster order; unknown years sort after known ones.
	if got, want := paperIDs(papers), []int64{4, 1, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("SamplePapers(1) ids = %v, want %v", got, want)
	}

	papers, err = db.SamplePapers(ctx, 5)
	if err != nil {
		t.Fatalf("SamplePapers failed: %v", err)
	}
	if got, want := paperIDs(papers), []int64{4, 1, 3, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("SamplePapers(5) ids = %v, want %v", got, want)
	}
}

func TestTimelines(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	timelines, err := db.Timelines(ctx, 1990, 2025)
	if err != nil {
		t.Fatalf("Timelines failed: %v", err)
	}
	want := []paper.ClusterTimeline{{
		ID:     0,
		Label:  "Biology",
		Color:  paper.ClusterColor(0),
		Counts: []paper.YearCount{{Year: 2021, Count: 1}},
	}}
	if !reflect.DeepEqual(timelines, want) {
		t.Errorf("Timelines() = %+v, want %+v", timelines, want)
	}

	timelines, err = db.Timelines(ctx, 2022, 2025)
	if err != nil {
		t.Fatalf("Timelines failed: %v", err)
	}
	if len(timelines) != 0 {
		t.Errorf("expected no timelines outside the year range, got %+v", timelines)
	}
}
