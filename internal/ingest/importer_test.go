package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laion/papermap/internal/paper"
	"github.com/laion/papermap/internal/storage"
)

func strp(s string) *string   { return &s }
func f64p(f float64) *float64 { return &f }
func i64p(i int64) *int64     { return &i }

const (
	fullText    = `{"article_classification":"SCIENTIFIC_TEXT","summary":{"title":"Deep kernels","publication_year":2020,"field_subfield":"CS / ML"}}`
	partialText = `{"article_classification":"PARTIAL_SCIENTIFIC_TEXT","summary":{"title":"Tidal flows","publication_year":"1998"}}`
	nonSci      = `{"article_classification":"NON_SCIENTIFIC_TEXT"}`
)

// fixtureRows has one row per filtering outcome.
func fixtureRows() []Row {
	return []Row{
		{Summarization: strp(fullText), X: f64p(1), Y: f64p(2), Z: f64p(3), ClusterID: i64p(4), ClusterLabel: strp("ML")},
		{Summarization: nil, X: f64p(0), Y: f64p(0)},
		{Summarization: strp(nonSci)},
		{Summarization: strp("not json")},
		{Summarization: strp(partialText), X: f64p(5), Y: f64p(6)},
	}
}

func writeParquet(t *testing.T, rows []Row) *bytes.Reader {
	t.Helper()

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[Row](&buf)
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return bytes.NewReader(buf.Bytes())
}

type memWriter struct {
	papers []paper.Paper
	err    error
}

func (m *memWriter) ReplacePapers(_ context.Context, papers []paper.Paper) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.papers = papers
	return len(papers), nil
}

func TestReadPapers(t *testing.T) {
	r := writeParquet(t, fixtureRows())

	papers, stats, err := ReadPapers(context.Background(), r, r.Size(), 0)
	require.NoError(t, err)

	assert.Equal(t, &ImportStats{Read: 5, NoSummarization: 1, NonScientific: 2, Retained: 2}, stats)
	require.Len(t, papers, 2)

	first := papers[0]
	assert.Equal(t, int64(0), first.ID)
	assert.Equal(t, "Deep kernels", *first.Title)
	assert.Equal(t, int64(2020), *first.PublicationYear)
	assert.Equal(t, "CS / ML", *first.FieldSubfield)
	assert.Equal(t, paper.ClassFullText, *first.Classification)
	assert.Equal(t, 3.0, *first.Z)
	assert.Equal(t, int64(4), *first.ClusterID)
	assert.Equal(t, "ML", *first.ClusterLabel)
	assert.Equal(t, fullText, *first.Summarization)

	// Ids are row ordinals counted before filtering.
	second := papers[1]
	assert.Equal(t, int64(4), second.ID)
	assert.Equal(t, int64(1998), *second.PublicationYear)
	assert.Equal(t, paper.ClassPartialText, *second.Classification)
	assert.Nil(t, second.FieldSubfield)
	assert.Nil(t, second.Z)
}

func TestReadPapers_Limit(t *testing.T) {
	r := writeParquet(t, fixtureRows())

	papers, stats, err := ReadPapers(context.Background(), r, r.Size(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Read)
	assert.Equal(t, 1, stats.Retained)
	require.Len(t, papers, 1)
	assert.Equal(t, int64(0), papers[0].ID)
}

func TestReadPapers_ManyBatches(t *testing.T) {
	rows := make([]Row, readBatch*2+10)
	for i := range rows {
		rows[i] = Row{Summarization: strp(fullText), X: f64p(float64(i)), Y: f64p(0)}
	}
	r := writeParquet(t, rows)

	papers, stats, err := ReadPapers(context.Background(), r, r.Size(), 0)
	require.NoError(t, err)
	assert.Equal(t, len(rows), stats.Retained)
	require.Len(t, papers, len(rows))
	for i, p := range papers {
		require.Equal(t, int64(i), p.ID)
		require.Equal(t, float64(i), *p.X)
	}
}

func TestReadPapers_NotParquet(t *testing.T) {
	r := bytes.NewReader([]byte("definitely not parquet"))
	_, _, err := ReadPapers(context.Background(), r, r.Size(), 0)
	assert.Error(t, err)
}

func TestReadPapers_Cancelled(t *testing.T) {
	r := writeParquet(t, fixtureRows())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ReadPapers(ctx, r, r.Size(), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImport_WriteFailure(t *testing.T) {
	r := writeParquet(t, fixtureRows())
	boom := errors.New("disk full")

	_, err := NewImporter(&memWriter{err: boom}, Options{}).Import(context.Background(), r, r.Size())
	assert.ErrorIs(t, err, boom)
}

func TestImportFile_NotFound(t *testing.T) {
	_, err := NewImporter(&memWriter{}, Options{}).ImportFile(context.Background(), filepath.Join(t.TempDir(), "full.parquet"))
	assert.ErrorIs(t, err, ErrInputNotFound)
}

func TestImportFile_IntoSQLite(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "full.parquet")
	r := writeParquet(t, fixtureRows())
	data := make([]byte, r.Size())
	_, err := r.ReadAt(data, 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(input, data, 0644))

	db, err := storage.Create(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	defer db.Close()

	stats, err := NewImporter(db, Options{}).ImportFile(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Retained)

	p, err := db.GetByID(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "Tidal flows", *p.Title)

	_, err = db.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrPaperNotFound)

	points, err := db.LoadPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 4}, points.IDs)
}
