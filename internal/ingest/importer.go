// Package ingest builds the papers table from the scraped parquet dump.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/laion/papermap/internal/metrics"
	"github.com/laion/papermap/internal/paper"
)

// readBatch is the number of parquet rows decoded per Read call.
const readBatch = 1024

// ErrInputNotFound is returned when the parquet file does not exist.
var ErrInputNotFound = errors.New("input file not found")

// Row is the subset of the source parquet schema the importer reads.
// Columns absent from a file decode as nil.
type Row struct {
	Summarization *string  `parquet:"summarization"`
	X             *float64 `parquet:"x"`
	Y             *float64 `parquet:"y"`
	Z             *float64 `parquet:"z"`
	ClusterID     *int64   `parquet:"cluster_id"`
	ClusterLabel  *string  `parquet:"cluster_label"`
}

// Writer replaces the contents of the papers table.
type Writer interface {
	ReplacePapers(ctx context.Context, papers []paper.Paper) (int, error)
}

// Options configures an import.
type Options struct {
	// Limit reads only the first Limit rows of the file. Zero reads all.
	Limit int
}

// ImportStats summarizes an import. NonScientific counts rows whose
// summarization failed to parse or was not classified as scientific text.
type ImportStats struct {
	Read            int `json:"rows_read"`
	NoSummarization int `json:"no_summarization"`
	NonScientific   int `json:"non_scientific"`
	Retained        int `json:"retained"`
}

// Importer loads a parquet dump into storage.
type Importer struct {
	writer Writer
	opts   Options
}

// NewImporter creates an importer writing through w.
func NewImporter(w Writer, opts Options) *Importer {
	return &Importer{writer: w, opts: opts}
}

// ImportFile reads the parquet file at path and replaces the papers table.
func (im *Importer) ImportFile(ctx context.Context, path string) (*ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	return im.Import(ctx, f, info.Size())
}

// Import reads a parquet stream of the given size and replaces the papers
// table with the retained rows.
func (im *Importer) Import(ctx context.Context, r io.ReaderAt, size int64) (*ImportStats, error) {
	papers, stats, err := ReadPapers(ctx, r, size, im.opts.Limit)
	if err != nil {
		return nil, err
	}

	if _, err := im.writer.ReplacePapers(ctx, papers); err != nil {
		return nil, fmt.Errorf("writing papers: %w", err)
	}
	return stats, nil
}

// ReadPapers decodes the parquet stream and returns the retained papers.
// A paper's id is its row ordinal in the file, counted before filtering.
func ReadPapers(ctx context.Context, r io.ReaderAt, size int64, limit int) ([]paper.Paper, *ImportStats, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("opening parquet: %w", err)
	}

	pr := parquet.NewGenericReader[Row](pf)
	defer pr.Close()

	stats := &ImportStats{}
	papers := make([]paper.Paper, 0)
	buf := make([]Row, readBatch)

	var ordinal int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		want := len(buf)
		if limit > 0 && limit-stats.Read < want {
			want = limit - stats.Read
		}
		if want == 0 {
			break
		}

		// Retained papers keep the decoded pointers, so every Read
		// must allocate fresh ones.
		clear(buf[:want])
		n, err := pr.Read(buf[:want])
		for i := 0; i < n; i++ {
			if p, ok := convertRow(ordinal, buf[i], stats); ok {
				papers = append(papers, p)
			}
			ordinal++
			stats.Read++
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}

	metrics.ImportRowsTotal.WithLabelValues("retained").Add(float64(stats.Retained))
	metrics.ImportRowsTotal.WithLabelValues("no_summarization").Add(float64(stats.NoSummarization))
	metrics.ImportRowsTotal.WithLabelValues("non_scientific").Add(float64(stats.NonScientific))

	return papers, stats, nil
}

func convertRow(id int64, row Row, stats *ImportStats) (paper.Paper, bool) {
	if row.Summarization == nil {
		stats.NoSummarization++
		return paper.Paper{}, false
	}

	ex, ok := ParseSummarization(*row.Summarization)
	if !ok {
		stats.NonScientific++
		return paper.Paper{}, false
	}
	stats.Retained++

	classification := ex.Classification
	return paper.Paper{
		ID:              id,
		Title:           ex.Title,
		Summarization:   row.Summarization,
		X:               row.X,
		Y:               row.Y,
		Z:               row.Z,
		ClusterID:       row.ClusterID,
		ClusterLabel:    row.ClusterLabel,
		FieldSubfield:   ex.FieldSubfield,
		PublicationYear: ex.PublicationYear,
		Classification:  &classification,
	}, true
}
