package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/laion/papermap/internal/paper"
)

// paperFields builds the SELECT list for a paper row. Columns the table
// does not have yet (before clustering or labeling) read as NULL.
func (d *DB) paperFields() string {
	label := d.column("cluster_label")
	if d.columns["claude_label"] && d.columns["cluster_label"] {
		label = "COALESCE(claude_label, cluster_label) AS cluster_label"
	}
	return strings.Join([]string{
		"id",
		d.column("title"),
		d.column("summarization"),
		d.column("x"),
		d.column("y"),
		d.column("z"),
		d.column("cluster_id"),
		label,
		d.column("field_subfield"),
		d.column("publication_year"),
		d.column("classification"),
	}, ", ")
}

// GetByID retrieves a paper by its id.
func (d *DB) GetByID(ctx context.Context, id int64) (*paper.Paper, error) {
	if err := d.checkColumns("id"); err != nil {
		return nil, err
	}

	row := d.db.QueryRowContext(ctx, `SELECT `+d.paperFields()+` FROM papers WHERE id = ?`, id)
	p, err := scanPaper(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %d", ErrPaperNotFound, id)
		}
		return nil, fmt.Errorf("reading paper %d: %w", id, err)
	}
	return p, nil
}

// GetByIDs retrieves papers in the order of ids. Ids with no row are
// skipped.
func (d *DB) GetByIDs(ctx context.Context, ids []int64) ([]paper.Paper, error) {
	if len(ids) == 0 {
		return []paper.Paper{}, nil
	}
	if err := d.checkColumns("id"); err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+d.paperFields()+` FROM papers WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("reading papers: %w", err)
	}
	defer rows.Close()

	papers, err := scanPapers(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]paper.Paper, len(papers))
	for _, p := range papers {
		byID[p.ID] = p
	}
	ordered := make([]paper.Paper, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// Search returns positioned papers whose title or field matches query
// as a substring, ordered by id.
func (d *DB) Search(ctx context.Context, query string, limit int) ([]paper.Paper, error) {
	if err := d.checkColumns(requiredPointColumns...); err != nil {
		return nil, err
	}

	var conds []string
	var args []interface{}
	pattern := "%" + query + "%"
	if d.columns["title"] {
		conds = append(conds, "title LIKE ?")
		args = append(args, pattern)
	}
	if d.columns["field_subfield"] {
		conds = append(conds, "field_subfield LIKE ?")
		args = append(args, pattern)
	}
	if len(conds) == 0 {
		return []paper.Paper{}, nil
	}
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+d.paperFields()+`
		FROM papers
		WHERE x IS NOT NULL AND y IS NOT NULL
			AND (`+strings.Join(conds, " OR ")+`)
		ORDER BY id
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching papers: %w", err)
	}
	defer rows.Close()

	return scanPapers(rows)
}

// ListOptions filters ListPapers.
type ListOptions struct {
	ClusterID *int64 // only this cluster when set
	Limit     int    // at most this many papers; < 0 for no limit
}

// ListPapers returns positioned papers ordered by id.
func (d *DB) ListPapers(ctx context.Context, opts ListOptions) ([]paper.Paper, error) {
	if err := d.checkColumns(requiredPointColumns...); err != nil {
		return nil, err
	}

	query := `SELECT ` + d.paperFields() + ` FROM papers WHERE x IS NOT NULL AND y IS NOT NULL`
	var args []interface{}
	if opts.ClusterID != nil {
		if !d.columns["cluster_id"] {
			return []paper.Paper{}, nil
		}
		query += ` AND cluster_id = ?`
		args = append(args, *opts.ClusterID)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	defer rows.Close()

	return scanPapers(rows)
}

// maxSampledClusters bounds the rows read by SamplePapers.
const maxSampledClusters = 100

// SamplePapers returns up to perCluster of the most recently published
// positioned papers of each cluster, grouped by ascending cluster id.
func (d *DB) SamplePapers(ctx context.Context, perCluster int) ([]paper.Paper, error) {
	if err := d.checkColumns("id", "x", "y", "cluster_id"); err != nil {
		return nil, err
	}
	if perCluster <= 0 {
		return []paper.Paper{}, nil
	}

	order := "cluster_id, id DESC"
	if d.columns["publication_year"] {
		order = "cluster_id, publication_year DESC, id DESC"
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+d.paperFields()+`
		FROM papers
		WHERE x IS NOT NULL AND y IS NOT NULL AND cluster_id IS NOT NULL
		ORDER BY `+order+`
		LIMIT ?`, perCluster*maxSampledClusters)
	if err != nil {
		return nil, fmt.Errorf("sampling papers: %w", err)
	}
	defer rows.Close()

	all, err := scanPapers(rows)
	if err != nil {
		return nil, err
	}

	sampled := make([]paper.Paper, 0, len(all))
	taken := make(map[int64]int)
	for _, p := range all {
		cid := *p.ClusterID
		if taken[cid] < perCluster {
			taken[cid]++
			sampled = append(sampled, p)
		}
	}
	return sampled, nil
}

// Timelines returns per-year paper counts of each cluster for
// publication years in [minYear, maxYear], ordered by cluster and year.
func (d *DB) Timelines(ctx context.Context, minYear, maxYear int64) ([]paper.ClusterTimeline, error) {
	if err := d.checkColumns("id", "cluster_id", "publication_year"); err != nil {
		return nil, err
	}

	label := "cluster_label"
	switch {
	case d.columns["claude_label"] && d.columns["cluster_label"]:
		label = "COALESCE(claude_label, cluster_label)"
	case !d.columns["cluster_label"]:
		label = "NULL"
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT cluster_id, `+label+` AS label, publication_year, COUNT(*)
		FROM papers
		WHERE cluster_id IS NOT NULL
			AND publication_year IS NOT NULL
			AND publication_year >= ?
			AND publication_year <= ?
		GROUP BY cluster_id, label, publication_year
		ORDER BY cluster_id, publication_year`, minYear, maxYear)
	if err != nil {
		return nil, fmt.Errorf("reading cluster timelines: %w", err)
	}
	defer rows.Close()

	timelines := []paper.ClusterTimeline{}
	byCluster := make(map[int64]int)
	for rows.Next() {
		var (
			cid   int64
			label sql.NullString
			yc    paper.YearCount
		)
		if err := rows.Scan(&cid, &label, &yc.Year, &yc.Count); err != nil {
			return nil, fmt.Errorf("scanning cluster timeline: %w", err)
		}
		i, ok := byCluster[cid]
		if !ok {
			i = len(timelines)
			byCluster[cid] = i
			timelines = append(timelines, paper.ClusterTimeline{
				ID:     cid,
				Label:  label.String,
				Color:  paper.ClusterColor(cid),
				Counts: []paper.YearCount{},
			})
		}
		timelines[i].Counts = append(timelines[i].Counts, yc)
	}
	return timelines, rows.Err()
}

// Clusters returns per-cluster counts of positioned papers.
func (d *DB) Clusters(ctx context.Context) ([]paper.Cluster, error) {
	if err := d.checkColumns("id", "x", "cluster_id"); err != nil {
		return nil, err
	}

	label := "cluster_label"
	switch {
	case d.columns["claude_label"] && d.columns["cluster_label"]:
		label = "COALESCE(claude_label, cluster_label)"
	case !d.columns["cluster_label"]:
		label = "NULL"
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT cluster_id, `+label+` AS label, COUNT(*)
		FROM papers
		WHERE cluster_id IS NOT NULL AND x IS NOT NULL
		GROUP BY cluster_id, label
		ORDER BY cluster_id`)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	defer rows.Close()

	clusters := []paper.Cluster{}
	for rows.Next() {
		var (
			c     paper.Cluster
			label sql.NullString
		)
		if err := rows.Scan(&c.ID, &label, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		c.Label = label.String
		c.Color = paper.ClusterColor(c.ID)
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// ReplacePapers clears the papers table and inserts papers in a single
// transaction. Neighbor lists are cleared with the rows they belong to.
func (d *DB) ReplacePapers(ctx context.Context, papers []paper.Paper) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM papers`); err != nil {
		return 0, fmt.Errorf("clearing papers table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO papers (
			id, title, summarization, x, y, z,
			cluster_id, cluster_label, field_subfield,
			publication_year, classification
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing papers insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range papers {
		_, err := stmt.ExecContext(ctx,
			p.ID, p.Title, p.Summarization, p.X, p.Y, p.Z,
			p.ClusterID, p.ClusterLabel, p.FieldSubfield,
			p.PublicationYear, p.Classification,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting paper %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing papers: %w", err)
	}
	return len(papers), nil
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPaper(s scanner) (*paper.Paper, error) {
	var (
		p                           paper.Paper
		title, summarization, label sql.NullString
		field, classification       sql.NullString
		x, y, z                     sql.NullFloat64
		clusterID, publicationYear  sql.NullInt64
	)

	err := s.Scan(
		&p.ID, &title, &summarization, &x, &y, &z,
		&clusterID, &label, &field, &publicationYear, &classification,
	)
	if err != nil {
		return nil, err
	}

	p.Title = stringPtr(title)
	p.Summarization = stringPtr(summarization)
	p.X = floatPtr(x)
	p.Y = floatPtr(y)
	p.Z = floatPtr(z)
	p.ClusterID = intPtr(clusterID)
	p.ClusterLabel = stringPtr(label)
	p.FieldSubfield = stringPtr(field)
	p.PublicationYear = intPtr(publicationYear)
	p.Classification = stringPtr(classification)
	return &p, nil
}

func scanPapers(rows *sql.Rows) ([]paper.Paper, error) {
	papers := []paper.Paper{}
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning paper: %w", err)
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func intPtr(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}
