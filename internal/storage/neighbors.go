package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveNeighbors overwrites nearest_paper_ids for each ids[i] with the JSON
// array neighbors[i], adding the column first if the table lacks it. Rows
// are written in order, commitSize rows per transaction; batches committed
// before an error stay committed.
func (d *DB) SaveNeighbors(ctx context.Context, ids []int64, neighbors [][]int64, commitSize int, progress func(done, total int)) error {
	if len(ids) != len(neighbors) {
		return fmt.Errorf("saving neighbors: %d ids for %d lists", len(ids), len(neighbors))
	}
	if commitSize < 1 {
		return fmt.Errorf("saving neighbors: commit size must be >= 1, got %d", commitSize)
	}
	if err := d.EnsureNearestColumn(ctx); err != nil {
		return err
	}

	total := len(ids)
	for start := 0; start < total; start += commitSize {
		end := min(start+commitSize, total)
		if err := d.saveNeighborBatch(ctx, ids[start:end], neighbors[start:end]); err != nil {
			return err
		}
		if progress != nil {
			progress(end, total)
		}
	}
	return nil
}

func (d *DB) saveNeighborBatch(ctx context.Context, ids []int64, neighbors [][]int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE papers SET nearest_paper_ids = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing neighbor update: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		encoded, err := encodeNeighbors(neighbors[i])
		if err != nil {
			return fmt.Errorf("encoding neighbors for %d: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, encoded, id); err != nil {
			return fmt.Errorf("updating neighbors for %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing neighbor batch: %w", err)
	}
	return nil
}

// encodeNeighbors returns the compact JSON form, "[]" for an empty list.
func encodeNeighbors(list []int64) (string, error) {
	if list == nil {
		list = []int64{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RebuildNearestIndex drops and recreates the partial index over papers
// that have a neighbor list.
func (d *DB) RebuildNearestIndex(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DROP INDEX IF EXISTS `+NearestIndex); err != nil {
		return fmt.Errorf("dropping %s: %w", NearestIndex, err)
	}
	if _, err := d.db.ExecContext(ctx, `
		CREATE INDEX `+NearestIndex+`
		ON papers(id)
		WHERE nearest_paper_ids IS NOT NULL`); err != nil {
		return fmt.Errorf("creating %s: %w", NearestIndex, err)
	}
	return nil
}

// HasNearestIndex reports whether the neighbor index exists.
func (d *DB) HasNearestIndex(ctx context.Context) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, NearestIndex).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", NearestIndex, err)
	}
	return n > 0, nil
}

// NearestIDs returns the stored neighbor ids of a paper, closest first.
// Returns ErrPaperNotFound if the paper does not exist and ErrNoNeighbors
// if its list has not been computed.
func (d *DB) NearestIDs(ctx context.Context, id int64) ([]int64, error) {
	if err := d.checkColumns("id"); err != nil {
		return nil, err
	}

	var raw sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT `+d.column(NearestColumn)+` FROM papers WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %d", ErrPaperNotFound, id)
		}
		return nil, fmt.Errorf("reading neighbors for %d: %w", id, err)
	}
	if !raw.Valid {
		return nil, fmt.Errorf("%w: %d", ErrNoNeighbors, id)
	}

	var ids []int64
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil {
		return nil, fmt.Errorf("parsing neighbors JSON for %d: %w", id, err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}
