package storage

import (
	"context"
	"fmt"

	"github.com/laion/papermap/internal/paper"
)

// LoadPoints returns every paper with non-null x and y, ordered by id.
// A null z, or a table without a z column, loads as 0.
func (d *DB) LoadPoints(ctx context.Context) (paper.PointSet, error) {
	if err := d.checkColumns(requiredPointColumns...); err != nil {
		return paper.PointSet{}, err
	}

	zExpr := "0.0"
	if d.columns["z"] {
		zExpr = "COALESCE(z, 0.0)"
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, x, y, `+zExpr+`
		FROM papers
		WHERE x IS NOT NULL AND y IS NOT NULL
		ORDER BY id`)
	if err != nil {
		return paper.PointSet{}, fmt.Errorf("querying coordinates: %w", err)
	}
	defer rows.Close()

	var ps paper.PointSet
	for rows.Next() {
		var (
			id      int64
			x, y, z float64
		)
		if err := rows.Scan(&id, &x, &y, &z); err != nil {
			return paper.PointSet{}, fmt.Errorf("scanning coordinates: %w", err)
		}
		ps.IDs = append(ps.IDs, id)
		ps.Coords = append(ps.Coords, paper.Coord{float32(x), float32(y), float32(z)})
	}
	if err := rows.Err(); err != nil {
		return paper.PointSet{}, fmt.Errorf("reading coordinates: %w", err)
	}

	return ps, nil
}
