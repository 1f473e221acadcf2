// Package storage provides the SQLite-backed papers store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// Errors returned by storage operations.
var (
	ErrDatabaseNotFound   = errors.New("database not found")
	ErrUnreadableDatabase = errors.New("database unreadable")
	ErrMissingColumns     = errors.New("papers table is missing required columns")
	ErrPaperNotFound      = errors.New("paper not found")
	ErrNoNeighbors        = errors.New("nearest neighbors not precomputed for paper")
)

const (
	// PapersTable is the table holding one row per paper.
	PapersTable = "papers"

	// NearestColumn holds the JSON-encoded neighbor id list.
	NearestColumn = "nearest_paper_ids"

	// NearestIndex is the partial index over rows with a neighbor list.
	NearestIndex = "idx_papers_nearest"
)

// requiredPointColumns must exist for coordinates to be loaded.
var requiredPointColumns = []string{"id", "x", "y"}

// DB wraps a SQLite database connection.
type DB struct {
	db      *sql.DB
	columns map[string]bool // columns of the papers table
}

// Open opens an existing SQLite database at the given path without
// changing it. Returns ErrDatabaseNotFound if the file does not exist and
// ErrUnreadableDatabase if it is not a readable SQLite database.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, path)
		}
		return nil, fmt.Errorf("checking database: %w", err)
	}
	return openSQLite(path)
}

// EnsureNearestColumn adds the nearest_paper_ids column to a papers table
// from before neighbor precomputation. It is a no-op when the column exists.
func (d *DB) EnsureNearestColumn(ctx context.Context) error {
	if err := d.checkColumns("id"); err != nil {
		return err
	}
	if d.columns[NearestColumn] {
		return nil
	}
	if _, err := d.db.ExecContext(ctx, `ALTER TABLE `+PapersTable+` ADD COLUMN `+NearestColumn+` TEXT`); err != nil {
		return fmt.Errorf("adding %s column: %w", NearestColumn, err)
	}
	return d.loadColumns()
}

// Create opens or creates a SQLite database at the given path and makes
// sure the papers schema exists.
func Create(path string) (*DB, error) {
	d, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	if err := createSchema(d.db); err != nil {
		d.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := d.loadColumns(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadableDatabase, path, err)
	}

	d := &DB{db: db}
	if err := d.loadColumns(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadableDatabase, path, err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the papers table if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS papers (
			id INTEGER PRIMARY KEY,
			title TEXT,
			summarization TEXT,
			x REAL,
			y REAL,
			z REAL,
			cluster_id INTEGER,
			cluster_label TEXT,
			claude_label TEXT,
			field_subfield TEXT,
			publication_year INTEGER,
			classification TEXT,
			nearest_paper_ids TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_papers_cluster ON papers(cluster_id) WHERE cluster_id IS NOT NULL;
	`

	_, err := db.Exec(schema)
	return err
}

// loadColumns refreshes the cached column set of the papers table.
// A missing table leaves the set empty.
func (d *DB) loadColumns() error {
	rows, err := d.db.Query(`PRAGMA table_info(` + PapersTable + `)`)
	if err != nil {
		return fmt.Errorf("reading papers schema: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defValue, &pk); err != nil {
			return fmt.Errorf("scanning papers schema: %w", err)
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading papers schema: %w", err)
	}

	d.columns = cols
	return nil
}

func (d *DB) hasTable() bool {
	return len(d.columns) > 0
}

// checkColumns returns ErrMissingColumns naming any absent column.
func (d *DB) checkColumns(names ...string) error {
	if !d.hasTable() {
		return fmt.Errorf("%w: table %s does not exist", ErrMissingColumns, PapersTable)
	}
	var missing []string
	for _, name := range names {
		if !d.columns[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return nil
}

// column returns name if the papers table has it, else a NULL placeholder
// aliased to name, so queries work against partially built databases.
func (d *DB) column(name string) string {
	if d.columns[name] {
		return name
	}
	return "NULL AS " + name
}

// Stats holds row counts for the papers table.
type Stats struct {
	TotalPapers           int `json:"total_papers"`
	PapersWithCoordinates int `json:"papers_with_coordinates"`
	NumClusters           int `json:"num_clusters"`
	PapersWithNearest     int `json:"papers_with_nearest"`
}

// Stats returns overall row counts.
func (d *DB) Stats(ctx context.Context) (*Stats, error) {
	if err := d.checkColumns("id"); err != nil {
		return nil, err
	}

	var s Stats
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&s.TotalPapers); err != nil {
		return nil, fmt.Errorf("counting papers: %w", err)
	}
	if d.columns["x"] {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers WHERE x IS NOT NULL`).Scan(&s.PapersWithCoordinates); err != nil {
			return nil, fmt.Errorf("counting papers with coordinates: %w", err)
		}
	}
	if d.columns["cluster_id"] {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT cluster_id) FROM papers WHERE cluster_id IS NOT NULL`).Scan(&s.NumClusters); err != nil {
			return nil, fmt.Errorf("counting clusters: %w", err)
		}
	}
	if d.columns[NearestColumn] {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers WHERE nearest_paper_ids IS NOT NULL`).Scan(&s.PapersWithNearest); err != nil {
			return nil, fmt.Errorf("counting papers with neighbors: %w", err)
		}
	}
	return &s, nil
}
