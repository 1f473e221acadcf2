// Package nearest precomputes exact k-nearest-neighbor lists for points in
// the 3D projection space.
package nearest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/laion/papermap/internal/metrics"
	"github.com/laion/papermap/internal/paper"
	"golang.org/x/sync/errgroup"
)

// Errors returned by the neighbor computation and pipeline.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrDataUnavailable  = errors.New("point data unavailable")
	ErrResultIncomplete = errors.New("neighbor result does not match point set")
)

const (
	// DefaultK is the number of neighbors kept per point.
	DefaultK = 15

	// DefaultBatchSize is the number of query points per distance batch.
	// Peak scratch memory is BatchSize*N float32 values.
	DefaultBatchSize = 1000

	// DefaultCommitSize is the number of rows written per transaction.
	DefaultCommitSize = 1000
)

// Options controls the neighbor computation.
type Options struct {
	K          int // neighbors per point
	BatchSize  int // query rows per distance batch
	CommitSize int // rows per write transaction (pipeline only)
	Workers    int // goroutines per batch; <= 1 runs inline
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		K:          DefaultK,
		BatchSize:  DefaultBatchSize,
		CommitSize: DefaultCommitSize,
		Workers:    1,
	}
}

// validate checks the options needed by Compute.
func (o Options) validate() error {
	if o.K < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidArgument, o.K)
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrInvalidArgument, o.BatchSize)
	}
	return nil
}

// Result holds one neighbor list per point, in point-set order.
// Neighbors[i] belongs to IDs[i] and is never nil.
type Result struct {
	IDs       []int64
	Neighbors [][]int64
}

// Len returns the number of points in the result.
func (r *Result) Len() int {
	return len(r.IDs)
}

// Map returns the identifier -> neighbor list view of the result.
func (r *Result) Map() map[int64][]int64 {
	m := make(map[int64][]int64, len(r.IDs))
	for i, id := range r.IDs {
		m[id] = r.Neighbors[i]
	}
	return m
}

// Compute returns the k nearest neighbors of every point by Euclidean
// distance, excluding the point itself. Ties keep load order.
//
// Query points are processed in contiguous batches of opts.BatchSize rows;
// each batch fills a BatchSize x N matrix of squared distances, so peak
// memory is bounded by the batch, not N*N. Results do not depend on the
// batch size or the number of workers.
func Compute(ctx context.Context, points paper.PointSet, opts Options, progress ProgressReporter) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(points.IDs) != len(points.Coords) {
		return nil, fmt.Errorf("%w: %d ids for %d coordinates", ErrInvalidArgument, len(points.IDs), len(points.Coords))
	}

	n := points.Len()
	res := &Result{
		IDs:       points.IDs,
		Neighbors: make([][]int64, n),
	}
	if n == 0 {
		return res, nil
	}

	batchRows := min(opts.BatchSize, n)
	dist := make([]float32, batchRows*n)
	totalBatches := (n + opts.BatchSize - 1) / opts.BatchSize

	for b, start := 0, 0; start < n; b, start = b+1, start+opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchStart := time.Now()
		end := min(start+opts.BatchSize, n)
		if err := computeBatch(ctx, points, res, dist, start, end, opts); err != nil {
			return nil, err
		}
		metrics.NearestBatchDuration.Observe(time.Since(batchStart).Seconds())

		if progress != nil {
			progress.OnProgress(StageCompute, b+1, totalBatches)
		}
	}

	return res, nil
}

// computeBatch fills the neighbor lists for query rows [start, end).
func computeBatch(ctx context.Context, points paper.PointSet, res *Result, dist []float32, start, end int, opts Options) error {
	n := points.Len()
	rows := end - start

	if opts.Workers <= 1 || rows == 1 {
		sel := newSelector(opts.K)
		for r := 0; r < rows; r++ {
			row := dist[r*n : (r+1)*n]
			fillDistances(row, points.Coords[start+r], points.Coords)
			res.Neighbors[start+r] = sel.selectRow(row, start+r, points.IDs)
		}
		return nil
	}

	// Each worker owns a contiguous range of rows and writes only its own
	// slots of dist and res.Neighbors.
	workers := min(opts.Workers, rows)
	chunk := (rows + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < rows; lo += chunk {
		lo := lo // per-iteration copy; module targets go 1.21 loop semantics
		hi := min(lo+chunk, rows)
		g.Go(func() error {
			sel := newSelector(opts.K)
			for r := lo; r < hi; r++ {
				if r%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				row := dist[r*n : (r+1)*n]
				fillDistances(row, points.Coords[start+r], points.Coords)
				res.Neighbors[start+r] = sel.selectRow(row, start+r, points.IDs)
			}
			return nil
		})
	}
	return g.Wait()
}

// fillDistances writes the squared Euclidean distance from q to every
// coordinate into row. The float32 conversions keep the compiler from
// fusing multiply-adds, so every platform produces the same bits.
func fillDistances(row []float32, q paper.Coord, coords []paper.Coord) {
	for j := range coords {
		dx := q[0] - coords[j][0]
		dy := q[1] - coords[j][1]
		dz := q[2] - coords[j][2]
		row[j] = float32(dx*dx) + float32(dy*dy) + float32(dz*dz)
	}
}

// less orders candidates the way a stable ascending sort would:
// by distance, then by index, with NaN after every number.
func less(da float32, ia int, db float32, ib int) bool {
	aNaN, bNaN := isNaN(da), isNaN(db)
	switch {
	case aNaN && bNaN:
		return ia < ib
	case aNaN:
		return false
	case bNaN:
		return true
	case da != db:
		return da < db
	default:
		return ia < ib
	}
}

func isNaN(f float32) bool {
	return math.IsNaN(float64(f))
}

// selector keeps the k best candidates of one row in a sorted buffer.
// This is a partial sort: the first k entries of a stable full sort of the
// row, self removed, without sorting all N candidates.
type selector struct {
	k    int
	idx  []int
	dist []float32
}

func newSelector(k int) *selector {
	return &selector{
		k:    k,
		idx:  make([]int, 0, k),
		dist: make([]float32, 0, k),
	}
}

// selectRow returns the ids of the k nearest candidates in row, skipping self.
func (s *selector) selectRow(row []float32, self int, ids []int64) []int64 {
	s.idx = s.idx[:0]
	s.dist = s.dist[:0]

	for j, d := range row {
		if j == self {
			continue
		}
		if len(s.idx) == s.k && !less(d, j, s.dist[s.k-1], s.idx[s.k-1]) {
			continue
		}
		s.insert(d, j)
	}

	out := make([]int64, len(s.idx))
	for i, j := range s.idx {
		out[i] = ids[j]
	}
	return out
}

// insert places (d, j) in order, dropping the worst entry when full.
func (s *selector) insert(d float32, j int) {
	// Candidates arrive in increasing index order, so an equal distance
	// always lands after existing entries.
	pos := len(s.idx)
	for pos > 0 && less(d, j, s.dist[pos-1], s.idx[pos-1]) {
		pos--
	}

	if len(s.idx) < s.k {
		s.idx = append(s.idx, 0)
		s.dist = append(s.dist, 0)
	}
	copy(s.idx[pos+1:], s.idx[pos:len(s.idx)-1])
	copy(s.dist[pos+1:], s.dist[pos:len(s.dist)-1])
	s.idx[pos] = j
	s.dist[pos] = d
}
