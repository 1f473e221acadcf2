package nearest

import (
	"context"
	"fmt"
	"time"

	"github.com/laion/papermap/internal/metrics"
	"github.com/laion/papermap/internal/paper"
)

// Store is the storage the pipeline reads points from and writes
// neighbor lists to.
type Store interface {
	// LoadPoints returns every point with a position, ordered by id.
	LoadPoints(ctx context.Context) (paper.PointSet, error)

	// SaveNeighbors overwrites the stored neighbor list of ids[i] with
	// neighbors[i], committing every commitSize rows.
	SaveNeighbors(ctx context.Context, ids []int64, neighbors [][]int64, commitSize int, progress func(done, total int)) error

	// RebuildNearestIndex drops and recreates the neighbor lookup index.
	RebuildNearestIndex(ctx context.Context) error
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	Points    int
	K         int
	BatchSize int
	Batches   int
	Empty     bool // no point had a position; nothing was written

	LoadDuration    time.Duration
	ComputeDuration time.Duration
	PersistDuration time.Duration
	IndexDuration   time.Duration
	Duration        time.Duration
}

// Pipeline loads points, computes neighbor lists, persists them and
// rebuilds the lookup index, strictly in that order.
type Pipeline struct {
	store    Store
	opts     Options
	progress ProgressReporter
}

// NewPipeline creates a pipeline over store.
func NewPipeline(store Store, opts Options) *Pipeline {
	return &Pipeline{
		store: store,
		opts:  opts,
	}
}

// SetProgressReporter sets the progress reporter for the pipeline.
func (p *Pipeline) SetProgressReporter(reporter ProgressReporter) {
	p.progress = reporter
}

// Run executes one full pass. An empty point set is a successful no-op
// reported through RunStats.Empty. Any failure aborts the run; rows
// committed before the failure keep their new values.
func (p *Pipeline) Run(ctx context.Context) (*RunStats, error) {
	stats, err := p.run(ctx)
	switch {
	case err != nil:
		metrics.NearestRunsTotal.WithLabelValues("error").Inc()
	case stats.Empty:
		metrics.NearestRunsTotal.WithLabelValues("empty").Inc()
	default:
		metrics.NearestRunsTotal.WithLabelValues("success").Inc()
	}
	return stats, err
}

func (p *Pipeline) run(ctx context.Context) (*RunStats, error) {
	if err := p.opts.validate(); err != nil {
		return nil, err
	}
	if p.opts.CommitSize < 1 {
		return nil, fmt.Errorf("%w: commit size must be >= 1, got %d", ErrInvalidArgument, p.opts.CommitSize)
	}

	startTime := time.Now()
	stats := &RunStats{
		K:         p.opts.K,
		BatchSize: p.opts.BatchSize,
	}

	// Load
	stageStart := time.Now()
	points, err := p.store.LoadPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	stats.LoadDuration = p.observeStage(StageLoad, stageStart)
	stats.Points = points.Len()
	metrics.NearestPointsProcessed.Set(float64(stats.Points))
	p.report(StageLoad, stats.Points, stats.Points)

	if stats.Points == 0 {
		stats.Empty = true
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	// Compute
	stageStart = time.Now()
	res, err := Compute(ctx, points, p.opts, p.progress)
	if err != nil {
		return nil, fmt.Errorf("computing neighbors: %w", err)
	}
	stats.ComputeDuration = p.observeStage(StageCompute, stageStart)
	stats.Batches = (stats.Points + p.opts.BatchSize - 1) / p.opts.BatchSize

	// Persist
	stageStart = time.Now()
	if err := p.persist(ctx, res); err != nil {
		return nil, err
	}
	stats.PersistDuration = p.observeStage(StagePersist, stageStart)

	// Index
	stageStart = time.Now()
	if err := p.store.RebuildNearestIndex(ctx); err != nil {
		return nil, fmt.Errorf("rebuilding nearest index: %w", err)
	}
	stats.IndexDuration = p.observeStage(StageIndex, stageStart)
	p.report(StageIndex, 1, 1)

	stats.Duration = time.Since(startTime)
	return stats, nil
}

func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	if len(res.Neighbors) != len(res.IDs) {
		return fmt.Errorf("%w: %d lists for %d ids", ErrResultIncomplete, len(res.Neighbors), len(res.IDs))
	}

	var onRows func(done, total int)
	if p.progress != nil {
		onRows = func(done, total int) {
			p.progress.OnProgress(StagePersist, done, total)
		}
	}

	if err := p.store.SaveNeighbors(ctx, res.IDs, res.Neighbors, p.opts.CommitSize, onRows); err != nil {
		return fmt.Errorf("saving neighbors: %w", err)
	}
	metrics.NearestRowsPersisted.Add(float64(res.Len()))
	return nil
}

func (p *Pipeline) report(stage Stage, current, total int) {
	if p.progress != nil {
		p.progress.OnProgress(stage, current, total)
	}
}

func (p *Pipeline) observeStage(stage Stage, start time.Time) time.Duration {
	d := time.Since(start)
	metrics.NearestStageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	return d
}
