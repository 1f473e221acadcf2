package nearest

// Stage identifies a step of the pipeline in progress reports.
type Stage string

// Pipeline stages, in execution order.
const (
	StageLoad    Stage = "load"
	StageCompute Stage = "compute"
	StagePersist Stage = "persist"
	StageIndex   Stage = "index"
)

// ProgressReporter receives progress updates while the pipeline runs.
type ProgressReporter interface {
	// OnProgress is called with the current position within a stage.
	// For StageCompute the unit is batches, for StagePersist it is rows.
	OnProgress(stage Stage, current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(stage Stage, current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(stage Stage, current, total int) {
	f(stage, current, total)
}
