package pipeline

// Stage is the orchestrator's position in a run.
type Stage string

// Stages in the order a run passes through them. A run that fails after
// crawling returns to StageIdle.
const (
	StageIdle        Stage = "idle"
	StageCrawling    Stage = "crawling"
	StageNormalizing Stage = "normalizing"
	StageAggregated  Stage = "aggregated"
	StageExporting   Stage = "exporting"
	StageManifested  Stage = "manifested"
	StageDone        Stage = "done"
)
