package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a run milestone.
type Stage string

// Run milestones in the order a healthy run emits them.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunStage     Stage = "RUN_STAGE"
	StageSourceStart  Stage = "SOURCE_START"
	StageSourceDone   Stage = "SOURCE_DONE"
	StageSourceError  Stage = "SOURCE_ERROR"
	StageShardWritten Stage = "SHARD_WRITTEN"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
)

// Event is one milestone of a pipeline run.
type Event struct {
	RunID uuid.UUID
	TS    time.Time
	Stage Stage
	// Source is the crawler identifier for SOURCE_* events.
	Source string
	// Domain is set on SOURCE_* and SHARD_WRITTEN events.
	Domain string
	// Shard is the release-relative path for SHARD_WRITTEN.
	Shard string
	// Records counts accepted records (SOURCE_DONE, SHARD_WRITTEN, RUN_DONE).
	Records int
	// Skipped and Rejected are only reported on SOURCE_DONE.
	Skipped  int
	Rejected int
	Bytes    int64
	Dur      time.Duration
	// Note carries error text for *_ERROR stages, the run status on RUN_DONE
	// and the new orchestrator stage on RUN_STAGE.
	Note string
}

// Validate rejects events sinks cannot interpret.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageRunStage:
		if e.Note == "" {
			return errors.New("run stage requires note")
		}
	case StageSourceStart, StageSourceDone, StageSourceError:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	case StageShardWritten:
		if e.Shard == "" {
			return errors.New("shard written requires shard path")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Bytes < 0 || e.Records < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}
