package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// Stage is the lifecycle point an Event reports.
type Stage string

// Chunk lifecycle stages.
const (
	StageChunkStart   Stage = "CHUNK_START"
	StageChunkDone    Stage = "CHUNK_DONE"
	StageChunkError   Stage = "CHUNK_ERROR"
	StageChunkSkipped Stage = "CHUNK_SKIPPED"
)

// Event is one milestone of one chunk of one batch.
type Event struct {
	BatchID string
	Chunk   int
	TS      time.Time
	Stage   Stage
	// Stats is set on terminal stages.
	Stats results.ChunkStats
	// Dur is the chunk's wall time on terminal stages.
	Dur time.Duration
	// Note carries the error text of CHUNK_ERROR.
	Note string
}

// Validate rejects events no sink could attribute.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Chunk < 0 {
		return errors.New("chunk index must be >= 0")
	}
	switch e.Stage {
	case StageChunkStart, StageChunkDone, StageChunkSkipped:
	case StageChunkError:
		if e.Note == "" {
			return errors.New("chunk error requires a note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the chunk has finished at this stage.
func (e Event) Terminal() bool {
	return e.Stage != StageChunkStart
}
