package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StagePageStart      Stage = "PAGE_START"
	StagePageDone       Stage = "PAGE_DONE"
	StageRecordDone     Stage = "RECORD_DONE"
	StageRecordFailed   Stage = "RECORD_FAILED"
	StageSessionRestart Stage = "SESSION_RESTART"
	StageBlocked        Stage = "BLOCKED"
	StageProfileReset   Stage = "PROFILE_RESET"
)

// Event is one progress milestone of a harvest run.
type Event struct {
	RunID uuid.UUID
	// TS is stamped by the emitter in UTC.
	TS    time.Time
	Stage Stage
	// Page is the 1-based list page the event belongs to, zero for run-level
	// events.
	Page   int
	ItemID string
	URL    string
	// Attempt is the restart counter at the time of the event.
	Attempt int
	// Records is the running total of collected records.
	Records int
	Dur     time.Duration
	// Note carries low-volume context such as a failure reason.
	Note string
	// Outcome is set on terminal events: completed, blocked, interrupted or
	// failed.
	Outcome string
	// RangeStart and RangeEnd describe the page range on RUN_START.
	RangeStart int
	RangeEnd   int
}

// Validate rejects malformed events before they reach the sinks.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageSessionRestart, StageBlocked, StageProfileReset:
	case StagePageStart, StagePageDone:
		if e.Page <= 0 {
			return fmt.Errorf("%s requires a page", e.Stage)
		}
	case StageRecordDone, StageRecordFailed:
		if e.ItemID == "" {
			return fmt.Errorf("%s requires an item id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageRunDone || s == StageRunError
}
