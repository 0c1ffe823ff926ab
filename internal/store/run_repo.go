package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the harvest_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunBlocked     RunStatus = "blocked"
	RunInterrupted RunStatus = "interrupted"
	RunFailed      RunStatus = "failed"
)

// ParseRunStatus maps a terminal outcome label to a status. Unknown labels
// are treated as failures.
func ParseRunStatus(s string) RunStatus {
	switch RunStatus(s) {
	case RunRunning, RunCompleted, RunBlocked, RunInterrupted, RunFailed:
		return RunStatus(s)
	default:
		return RunFailed
	}
}

// Run models one harvester invocation.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Reason     *string
	RangeStart int
	RangeEnd   int
	LastPage   int
	Records    int64
	Failures   int64
	Restarts   int64
	Blocks     int64
	UpdatedAt  time.Time
}

// RunDelta is a collapsed batch of counter changes for one run.
type RunDelta struct {
	LastPage int
	Records  int64
	Failures int64
	Restarts int64
	Blocks   int64
	At       time.Time
}

// Empty reports whether applying d would change nothing.
func (d RunDelta) Empty() bool {
	return d.LastPage == 0 && d.Records == 0 && d.Failures == 0 && d.Restarts == 0 && d.Blocks == 0
}

// PageStats aggregates per-page record outcomes within a run.
type PageStats struct {
	RunID      uuid.UUID
	Page       int
	Records    int64
	Failures   int64
	LastUpdate time.Time
}

// RunRepository persists run progress.
type RunRepository interface {
	// StartRun inserts the run row, or is a no-op if it already exists.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, rangeStart, rangeEnd int) error
	// UpdateRun applies counter deltas and moves last_page forward.
	UpdateRun(ctx context.Context, runID uuid.UUID, delta RunDelta) error
	// FinishRun records the terminal status.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, reason *string) error
	// UpsertPageStats applies per-page deltas.
	UpsertPageStats(ctx context.Context, runID uuid.UUID, page int, records, failures int64, at time.Time) error

	// GetRun loads a run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns filters by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunPages returns per-page stats for one run.
	ListRunPages(ctx context.Context, runID uuid.UUID, limit, offset int) ([]PageStats, error)
}
