package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/list-harvester/internal/progress"
)

// RunSnapshot is the latest known state of one run.
type RunSnapshot struct {
	RunID     uuid.UUID `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Page      int       `json:"page"`
	Records   int       `json:"records"`
	Failures  int       `json:"failures"`
	Restarts  int       `json:"restarts"`
	Blocks    int       `json:"blocks"`
	Finished  bool      `json:"finished"`
	Outcome   string    `json:"outcome,omitempty"`
	LastNote  string    `json:"last_note,omitempty"`
}

// SnapshotSink keeps the latest run state in memory for the ops API.
type SnapshotSink struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*RunSnapshot
	last uuid.UUID
}

// NewSnapshotSink returns an empty sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{runs: make(map[uuid.UUID]*RunSnapshot)}
}

// Consume folds batch into the snapshots.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		snap := s.runs[evt.RunID]
		if snap == nil {
			snap = &RunSnapshot{RunID: evt.RunID, StartedAt: evt.TS}
			s.runs[evt.RunID] = snap
			s.last = evt.RunID
		}
		snap.UpdatedAt = evt.TS
		if evt.Note != "" {
			snap.LastNote = evt.Note
		}
		switch evt.Stage {
		case progress.StagePageStart:
			snap.Page = evt.Page
		case progress.StageRecordDone:
			snap.Records++
		case progress.StageRecordFailed:
			snap.Failures++
		case progress.StageSessionRestart:
			snap.Restarts++
		case progress.StageBlocked:
			snap.Blocks++
		case progress.StageRunDone, progress.StageRunError:
			snap.Finished = true
			snap.Outcome = evt.Outcome
		}
	}
	return nil
}

// Latest returns the most recently started run.
func (s *SnapshotSink) Latest() (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.runs[s.last]
	if !ok {
		return RunSnapshot{}, false
	}
	return *snap, true
}

// Get returns the snapshot for id.
func (s *SnapshotSink) Get(id uuid.UUID) (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.runs[id]
	if !ok {
		return RunSnapshot{}, false
	}
	return *snap, true
}

// Close is a no-op.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
