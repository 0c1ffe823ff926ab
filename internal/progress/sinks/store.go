package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/progress"
	"github.com/JakeFAU/list-harvester/internal/store"
)

// StoreSink persists progress through a store.RunRepository. Counter changes
// are collapsed per run and per page before writing.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type pageKey struct {
	run  uuid.UUID
	page int
}

type pageDelta struct {
	records  int64
	failures int64
}

// Consume writes lifecycle rows as they occur and counter deltas once per
// batch. Terminal rows are written after the deltas of the same batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	runs := make(map[uuid.UUID]*store.RunDelta)
	pages := make(map[pageKey]*pageDelta)
	var terminal []progress.Event

	for _, evt := range batch {
		if evt.Stage == progress.StageRunStart {
			if err := s.repo.StartRun(ctx, evt.RunID, evt.TS, evt.RangeStart, evt.RangeEnd); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
			continue
		}
		if evt.Stage.Terminal() {
			terminal = append(terminal, evt)
			continue
		}
		collapse(runs, pages, evt)
	}

	for id, d := range runs {
		if d.Empty() {
			continue
		}
		if err := s.repo.UpdateRun(ctx, id, *d); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("progress for unknown run", zap.Stringer("run_id", id))
				continue
			}
			return fmt.Errorf("update run: %w", err)
		}
	}
	for key, d := range pages {
		if err := s.repo.UpsertPageStats(ctx, key.run, key.page, d.records, d.failures, runs[key.run].At); err != nil {
			return fmt.Errorf("upsert page stats: %w", err)
		}
	}
	for _, evt := range terminal {
		var reason *string
		if evt.Note != "" {
			note := evt.Note
			reason = &note
		}
		status := store.RunCompleted
		if evt.Stage == progress.StageRunError {
			status = store.ParseRunStatus(evt.Outcome)
		}
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, status, reason); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func collapse(runs map[uuid.UUID]*store.RunDelta, pages map[pageKey]*pageDelta, evt progress.Event) {
	d := runs[evt.RunID]
	if d == nil {
		d = &store.RunDelta{}
		runs[evt.RunID] = d
	}
	if evt.TS.After(d.At) {
		d.At = evt.TS
	}
	switch evt.Stage {
	case progress.StagePageStart:
		d.LastPage = evt.Page
		return
	case progress.StageSessionRestart:
		d.Restarts++
		return
	case progress.StageBlocked:
		d.Blocks++
		return
	case progress.StageRecordDone:
		d.Records++
	case progress.StageRecordFailed:
		d.Failures++
	default:
		return
	}
	if evt.Page <= 0 {
		return
	}
	key := pageKey{run: evt.RunID, page: evt.Page}
	p := pages[key]
	if p == nil {
		p = &pageDelta{}
		pages[key] = p
	}
	if evt.Stage == progress.StageRecordDone {
		p.records++
	} else {
		p.failures++
	}
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
