// Package traverse walks the paginated list: one guarded visit per page, one
// per new record, with a checkpoint after every record and an export after
// every page.
package traverse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/list-harvester/internal/clock/system"
	"github.com/JakeFAU/list-harvester/internal/harvest"
	"github.com/JakeFAU/list-harvester/internal/navigate"
	"github.com/JakeFAU/list-harvester/internal/progress"
	"github.com/JakeFAU/list-harvester/internal/storage"
)

// Extractor turns the current page into list items or a detail record.
type Extractor interface {
	ListItems(ctx context.Context, s harvest.Session, page int) ([]harvest.ListItem, error)
	Detail(ctx context.Context, s harvest.Session, item harvest.ListItem) (harvest.DetailRecord, error)
}

// Navigator is the guarded navigation entry point.
type Navigator interface {
	SafeNavigate(ctx context.Context, s harvest.Session, target string, opts navigate.Options) error
}

// Classifier detects verification walls.
type Classifier interface {
	IsBlocked(ctx context.Context, s harvest.Session) bool
}

// Checkpointer persists resume state; failures are its own concern.
type Checkpointer interface {
	Save(snap harvest.Snapshot, reason string)
}

// Journal durably stores collected records.
type Journal interface {
	Put(rec harvest.DetailRecord) error
}

// Config drives page addressing, scrolling and artifact export.
type Config struct {
	ListURL           string
	PageParam         string
	PageSize          int
	ListReadyMarker   harvest.Selector
	DetailReadyMarker *harvest.Selector
	ScrollSteps       int
	ScrollDistance    int
	ScrollPauseMin    time.Duration
	ScrollPauseMax    time.Duration
	Artifacts         bool
	Print             harvest.PrintOptions
}

// Deps are the collaborators of a Controller. Events, Limiter, Artifacts,
// Clock and Logger are optional.
type Deps struct {
	Guard      Navigator
	Classifier Classifier
	Extractor  Extractor
	Exporter   harvest.Exporter
	Checkpoint Checkpointer
	Journal    Journal
	Progress   *harvest.Progress
	Artifacts  storage.BlobStore
	Events     progress.Emitter
	Limiter    *rate.Limiter
	Clock      harvest.Clock
	Logger     *zap.Logger
	RunID      uuid.UUID
}

// Stats counts record outcomes across the controller's lifetime.
type Stats struct {
	Collected int
	Failed    int
	Pages     int
}

// Controller walks pages and records on one session at a time.
type Controller struct {
	cfg    Config
	d      Deps
	logger *zap.Logger
	stats  Stats
}

// NewController wires a Controller.
func NewController(cfg Config, d Deps) *Controller {
	if cfg.PageParam == "" {
		cfg.PageParam = "start"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.ScrollPauseMax < cfg.ScrollPauseMin {
		cfg.ScrollPauseMax = cfg.ScrollPauseMin
	}
	if d.Artifacts == nil {
		d.Artifacts = storage.Discard{}
	}
	if d.Events == nil {
		d.Events = progress.Discard
	}
	if d.Clock == nil {
		d.Clock = system.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, d: d, logger: d.Logger.Named("traverse")}
}

// Stats returns the running counters.
func (c *Controller) Stats() Stats {
	return c.stats
}

// PageURL returns the canonical address of page.
func (c *Controller) PageURL(page int) string {
	return PageURL(c.cfg.ListURL, c.cfg.PageParam, c.cfg.PageSize, page)
}

// Run visits pages from..to inclusive, descending when from > to. It stops at
// the first page-level failure.
func (c *Controller) Run(ctx context.Context, s harvest.Session, from, to int) error {
	step := 1
	if from > to {
		step = -1
	}
	for page := from; ; page += step {
		if err := c.Page(ctx, s, page); err != nil {
			return err
		}
		if page == to {
			return nil
		}
	}
}

// Page traverses one list page and every new record on it.
func (c *Controller) Page(ctx context.Context, s harvest.Session, page int) error {
	addr := c.PageURL(page)
	logger := c.logger.With(zap.Int("page", page))
	c.emit(progress.Event{Stage: progress.StagePageStart, Page: page, URL: addr})

	marker := c.cfg.ListReadyMarker
	if err := c.d.Guard.SafeNavigate(ctx, s, addr, navigate.Options{Op: "list_page", ReadyMarker: &marker}); err != nil {
		return err
	}
	c.d.Progress.Enter(page, addr)
	c.d.Checkpoint.Save(c.d.Progress.Snapshot(), fmt.Sprintf("entered page %d", page))
	if c.d.Classifier.IsBlocked(ctx, s) {
		return harvest.Blocked("list_page", fmt.Sprintf("checkpoint on page %d", page))
	}

	if err := c.scroll(ctx, s); err != nil {
		return err
	}
	if c.d.Classifier.IsBlocked(ctx, s) {
		return harvest.Blocked("list_page", fmt.Sprintf("checkpoint after scrolling page %d", page))
	}

	items, err := c.d.Extractor.ListItems(ctx, s, page)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if k := harvest.KindOf(err); k == harvest.KindBlocked || k == harvest.KindRestartSession {
			return err
		}
		return harvest.RestartSession("list_page", fmt.Sprintf("list extraction failed on page %d", page), err)
	}
	fresh := c.unseen(items)
	logger.Info("page loaded", zap.Int("items", len(items)), zap.Int("new", len(fresh)))

	for _, item := range fresh {
		err := c.item(ctx, s, page, item)
		if err == nil {
			continue
		}
		if harvest.KindOf(err) != harvest.KindItem {
			return err
		}
		c.stats.Failed++
		logger.Warn("record failed, skipping", zap.String("stable_id", item.StableID), zap.Error(err))
		c.emit(progress.Event{Stage: progress.StageRecordFailed, Page: page, ItemID: item.StableID, URL: item.URL, Note: err.Error()})
	}

	if err := c.d.Exporter.WriteTable(ctx, c.d.Progress.Records()); err != nil {
		logger.Warn("export after page failed", zap.Error(err))
	}
	c.stats.Pages++
	c.emit(progress.Event{Stage: progress.StagePageDone, Page: page, URL: addr})
	return nil
}

// unseen drops items already in the seen set along with in-page duplicates.
func (c *Controller) unseen(items []harvest.ListItem) []harvest.ListItem {
	out := make([]harvest.ListItem, 0, len(items))
	onPage := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.StableID == "" || c.d.Progress.Seen(it.StableID) {
			continue
		}
		if _, dup := onPage[it.StableID]; dup {
			continue
		}
		onPage[it.StableID] = struct{}{}
		out = append(out, it)
	}
	return out
}

func (c *Controller) item(ctx context.Context, s harvest.Session, page int, item harvest.ListItem) error {
	if c.d.Limiter != nil {
		if err := c.d.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("detail pacing: %w", err)
		}
	}
	started := c.d.Clock.Now()
	if err := c.d.Guard.SafeNavigate(ctx, s, item.URL, navigate.Options{Op: "detail", ReadyMarker: c.cfg.DetailReadyMarker}); err != nil {
		return err
	}
	if c.d.Classifier.IsBlocked(ctx, s) {
		return harvest.Blocked("detail", "checkpoint on record "+item.StableID)
	}

	rec, err := c.d.Extractor.Detail(ctx, s, item)
	if err != nil {
		return escalate(ctx, "detail "+item.StableID, err)
	}
	rec.StableID = item.StableID
	rec.PageIndex = page
	if rec.SourceURL == "" {
		rec.SourceURL = item.URL
	}
	rec.CollectedAt = c.d.Clock.Now()

	if c.cfg.Artifacts && !rec.OccurredAt.IsZero() {
		if c.d.Classifier.IsBlocked(ctx, s) {
			return harvest.Blocked("artifact", "checkpoint before printing record "+item.StableID)
		}
		path := ArtifactPath(rec)
		ref, err := c.printArtifact(ctx, s, path)
		if err != nil {
			return escalate(ctx, "artifact "+item.StableID, err)
		}
		rec.ArtifactPath, rec.ArtifactRef = path, ref
	}

	if err := c.d.Journal.Put(rec); err != nil {
		return fmt.Errorf("journal record %s: %w", item.StableID, err)
	}
	c.d.Progress.Add(rec)
	c.d.Checkpoint.Save(c.d.Progress.Snapshot(), fmt.Sprintf("collected record %s on page %d", item.StableID, page))
	c.stats.Collected++

	c.logger.Info("record collected",
		zap.Int("page", page),
		zap.String("stable_id", rec.StableID),
		zap.String("group", rec.Group),
		zap.String("title", rec.Title),
		zap.String("date", rec.OccurredDate()),
	)
	c.emit(progress.Event{
		Stage:   progress.StageRecordDone,
		Page:    page,
		ItemID:  rec.StableID,
		URL:     rec.SourceURL,
		Records: len(c.d.Progress.Records()),
		Dur:     c.d.Clock.Now().Sub(started),
	})
	return nil
}

func (c *Controller) printArtifact(ctx context.Context, s harvest.Session, path string) (string, error) {
	pdf, err := s.PrintToArtifact(ctx, c.cfg.Print)
	if err != nil {
		return "", fmt.Errorf("print: %w", err)
	}
	ref, err := c.d.Artifacts.PutObject(ctx, path, "application/pdf", bytes.NewReader(pdf))
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return ref, nil
}

// escalate keeps session-level failures and interruption as they are and
// scopes everything else to the record.
func escalate(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch harvest.KindOf(err) {
	case harvest.KindBlocked, harvest.KindRestartSession, harvest.KindInterrupted:
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return harvest.RestartSession(op, "driver timed out", err)
	}
	return harvest.ItemFailed(op, err)
}

func (c *Controller) scroll(ctx context.Context, s harvest.Session) error {
	for i := 0; i < c.cfg.ScrollSteps; i++ {
		if _, err := s.RunScript(ctx, fmt.Sprintf("window.scrollBy(0, %d)", c.cfg.ScrollDistance)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("scroll step failed", zap.Error(err))
		}
		if err := pause(ctx, c.jitter()); err != nil {
			return err
		}
	}
	if c.cfg.ScrollSteps > 0 {
		if _, err := s.RunScript(ctx, "window.scrollTo(0, 0)"); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (c *Controller) jitter() time.Duration {
	lo, hi := c.cfg.ScrollPauseMin, c.cfg.ScrollPauseMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func (c *Controller) emit(evt progress.Event) {
	if c.d.RunID == uuid.Nil {
		return
	}
	evt.RunID = c.d.RunID
	evt.TS = c.d.Clock.Now()
	c.d.Events.Emit(evt)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
