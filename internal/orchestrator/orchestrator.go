// Package orchestrator runs a harvest end to end: it restores progress,
// acquires sessions, drives traversal and turns typed failures into
// re-authentication, session restarts, profile resets or a clean stop, all
// within a bounded restart budget.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/clock/system"
	"github.com/JakeFAU/list-harvester/internal/harvest"
	"github.com/JakeFAU/list-harvester/internal/notify"
	"github.com/JakeFAU/list-harvester/internal/progress"
	"github.com/JakeFAU/list-harvester/internal/resume"
	"github.com/JakeFAU/list-harvester/internal/session"
)

// ErrRestartBudgetExhausted is returned once the restart budget is spent.
var ErrRestartBudgetExhausted = errors.New("restart budget exhausted")

// DefaultRestartBudget is the number of restarts tolerated per run.
const DefaultRestartBudget = 6

// Terminal outcomes reported in Summary and on RUN_* events.
const (
	OutcomeCompleted   = "completed"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// Sessions is the lifecycle surface of session.Manager.
type Sessions interface {
	Acquire(ctx context.Context) (harvest.Session, error)
	RecordUnresponsive() int
	Remediate() (session.Tier, error)
	Close()
}

// Traverser walks a page range on one session.
type Traverser interface {
	Run(ctx context.Context, s harvest.Session, from, to int) error
}

// StateStore loads and saves resume state.
type StateStore interface {
	Load() (resume.State, bool)
	Save(snap harvest.Snapshot, reason string)
}

// RecordSource lists journaled records.
type RecordSource interface {
	All() ([]harvest.DetailRecord, error)
}

// Config bounds the run.
type Config struct {
	StartPage     int
	EndPage       int
	RestartBudget int
	Backoff       Backoff
}

// Deps are the orchestrator's collaborators. Journal, Notifier, Events, Clock
// and Logger are optional.
type Deps struct {
	Sessions  Sessions
	Traverser Traverser
	State     StateStore
	Journal   RecordSource
	Exporter  harvest.Exporter
	Notifier  harvest.Notifier
	Progress  *harvest.Progress
	Events    progress.Emitter
	Clock     harvest.Clock
	Logger    *zap.Logger
	RunID     uuid.UUID
}

// Summary describes a finished run.
type Summary struct {
	RunID         uuid.UUID
	Outcome       string
	Reason        string
	StartPage     int
	LastPage      int
	Records       int
	Restarts      int
	Blocks        int
	ProfileResets int
	Duration      time.Duration
}

// Orchestrator owns the restart loop.
type Orchestrator struct {
	cfg    Config
	d      Deps
	logger *zap.Logger
}

type silent struct{}

func (silent) Notify(context.Context, string, string) error { return nil }

// New wires an Orchestrator.
func New(cfg Config, d Deps) *Orchestrator {
	if cfg.RestartBudget <= 0 {
		cfg.RestartBudget = DefaultRestartBudget
	}
	if d.Notifier == nil {
		d.Notifier = silent{}
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
	return &Orchestrator{cfg: cfg, d: d, logger: d.Logger.Named("orchestrator")}
}

// Run executes the harvest. It returns nil on completion and on interruption;
// an unclassified failure or an exhausted restart budget is returned after
// progress has been preserved.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	began := o.d.Clock.Now()
	sum := Summary{RunID: o.d.RunID}
	defer o.d.Sessions.Close()

	st, ok := o.d.State.Load()
	o.restore(st, ok)
	from := resume.ResumeStartPage(st, ok, o.cfg.StartPage, o.cfg.EndPage)
	sum.StartPage = from
	o.logger.Info("harvest starting",
		zap.Int("start_page", o.cfg.StartPage),
		zap.Int("end_page", o.cfg.EndPage),
		zap.Int("resume_page", from),
		zap.Int("records", len(o.d.Progress.Records())),
	)
	o.emit(progress.Event{Stage: progress.StageRunStart, RangeStart: o.cfg.StartPage, RangeEnd: o.cfg.EndPage})

	finish := func(outcome, reason string, err error) (Summary, error) {
		snap := o.d.Progress.Snapshot()
		sum.Outcome = outcome
		sum.Reason = reason
		sum.LastPage = snap.LastPage
		sum.Records = snap.RecordCount
		sum.Duration = o.d.Clock.Now().Sub(began)
		stage := progress.StageRunError
		if outcome == OutcomeCompleted {
			stage = progress.StageRunDone
		}
		o.emit(progress.Event{
			Stage:   stage,
			Attempt: sum.Restarts,
			Records: sum.Records,
			Dur:     sum.Duration,
			Note:    reason,
			Outcome: outcome,
		})
		return sum, err
	}

	// exhausted ends the run without remediating: no profile reset and no
	// re-login prompt on an iteration that will never retry.
	exhausted := func(reason string) (Summary, error) {
		o.d.Sessions.Close()
		msg := fmt.Sprintf("too_many_restarts: %d restarts, last: %s", sum.Restarts, reason)
		o.logger.Error("restart budget exhausted", zap.Int("restarts", sum.Restarts), zap.Int("budget", o.cfg.RestartBudget))
		o.preserve(ctx, msg)
		o.alert(ctx, notify.TitleBudgetExhausted, msg)
		return finish(OutcomeFailed, msg, fmt.Errorf("%w after %d restarts: %s", ErrRestartBudgetExhausted, sum.Restarts, reason))
	}

	for {
		err := o.attempt(ctx, from)
		if err == nil {
			o.preserve(ctx, "completed")
			o.logger.Info("harvest completed", zap.Int("records", len(o.d.Progress.Records())))
			o.alert(ctx, notify.TitleFinished, fmt.Sprintf("Collected %d records.", len(o.d.Progress.Records())))
			return finish(OutcomeCompleted, "", nil)
		}

		reason := harvest.Reason(err)
		kind := harvest.KindOf(err)
		if ctx.Err() != nil {
			kind = harvest.KindInterrupted
		}
		switch kind {
		case harvest.KindInterrupted:
			o.logger.Warn("harvest interrupted, saving progress")
			o.preserve(ctx, "keyboard_interrupt")
			return finish(OutcomeInterrupted, "keyboard_interrupt", nil)

		case harvest.KindBlocked:
			sum.Blocks++
			sum.Restarts++
			if sum.Restarts > o.cfg.RestartBudget {
				return exhausted(reason)
			}
			o.logger.Warn("verification checkpoint, re-authenticating",
				zap.String("reason", reason), zap.Int("restarts", sum.Restarts))
			o.preserve(ctx, "checkpoint_detected: "+reason)
			o.emit(progress.Event{Stage: progress.StageBlocked, Attempt: sum.Restarts, Note: reason})
			o.alert(ctx, notify.TitleLoginNeeded,
				fmt.Sprintf("Verification checkpoint detected (%s). Log in again in the browser window.", reason))
			o.d.Sessions.Close()

		case harvest.KindRestartSession:
			sum.Restarts++
			if sum.Restarts > o.cfg.RestartBudget {
				return exhausted(reason)
			}
			strikes := o.d.Sessions.RecordUnresponsive()
			tier, rerr := o.d.Sessions.Remediate()
			o.logger.Warn("session unresponsive, restarting",
				zap.String("reason", reason),
				zap.Int("strike", strikes),
				zap.String("tier", string(tier)),
				zap.Int("restarts", sum.Restarts),
			)
			if rerr != nil {
				o.logger.Error("profile reset failed", zap.Error(rerr))
			}
			o.preserve(ctx, "session_restart: "+reason)
			o.emit(progress.Event{Stage: progress.StageSessionRestart, Attempt: sum.Restarts, Note: reason})
			if tier == session.TierResetProfile {
				sum.ProfileResets++
				o.emit(progress.Event{Stage: progress.StageProfileReset, Attempt: sum.Restarts, Note: reason})
				o.alert(ctx, notify.TitleProfileReset,
					"The browser profile was reset after repeated failures. Log in again when prompted.")
			} else {
				o.alert(ctx, notify.TitleSessionRestart,
					fmt.Sprintf("Session restart %d/%d after: %s", sum.Restarts, o.cfg.RestartBudget, reason))
			}

		default:
			o.logger.Error("harvest failed", zap.Error(err))
			o.preserve(ctx, "unexpected_error: "+err.Error())
			return finish(OutcomeFailed, err.Error(), err)
		}

		if werr := o.cfg.Backoff.Wait(ctx, sum.Restarts); werr != nil {
			o.logger.Warn("harvest interrupted during backoff, saving progress")
			o.preserve(ctx, "keyboard_interrupt")
			return finish(OutcomeInterrupted, "keyboard_interrupt", nil)
		}
		from = o.currentStart()
	}
}

// attempt runs one acquire-traverse-release cycle.
func (o *Orchestrator) attempt(ctx context.Context, from int) error {
	s, err := o.d.Sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	defer o.d.Sessions.Close()
	o.logger.Info("traversing", zap.Int("from", from), zap.Int("to", o.cfg.EndPage))
	return o.d.Traverser.Run(ctx, s, from, o.cfg.EndPage)
}

// restore seeds Progress from resume state and re-adds journaled records
// whose ids the state already marks as seen.
func (o *Orchestrator) restore(st resume.State, ok bool) {
	if !ok {
		o.logger.Info("no resume state, starting fresh")
		return
	}
	o.d.Progress.Restore(st.Page(), st.URL(), st.SeenIDs)
	if o.d.Journal == nil {
		return
	}
	recs, err := o.d.Journal.All()
	if err != nil {
		o.logger.Warn("journal unreadable, exports will omit earlier records", zap.Error(err))
		return
	}
	restored := 0
	for _, rec := range recs {
		if o.d.Progress.Seen(rec.StableID) {
			o.d.Progress.Add(rec)
			restored++
		}
	}
	o.logger.Info("resumed previous run",
		zap.String("reason", st.Reason),
		zap.Int("last_page", st.Page()),
		zap.Int("seen", len(st.SeenIDs)),
		zap.Int("restored_records", restored),
	)
}

// currentStart is the resume page computed from in-memory progress.
func (o *Orchestrator) currentStart() int {
	snap := o.d.Progress.Snapshot()
	if snap.LastPage <= 0 {
		return resume.ResumeStartPage(resume.State{}, false, o.cfg.StartPage, o.cfg.EndPage)
	}
	page := snap.LastPage
	return resume.ResumeStartPage(resume.State{LastPage: &page}, true, o.cfg.StartPage, o.cfg.EndPage)
}

// preserve exports the table and saves state. It ignores cancellation so an
// interrupted run still persists.
func (o *Orchestrator) preserve(ctx context.Context, reason string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.d.Exporter.WriteTable(ctx, o.d.Progress.Records()); err != nil {
		o.logger.Warn("export failed while preserving progress", zap.String("reason", reason), zap.Error(err))
	}
	o.d.State.Save(o.d.Progress.Snapshot(), reason)
}

func (o *Orchestrator) alert(ctx context.Context, title, message string) {
	if err := o.d.Notifier.Notify(context.WithoutCancel(ctx), title, message); err != nil {
		o.logger.Warn("notification failed", zap.String("title", title), zap.Error(err))
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.d.RunID == uuid.Nil {
		return
	}
	evt.RunID = o.d.RunID
	evt.TS = o.d.Clock.Now()
	evt.Records = max(evt.Records, len(o.d.Progress.Records()))
	o.d.Events.Emit(evt)
}
