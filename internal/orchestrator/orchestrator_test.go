package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/list-harvester/internal/browser/browsertest"
	"github.com/JakeFAU/list-harvester/internal/harvest"
	"github.com/JakeFAU/list-harvester/internal/notify"
	"github.com/JakeFAU/list-harvester/internal/progress"
	"github.com/JakeFAU/list-harvester/internal/resume"
	"github.com/JakeFAU/list-harvester/internal/session"
)

type fakeSessions struct {
	acquireErrs []error
	acquired    int
	strikes     int
	tiers       []session.Tier
	closes      int
}

func (f *fakeSessions) Acquire(ctx context.Context) (harvest.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := f.acquired
	f.acquired++
	if n < len(f.acquireErrs) && f.acquireErrs[n] != nil {
		return nil, f.acquireErrs[n]
	}
	f.strikes = 0
	return browsertest.New(nil), nil
}

func (f *fakeSessions) RecordUnresponsive() int {
	if f.strikes < 2 {
		f.strikes++
	}
	return f.strikes
}

func (f *fakeSessions) Remediate() (session.Tier, error) {
	f.closes++
	tier := session.TierReuseProfile
	if f.strikes >= 2 {
		f.strikes = 0
		tier = session.TierResetProfile
	}
	f.tiers = append(f.tiers, tier)
	return tier, nil
}

func (f *fakeSessions) Close() { f.closes++ }

type span struct{ from, to int }

type fakeTraverser struct {
	steps []func(ctx context.Context) error
	calls []span
}

func (f *fakeTraverser) Run(ctx context.Context, _ harvest.Session, from, to int) error {
	n := len(f.calls)
	f.calls = append(f.calls, span{from, to})
	if n < len(f.steps) {
		return f.steps[n](ctx)
	}
	return nil
}

type fakeState struct {
	state   resume.State
	ok      bool
	reasons []string
	last    harvest.Snapshot
}

func (f *fakeState) Load() (resume.State, bool) { return f.state, f.ok }

func (f *fakeState) Save(snap harvest.Snapshot, reason string) {
	f.reasons = append(f.reasons, reason)
	f.last = snap
}

type fakeJournal struct{ recs []harvest.DetailRecord }

func (f fakeJournal) All() ([]harvest.DetailRecord, error) { return f.recs, nil }

type countingExporter struct{ writes [][]harvest.DetailRecord }

func (c *countingExporter) WriteTable(_ context.Context, recs []harvest.DetailRecord) error {
	c.writes = append(c.writes, recs)
	return nil
}

type recordingNotifier struct{ titles []string }

func (r *recordingNotifier) Notify(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

type cancelOnNotify struct{ cancel context.CancelFunc }

func (c cancelOnNotify) Notify(context.Context, string, string) error {
	c.cancel()
	return nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Stage)
	}
	return out
}

type fixture struct {
	orch      *Orchestrator
	sessions  *fakeSessions
	traverser *fakeTraverser
	state     *fakeState
	exporter  *countingExporter
	notifier  *recordingNotifier
	events    *captureEmitter
	progress  *harvest.Progress
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		sessions:  &fakeSessions{},
		traverser: &fakeTraverser{},
		state:     &fakeState{},
		exporter:  &countingExporter{},
		notifier:  &recordingNotifier{},
		events:    &captureEmitter{},
		progress:  harvest.NewProgress(cfg.StartPage, cfg.EndPage),
	}
	f.orch = New(cfg, Deps{
		Sessions:  f.sessions,
		Traverser: f.traverser,
		State:     f.state,
		Exporter:  f.exporter,
		Notifier:  f.notifier,
		Progress:  f.progress,
		Events:    f.events,
		RunID:     uuid.New(),
	})
	return f
}

func restartErr(reason string) func(context.Context) error {
	return func(context.Context) error {
		return harvest.RestartSession("list_page", reason, nil)
	}
}

func TestRunCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{StartPage: 10, EndPage: 1})
	sum, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, []span{{10, 1}}, f.traverser.calls)
	assert.Equal(t, []string{"completed"}, f.state.reasons)
	assert.Len(t, f.exporter.writes, 1)
	assert.Equal(t, []string{notify.TitleFinished}, f.notifier.titles)
	assert.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunDone}, f.events.stages())
	assert.Positive(t, f.sessions.closes)
}

func TestRunResumesFromState(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{StartPage: 10, EndPage: 1})
	page := 5
	f.state.state = resume.State{LastPage: &page, SeenIDs: []string{"a"}}
	f.state.ok = true
	f.orch.d.Journal = fakeJournal{recs: []harvest.DetailRecord{{StableID: "a"}, {StableID: "b"}}}

	sum, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.StartPage)
	assert.Equal(t, []span{{5, 1}}, f.traverser.calls)

	recs := f.progress.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].StableID)
	assert.True(t, f.progress.Seen("a"))
	assert.False(t, f.progress.Seen("b"))
}

func TestRunIgnoresOutOfRangeState(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{StartPage: 1, EndPage: 10})
	page := 15
	f.state.state = resume.State{LastPage: &page}
	f.state.ok = true

	_, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []span{{1, 10}}, f.traverser.calls)
}

func TestRunBlockedReauthenticates(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{StartPage: 3, EndPage: 1})
	f.traverser.steps = []func(context.Context) error{
		func(context.Context) error {
			f.progress.Enter(2, "https://example.com/list?start=10")
			return harvest.Blocked("list_page", "checkpoint on page 2")
		},
	}

	sum, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Blocks)
	assert.Equal(t, 1, sum.Restarts)
	assert.Equal(t, []span{{3, 1}, {2, 1}}, f.traverser.calls)
	require.Len(t, f.state.reasons, 2)
	assert.Equal(t, "checkpoint_detected: blocked: checkpoint on page 2", f.state.reasons[0])
	assert.Equal(t, []string{notify.TitleLoginNeeded, notify.TitleFinished}, f.notifier.titles)
	assert.Contains(t, f.events.stages(), progress.StageBlocked)
}

func TestRunEscalatesToProfileReset(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{StartPage: 1, EndPage: 1})
	f.sessions.acquireErrs = []error{nil, harvest.RestartSession("health_check", "profile unhealthy", nil)}
	f.traverser.steps = []func(context.Context) error{restartErr("list extraction failed")}

	sum, err := f.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []session.Tier{session.TierReuseProfile, session.TierResetProfile}, f.sessions.tiers)
	assert.Equal(t, 2, sum.Restarts)
	assert.Equal(t, 1, sum.ProfileResets)
	assert.Equal(t, []string{notify.TitleSessionRestart, notify.TitleProfileReset, notify.TitleFinished}, f.notifier.titles)
	assert.Equal(t, 3, f.sessions.acquired)
	assert.Contains(t, f.events.stages(), progress.StageProfileReset)
}

func TestRunRestartBudgetExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{StartPage: 1, EndPage: 4, RestartBudget: 2})
	f.traverser.steps = []func(context.Context) error{
		restartErr("stuck"), restartErr("stuck"), restartErr("stuck"), restartErr("stuck"),
	}

	sum, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartBudgetExhausted)
	assert.Equal(t, OutcomeFailed, sum.Outcome)
	assert.Equal(t, 3, sum.Restarts)
	assert.Len(t, f.traverser.calls, 3)
	last := f.state.reasons[len(f.state.reasons)-1]
	assert.Contains(t, last, "too_many_restarts")
	assert.Equal(t, notify.TitleBudgetExhausted, f.notifier.titles[len(f.notifier.titles)-1])
	assert.Equal(t, progress.StageRunError, f.events.stages()[len(f.events.stages())-1])
}

func TestRunBudgetExhaustionSkipsRemediation(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{StartPage: 1, EndPage: 1, RestartBudget: 1})
	f.sessions.acquireErrs = []error{
		harvest.RestartSession("health_check", "profile unhealthy", nil),
		harvest.RestartSession("health_check", "profile unhealthy", nil),
	}

	sum, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartBudgetExhausted)
	assert.Equal(t, 2, sum.Restarts)
	assert.Zero(t, sum.ProfileResets)
	assert.Equal(t, []session.Tier{session.TierReuseProfile}, f.sessions.tiers)
	assert.Equal(t, []string{notify.TitleSessionRestart, notify.TitleBudgetExhausted}, f.notifier.titles)
	assert.NotContains(t, f.events.stages(), progress.StageProfileReset)
	assert.Contains(t, f.state.reasons[len(f.state.reasons)-1], "too_many_restarts")
}

func TestRunBlockedOverBudgetDoesNotPromptLogin(t *testing.T) {
	t.Parallel()

	blocked := func(context.Context) error { return harvest.Blocked("detail_page", "captcha") }
	f := newFixture(Config{StartPage: 1, EndPage: 1, RestartBudget: 1})
	f.traverser.steps = []func(context.Context) error{blocked, blocked}

	sum, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartBudgetExhausted)
	assert.Equal(t, 2, sum.Blocks)
	assert.Equal(t, []string{notify.TitleLoginNeeded, notify.TitleBudgetExhausted}, f.notifier.titles)
}

func TestRunUnclassifiedStops(t *testing.T) {
	t.Parallel()

	boom := errors.New("journal write failed")
	f := newFixture(Config{StartPage: 1, EndPage: 2})
	f.traverser.steps = []func(context.Context) error{func(context.Context) error { return boom }}

	sum, err := f.orch.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeFailed, sum.Outcome)
	assert.Equal(t, []string{"unexpected_error: journal write failed"}, f.state.reasons)
	assert.Len(t, f.traverser.calls, 1)
}

func TestRunInterruptedSavesAndReturnsNil(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(Config{StartPage: 1, EndPage: 2})
	f.traverser.steps = []func(context.Context) error{
		func(ctx context.Context) error {
			f.progress.Add(harvest.DetailRecord{StableID: "x"})
			cancel()
			return ctx.Err()
		},
	}

	sum, err := f.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInterrupted, sum.Outcome)
	assert.Equal(t, []string{"keyboard_interrupt"}, f.state.reasons)
	require.Len(t, f.exporter.writes, 1)
	assert.Len(t, f.exporter.writes[0], 1)
	assert.Equal(t, []string{"x"}, f.state.last.SeenIDs)
}

func TestRunInterruptedDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(Config{StartPage: 1, EndPage: 1, Backoff: Backoff{Base: time.Hour, Max: time.Hour}})
	f.orch.d.Notifier = cancelOnNotify{cancel: cancel}
	f.traverser.steps = []func(context.Context) error{
		func(context.Context) error { return harvest.Blocked("list_page", "wall") },
	}

	sum, err := f.orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInterrupted, sum.Outcome)
	assert.Len(t, f.traverser.calls, 1)
	assert.Equal(t, []string{"checkpoint_detected: blocked: wall", "keyboard_interrupt"}, f.state.reasons)
}

func TestRunWithResumeStore(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := resume.NewStore(fs, "/state/state.json", nil, nil)
	f := newFixture(Config{StartPage: 2, EndPage: 1})
	f.orch.d.State = store
	f.traverser.steps = []func(context.Context) error{
		func(context.Context) error {
			f.progress.Enter(1, "https://example.com/list")
			f.progress.Add(harvest.DetailRecord{StableID: "r1"})
			return nil
		},
	}

	_, err := f.orch.Run(context.Background())
	require.NoError(t, err)

	st, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "completed", st.Reason)
	assert.Equal(t, 1, st.Page())
	assert.Equal(t, []string{"r1"}, st.SeenIDs)
	assert.Equal(t, 1, st.RecordCount)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Zero(t, b.Delay(0))
	for attempt, limit := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		8: time.Second,
	} {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, limit/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, limit, "attempt %d", attempt)
	}
	assert.Zero(t, Backoff{}.Delay(3))
}
