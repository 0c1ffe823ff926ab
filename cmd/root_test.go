package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/app"
	"github.com/JakeFAU/list-harvester/internal/config"
	"github.com/JakeFAU/list-harvester/internal/harvest"
	"github.com/JakeFAU/list-harvester/internal/orchestrator"
	"github.com/JakeFAU/list-harvester/internal/resume"
)

type fakeApp struct {
	cfg        config.Config
	state      *resume.Store
	spans      []app.Span
	harvestErr error
	exported   int
	resets     int
	closed     int
}

func newFakeApp() *fakeApp {
	var cfg config.Config
	cfg.Run.StartPage, cfg.Run.EndPage = 37, 1
	return &fakeApp{cfg: cfg, state: resume.NewStore(afero.NewMemMapFs(), "/out/scrape_state.json", nil, nil)}
}

func (f *fakeApp) Close() { f.closed++ }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Config() config.Config { return f.cfg }
func (f *fakeApp) State() *resume.Store { return f.state }
func (f *fakeApp) ExportJournal(context.Context) (int, error) { return f.exported, nil }

func (f *fakeApp) ResetState() error {
	f.resets++
	return f.state.Reset()
}

func (f *fakeApp) Harvest(_ context.Context, span app.Span) (orchestrator.Summary, error) {
	f.spans = append(f.spans, span)
	sum := orchestrator.Summary{Outcome: orchestrator.OutcomeCompleted, StartPage: span.Start, LastPage: span.End, Records: 4}
	if f.harvestErr != nil {
		sum.Outcome = orchestrator.OutcomeFailed
		sum.Reason = f.harvestErr.Error()
	}
	return sum, f.harvestErr
}

func execute(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := executeRoot(context.Background(), root)
	return out.String(), err
}

func TestRunUsesConfiguredRange(t *testing.T) {
	fake := newFakeApp()
	out, err := execute(t, fake, "run")
	require.NoError(t, err)
	assert.Equal(t, []app.Span{{Start: 37, End: 1}}, fake.spans)
	assert.Contains(t, out, "outcome:   completed")
	assert.Contains(t, out, "records:   4")
	assert.Equal(t, 1, fake.closed)
}

func TestRunFlagsOverrideRange(t *testing.T) {
	fake := newFakeApp()
	_, err := execute(t, fake, "run", "--start", "3", "--end", "5")
	require.NoError(t, err)
	assert.Equal(t, []app.Span{{Start: 3, End: 5}}, fake.spans)
}

func TestRunRejectsZeroPage(t *testing.T) {
	fake := newFakeApp()
	_, err := execute(t, fake, "run", "--start", "0")
	require.Error(t, err)
	assert.Empty(t, fake.spans)
}

func TestRunPropagatesFailure(t *testing.T) {
	fake := newFakeApp()
	fake.harvestErr = orchestrator.ErrRestartBudgetExhausted
	out, err := execute(t, fake, "run")
	require.ErrorIs(t, err, orchestrator.ErrRestartBudgetExhausted)
	assert.Contains(t, out, "outcome:   failed")
	assert.Equal(t, 1, fake.closed)
}

func TestStateResetRefusalClosesApp(t *testing.T) {
	fake := newFakeApp()
	_, err := execute(t, fake, "state", "reset")
	require.Error(t, err)
	assert.Equal(t, 1, fake.closed)
}

func TestStateShow(t *testing.T) {
	fake := newFakeApp()
	out, err := execute(t, fake, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "no saved state at /out/scrape_state.json")

	p := harvest.NewProgress(5, 1)
	p.Enter(4, "https://example.com/list?start=30")
	fake.state.Save(p.Snapshot(), "keyboard_interrupt")

	out, err = execute(t, fake, "state", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"last_page": 4`)
	assert.Contains(t, out, `"reason": "keyboard_interrupt"`)
}

func TestStateResetNeedsConfirmation(t *testing.T) {
	fake := newFakeApp()
	_, err := execute(t, fake, "state", "reset")
	require.Error(t, err)
	assert.Zero(t, fake.resets)

	out, err := execute(t, fake, "state", "reset", "--yes")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.resets)
	assert.Contains(t, out, "cleared")
}

func TestExport(t *testing.T) {
	fake := newFakeApp()
	fake.exported = 12
	out, err := execute(t, fake, "export")
	require.NoError(t, err)
	assert.Contains(t, out, "exported 12 records")
}

func TestAppInitFailure(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("no chrome") }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"export"})
	err := executeRoot(context.Background(), root)
	require.ErrorContains(t, err, "no chrome")
}
