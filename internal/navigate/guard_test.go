package navigate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/list-harvester/internal/browser/browsertest"
	"github.com/JakeFAU/list-harvester/internal/detector"
	"github.com/JakeFAU/list-harvester/internal/harvest"
)

const target = "https://example.com/list"

var listMarker = harvest.CSS("a.job-link")

func fastGuard() *Guard {
	return NewGuard(Config{
		ReadyTimeout:  20 * time.Millisecond,
		RefreshWindow: 20 * time.Millisecond,
		MarkerWait:    20 * time.Millisecond,
		PollInterval:  time.Millisecond,
	}, detector.NewStuckDetector(nil, nil), nil)
}

func stuckPage() *browsertest.Page {
	return &browsertest.Page{
		ReadyStates: []string{"loading"},
		Elements:    map[string][]harvest.Element{".artdeco-loader": {{}}},
	}
}

func TestSafeNavigate_HealthyPage(t *testing.T) {
	t.Parallel()

	s := browsertest.New(map[string]*browsertest.Page{
		target: {
			ReadyStates: []string{"loading", "loading", "complete"},
			Elements:    map[string][]harvest.Element{"a.job-link": {{}}},
		},
	})
	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{ReadyMarker: &listMarker})
	require.NoError(t, err)
	require.Zero(t, s.Refreshes())
	require.Equal(t, []string{target}, s.Navigations())
}

func TestSafeNavigate_NavigationErrorRestarts(t *testing.T) {
	t.Parallel()

	s := browsertest.New(map[string]*browsertest.Page{
		target: {NavigateErr: errors.New("net::ERR_TIMED_OUT")},
	})
	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{Op: "list page"})
	require.Equal(t, harvest.KindRestartSession, harvest.KindOf(err))
	require.ErrorContains(t, err, "list page")
}

func TestSafeNavigate_StuckAfterRefreshRestarts(t *testing.T) {
	t.Parallel()

	page := stuckPage()
	page.AfterRefresh = stuckPage()
	s := browsertest.New(map[string]*browsertest.Page{target: page})

	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{ReadyMarker: &listMarker})
	require.Equal(t, harvest.KindRestartSession, harvest.KindOf(err))
	require.Equal(t, 1, s.Refreshes())
}

func TestSafeNavigate_RefreshRecovers(t *testing.T) {
	t.Parallel()

	page := stuckPage()
	page.AfterRefresh = &browsertest.Page{
		Elements: map[string][]harvest.Element{"a.job-link": {{}}},
	}
	s := browsertest.New(map[string]*browsertest.Page{target: page})

	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{ReadyMarker: &listMarker})
	require.NoError(t, err)
	require.Equal(t, 1, s.Refreshes())
}

func TestSafeNavigate_StuckWithoutMarkerReturnsAfterOneRefresh(t *testing.T) {
	t.Parallel()

	page := stuckPage()
	page.AfterRefresh = stuckPage()
	s := browsertest.New(map[string]*browsertest.Page{target: page})

	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, s.Refreshes())
}

func TestSafeNavigate_MissingMarkerOnSettledPageIsNotFatal(t *testing.T) {
	t.Parallel()

	s := browsertest.New(map[string]*browsertest.Page{target: {}})
	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{ReadyMarker: &listMarker})
	require.NoError(t, err)
	require.Zero(t, s.Refreshes())
}

func TestSafeNavigate_ProbeErrorRestarts(t *testing.T) {
	t.Parallel()

	s := browsertest.New(map[string]*browsertest.Page{target: {}})
	s.ScriptErr = errors.New("script timeout")

	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{})
	require.Equal(t, harvest.KindRestartSession, harvest.KindOf(err))
}

func TestSafeNavigate_RefreshErrorRestarts(t *testing.T) {
	t.Parallel()

	s := browsertest.New(map[string]*browsertest.Page{target: stuckPage()})
	s.RefreshErr = errors.New("target closed")

	err := fastGuard().SafeNavigate(context.Background(), s, target, Options{})
	require.Equal(t, harvest.KindRestartSession, harvest.KindOf(err))
}

func TestSafeNavigate_CanceledContextIsInterruption(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := browsertest.New(map[string]*browsertest.Page{target: {}})

	err := fastGuard().SafeNavigate(ctx, s, target, Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, harvest.KindInterrupted, harvest.KindOf(err))
}
