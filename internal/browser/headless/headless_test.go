package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 15*time.Second, cfg.ScriptTimeout)
	assert.Equal(t, 1440, cfg.WindowWidth)

	cfg = Config{NavigationTimeout: time.Second}.withDefaults()
	assert.Equal(t, time.Second, cfg.NavigationTimeout)
}

func TestFindAllScriptQuotesExpression(t *testing.T) {
	t.Parallel()

	src, err := findAllScript(harvest.XPath(`//*[contains(text(), "Let's confirm")]`))
	require.NoError(t, err)
	assert.Contains(t, src, `("xpath", "//*[contains(text(), \"Let's confirm\")]")`)

	src, err = findAllScript(harvest.CSS("div.card a"))
	require.NoError(t, err)
	assert.Contains(t, src, `("css", "div.card a")`)
}

func TestAllocatorOptionsIncludeProfile(t *testing.T) {
	t.Parallel()

	d := NewDriver(Config{Headless: true}, nil)
	withProfile := d.allocatorOptions("/tmp/profile")
	without := d.allocatorOptions("")
	assert.Len(t, withProfile, len(without)+1)
}

func TestOpenCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDriver(Config{}, nil).Open(ctx, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

func TestAwaitLaunch(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, awaitLaunch(context.Background(), time.Second, func() error { return nil }))
	})

	t.Run("launch error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("exec: chrome not found")
		err := awaitLaunch(context.Background(), time.Second, func() error { return boom })
		require.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "launch chrome")
	})

	t.Run("timeout leaves launch context alone", func(t *testing.T) {
		t.Parallel()
		// Stands in for chromedp.Run on the browser context: it only returns
		// once the caller tears the browser down.
		browserCtx, browserCancel := context.WithCancel(context.Background())
		returned := make(chan struct{})
		err := awaitLaunch(context.Background(), 10*time.Millisecond, func() error {
			defer close(returned)
			<-browserCtx.Done()
			return browserCtx.Err()
		})
		require.ErrorIs(t, err, ErrLaunchTimeout)
		require.NoError(t, browserCtx.Err())
		browserCancel()
		<-returned
	})

	t.Run("caller canceled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		release := make(chan struct{})
		defer close(release)
		go cancel()
		err := awaitLaunch(ctx, time.Minute, func() error {
			<-release
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestClosedSession(t *testing.T) {
	t.Parallel()

	s := &Session{cfg: Config{}.withDefaults()}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Navigate(context.Background(), "https://example.com")
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.FindAll(context.Background(), harvest.CSS("body"))
	require.ErrorIs(t, err, ErrClosed)
}
