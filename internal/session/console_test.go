package session

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConsoleAuthenticatorReadsLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	auth := NewConsoleAuthenticator(strings.NewReader("\n"), &out)
	require.NoError(t, auth.AwaitLogin(context.Background(), "press ENTER"))
	require.Contains(t, out.String(), "press ENTER")
}

func TestConsoleAuthenticatorClosedInput(t *testing.T) {
	t.Parallel()

	auth := NewConsoleAuthenticator(strings.NewReader(""), io.Discard)
	require.ErrorIs(t, auth.AwaitLogin(context.Background(), "x"), ErrNoOperator)
}

func TestConsoleAuthenticatorCanceled(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer func() { _ = w.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	auth := NewConsoleAuthenticator(r, io.Discard)
	require.ErrorIs(t, auth.AwaitLogin(ctx, "x"), context.Canceled)
}

type readTracker struct {
	r        io.Reader
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (t *readTracker) Read(p []byte) (int, error) {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		peak := t.peak.Load()
		if n <= peak || t.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return t.r.Read(p)
}

func TestConsoleAuthenticatorReusableAfterCancel(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer func() { _ = w.Close() }()
	tracker := &readTracker{r: r}
	auth := NewConsoleAuthenticator(tracker, io.Discard)

	for range 3 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		require.ErrorIs(t, auth.AwaitLogin(ctx, "x"), context.DeadlineExceeded)
		cancel()
	}

	done := make(chan error, 1)
	go func() { done <- auth.AwaitLogin(context.Background(), "x") }()
	_, err := io.WriteString(w, "\n")
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, int32(1), tracker.peak.Load())
}

func TestConsoleAuthenticatorClosedInputStaysClosed(t *testing.T) {
	t.Parallel()

	auth := NewConsoleAuthenticator(strings.NewReader("\n"), io.Discard)
	require.NoError(t, auth.AwaitLogin(context.Background(), "x"))
	require.ErrorIs(t, auth.AwaitLogin(context.Background(), "x"), ErrNoOperator)
	require.ErrorIs(t, auth.AwaitLogin(context.Background(), "x"), ErrNoOperator)
}
