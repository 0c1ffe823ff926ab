// Package navigate implements guarded navigation: load, wait for readiness,
// refresh at most once if the page is wedged, and escalate to a session
// restart when it stays unusable.
package navigate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// Probe answers readiness questions about the current page.
type Probe interface {
	Ready(ctx context.Context, s harvest.Session) (bool, error)
	LooksStuck(ctx context.Context, s harvest.Session) bool
}

// Config holds the guard's time windows.
type Config struct {
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	RefreshWindow time.Duration `mapstructure:"refresh_window"`
	MarkerWait    time.Duration `mapstructure:"marker_wait"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns 45s readiness, 20s after refresh, 15s marker wait and
// a 500ms poll.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:  45 * time.Second,
		RefreshWindow: 20 * time.Second,
		MarkerWait:    15 * time.Second,
		PollInterval:  500 * time.Millisecond,
	}
}

// Options tunes a single SafeNavigate call.
type Options struct {
	// Op names the call site in failures and logs.
	Op string
	// ReadyMarker, when set, must appear for the page to count as usable.
	ReadyMarker *harvest.Selector
	// Timeout overrides Config.ReadyTimeout.
	Timeout time.Duration
}

// Guard is the single entry point for navigation.
type Guard struct {
	cfg    Config
	probe  Probe
	logger *zap.Logger
}

// NewGuard builds a Guard. Zero durations fall back to DefaultConfig.
func NewGuard(cfg Config, probe Probe, logger *zap.Logger) *Guard {
	def := DefaultConfig()
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = def.RefreshWindow
	}
	if cfg.MarkerWait <= 0 {
		cfg.MarkerWait = def.MarkerWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{cfg: cfg, probe: probe, logger: logger}
}

// SafeNavigate loads target and returns nil once the page is usable, a
// RestartSession failure when the session looks wedged, or the caller's
// context error on interruption.
func (g *Guard) SafeNavigate(ctx context.Context, s harvest.Session, target string, opts Options) error {
	op := opts.Op
	if op == "" {
		op = "navigate"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = g.cfg.ReadyTimeout
	}
	logger := g.logger.With(zap.String("op", op), zap.String("url", target))

	if err := s.Navigate(ctx, target); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return harvest.RestartSession(op, "navigation failed", err)
	}

	ready, err := g.pollReady(ctx, s, timeout, false)
	if err != nil {
		return g.fail(ctx, op, "readiness probe failed", err)
	}
	if !ready {
		logger.Debug("page not ready within timeout", zap.Duration("timeout", timeout))
	}

	if g.probe.LooksStuck(ctx, s) {
		logger.Warn("page looks stuck, refreshing once")
		if err := s.Refresh(ctx); err != nil {
			return g.fail(ctx, op, "refresh failed", err)
		}
		if _, err := g.pollReady(ctx, s, g.cfg.RefreshWindow, true); err != nil {
			return g.fail(ctx, op, "readiness probe after refresh failed", err)
		}
	}

	if opts.ReadyMarker == nil {
		return nil
	}
	if g.waitForMarker(ctx, s, *opts.ReadyMarker) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if g.probe.LooksStuck(ctx, s) {
		return harvest.RestartSession(op, "page unusable after navigation to "+target, nil)
	}
	logger.Debug("ready marker not observed", zap.Stringer("marker", opts.ReadyMarker))
	return nil
}

// pollReady polls until ready (and, when requireUnstuck, not stuck) or the
// window closes. Probe errors end the poll.
func (g *Guard) pollReady(ctx context.Context, s harvest.Session, window time.Duration, requireUnstuck bool) (bool, error) {
	deadline := time.Now().Add(window)
	for {
		ready, err := g.probe.Ready(ctx, s)
		if err != nil {
			return false, err
		}
		if ready && (!requireUnstuck || !g.probe.LooksStuck(ctx, s)) {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := sleep(ctx, g.cfg.PollInterval); err != nil {
			return false, err
		}
	}
}

func (g *Guard) waitForMarker(ctx context.Context, s harvest.Session, marker harvest.Selector) bool {
	deadline := time.Now().Add(g.cfg.MarkerWait)
	for {
		els, err := s.FindAll(ctx, marker)
		if err == nil && len(els) > 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		if sleep(ctx, g.cfg.PollInterval) != nil {
			return false
		}
	}
}

func (g *Guard) fail(ctx context.Context, op, reason string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return harvest.RestartSession(op, reason, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
