// Package headless drives a real Chrome through chromedp. Each Session owns
// one browser process bound to a persistent user-data directory so cookies
// and logins survive restarts.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// Config controls the browser process and per-operation timeouts.
type Config struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ScriptTimeout     time.Duration `mapstructure:"script_timeout"`
	PrintTimeout      time.Duration `mapstructure:"print_timeout"`
}

func (c Config) withDefaults() Config {
	if c.WindowWidth <= 0 {
		c.WindowWidth = 1440
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = 900
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 60 * time.Second
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = 15 * time.Second
	}
	if c.PrintTimeout <= 0 {
		c.PrintTimeout = 60 * time.Second
	}
	return c
}

// Driver launches Chrome sessions. It implements session.Driver.
type Driver struct {
	cfg    Config
	logger *zap.Logger
}

// NewDriver returns a Driver with defaults applied.
func NewDriver(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg.withDefaults(), logger: logger.Named("browser")}
}

// allocatorOptions mirrors a hand-launched desktop Chrome: automation banners
// off, one pinned profile, no notification or popup prompts.
func (d *Driver) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-features", "WebRtcHideLocalIpsWithMdns,WebRtcEnableChromeMdns"),
		chromedp.Flag("profile-directory", "Default"),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(d.cfg.WindowWidth, d.cfg.WindowHeight),
	)
	if !d.cfg.Headless {
		opts = append(opts, chromedp.Flag("start-maximized", true))
	}
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}
	if d.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.cfg.UserAgent))
	}
	return opts
}

// Open starts Chrome on profileDir and returns its first tab. The browser
// lives until Session.Close, independent of ctx.
func (d *Driver) Open(ctx context.Context, profileDir string) (harvest.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions(profileDir)...)
	sugar := d.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	// The first Run starts Chrome with its own context, so it must be the
	// long-lived browserCtx. The launch deadline is enforced from outside.
	err := awaitLaunch(ctx, d.cfg.LaunchTimeout, func() error { return chromedp.Run(browserCtx) })
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	d.logger.Info("chrome launched", zap.String("profile_dir", profileDir), zap.Bool("headless", d.cfg.Headless))
	return &Session{
		cfg:           d.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        d.logger,
	}, nil
}

// ErrLaunchTimeout is returned by Open when Chrome does not come up within
// Config.LaunchTimeout.
var ErrLaunchTimeout = errors.New("chrome launch timed out")

// awaitLaunch runs launch in the background and waits for it, the timeout,
// or ctx. On timeout or cancel the caller owns tearing the browser down,
// which also unblocks launch.
func awaitLaunch(ctx context.Context, timeout time.Duration, launch func() error) error {
	done := make(chan error, 1)
	go func() { done <- launch() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrLaunchTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forwardCancel cancels the task when parent finishes first.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// ErrClosed is returned by every Session method after Close.
var ErrClosed = errors.New("browser session closed")
