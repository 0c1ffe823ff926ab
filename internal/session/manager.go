// Package session owns the browser session lifecycle: launch on a persistent
// profile, wait for the operator to authenticate, health-check the result and
// decide between reusing and destroying the profile after failures.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
	"github.com/JakeFAU/list-harvester/internal/navigate"
)

// State is the lifecycle position of the Manager.
type State string

// Lifecycle states.
const (
	StateUninitialized      State = "uninitialized"
	StateAcquiring          State = "acquiring"
	StateAwaitingManualAuth State = "awaiting_manual_auth"
	StateHealthChecking     State = "health_checking"
	StateHealthy            State = "healthy"
	StateDegraded           State = "degraded"
	StatePoisoned           State = "poisoned"
	StateClosed             State = "closed"
)

// Tier is the remediation chosen after an unresponsive session.
type Tier string

// Remediation tiers.
const (
	TierReuseProfile Tier = "reuse_profile"
	TierResetProfile Tier = "reset_profile"
)

// poisonThreshold is the strike count at which the profile is destroyed.
const poisonThreshold = 2

// Driver launches browser sessions bound to a profile directory.
type Driver interface {
	Open(ctx context.Context, profileDir string) (harvest.Session, error)
}

// Authenticator blocks until the operator reports a completed login.
type Authenticator interface {
	AwaitLogin(ctx context.Context, prompt string) error
}

// Navigator is the guarded navigation entry point.
type Navigator interface {
	SafeNavigate(ctx context.Context, s harvest.Session, target string, opts navigate.Options) error
}

// Classifier detects verification walls.
type Classifier interface {
	IsBlocked(ctx context.Context, s harvest.Session) bool
}

// Config holds addresses and windows for acquisition.
type Config struct {
	ProfileDir      string
	EntryURL        string
	HealthURL       string
	ListReadyMarker harvest.Selector
	AuthReadyWait   time.Duration
	HealthTimeout   time.Duration
	PollInterval    time.Duration
	LoginPrompt     string
}

// Manager drives one session at a time through its lifecycle.
type Manager struct {
	cfg        Config
	fs         afero.Fs
	driver     Driver
	nav        Navigator
	classifier Classifier
	auth       Authenticator
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	strikes int
	session harvest.Session
}

// NewManager wires a Manager. A nil fs uses the OS filesystem.
func NewManager(
	cfg Config,
	fs afero.Fs,
	driver Driver,
	nav Navigator,
	classifier Classifier,
	auth Authenticator,
	logger *zap.Logger,
) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AuthReadyWait <= 0 {
		cfg.AuthReadyWait = 15 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 25 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LoginPrompt == "" {
		cfg.LoginPrompt = "Log in fully in the browser window (including any one-time code), then press ENTER here..."
	}
	return &Manager{
		cfg:        cfg,
		fs:         fs,
		driver:     driver,
		nav:        nav,
		classifier: classifier,
		auth:       auth,
		logger:     logger.Named("session"),
		state:      StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Strikes returns the poison strike counter.
func (m *Manager) Strikes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strikes
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Debug("session state", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// Acquire launches a session, waits for manual authentication and health
// checks it. On success the strike counter resets to zero.
func (m *Manager) Acquire(ctx context.Context) (harvest.Session, error) {
	m.setState(StateAcquiring)
	s, err := m.driver.Open(ctx, m.cfg.ProfileDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, harvest.RestartSession("acquire", "browser launch failed", err)
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
	m.logger.Info("browser session started", zap.String("profile_dir", m.cfg.ProfileDir))

	m.setState(StateAwaitingManualAuth)
	if err := m.authenticate(ctx, s); err != nil {
		return nil, err
	}

	m.setState(StateHealthChecking)
	if err := m.healthCheck(ctx, s); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.strikes = 0
	m.mu.Unlock()
	m.setState(StateHealthy)
	m.logger.Info("session healthy")
	return s, nil
}

func (m *Manager) authenticate(ctx context.Context, s harvest.Session) error {
	if err := m.nav.SafeNavigate(ctx, s, m.cfg.EntryURL, navigate.Options{Op: "manual_login"}); err != nil {
		return err
	}
	if err := m.auth.AwaitLogin(ctx, m.cfg.LoginPrompt); err != nil {
		return err
	}
	if m.waitFor(ctx, s, m.cfg.ListReadyMarker, m.cfg.AuthReadyWait) {
		m.logger.Info("login confirmed, list view detected")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.classifier.IsBlocked(ctx, s) {
		return harvest.Blocked("manual_login", "list view not detected after login")
	}
	addr, _ := s.CurrentAddress(ctx)
	return fmt.Errorf("manual_login: list view not detected after login (address %q)", addr)
}

func (m *Manager) healthCheck(ctx context.Context, s harvest.Session) error {
	body := harvest.CSS("body")
	err := m.nav.SafeNavigate(ctx, s, m.cfg.HealthURL, navigate.Options{
		Op:          "health_check",
		ReadyMarker: &body,
		Timeout:     m.cfg.HealthTimeout,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return harvest.RestartSession("health_check", "profile unhealthy", err)
	}
	if els, ferr := s.FindAll(ctx, body); ferr != nil || len(els) == 0 {
		return harvest.RestartSession("health_check", "no document body", ferr)
	}
	if m.classifier.IsBlocked(ctx, s) {
		return harvest.RestartSession("health_check", "checkpoint on health page", nil)
	}
	return nil
}

func (m *Manager) waitFor(ctx context.Context, s harvest.Session, sel harvest.Selector, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		if els, err := s.FindAll(ctx, sel); err == nil && len(els) > 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		t := time.NewTimer(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// RecordUnresponsive counts one session-unresponsive event and returns the
// new strike count.
func (m *Manager) RecordUnresponsive() int {
	m.mu.Lock()
	if m.strikes < poisonThreshold {
		m.strikes++
	}
	strikes := m.strikes
	if strikes >= poisonThreshold {
		m.state = StatePoisoned
	} else {
		m.state = StateDegraded
	}
	m.mu.Unlock()
	m.logger.Warn("session unresponsive", zap.Int("strike", strikes))
	return strikes
}

// Remediate releases the session and applies the tier matching the strike
// count: reuse the profile below the threshold, otherwise delete it and start
// counting again.
func (m *Manager) Remediate() (Tier, error) {
	m.Close()
	m.mu.Lock()
	strikes := m.strikes
	m.mu.Unlock()
	if strikes < poisonThreshold {
		m.logger.Info("restarting session on existing profile", zap.Int("strike", strikes))
		return TierReuseProfile, nil
	}

	m.logger.Warn("resetting browser profile", zap.String("profile_dir", m.cfg.ProfileDir))
	m.mu.Lock()
	m.strikes = 0
	m.mu.Unlock()
	if err := m.ResetProfile(); err != nil {
		return TierResetProfile, err
	}
	return TierResetProfile, nil
}

// ResetProfile deletes the profile directory.
func (m *Manager) ResetProfile() error {
	if m.cfg.ProfileDir == "" {
		return nil
	}
	if err := m.fs.RemoveAll(m.cfg.ProfileDir); err != nil {
		return fmt.Errorf("remove profile %s: %w", m.cfg.ProfileDir, err)
	}
	return nil
}

// Close releases the session if one is open. Safe to call repeatedly.
func (m *Manager) Close() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.state = StateClosed
	m.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		m.logger.Warn("browser close failed", zap.Error(err))
		return
	}
	m.logger.Info("browser closed")
}
