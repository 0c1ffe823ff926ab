// Package notify delivers short operator alerts: a log line, a terminal
// bell, or a Pub/Sub message. Delivery is best effort.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// Titles used by the orchestrator.
const (
	TitleLoginNeeded     = "Login needed"
	TitleSessionRestart  = "Session restarted"
	TitleProfileReset    = "Profile reset"
	TitleBudgetExhausted = "Harvest stopped"
	TitleFinished        = "Harvest finished"
)

// Log writes notifications to a zap logger at warn level.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

// Notify implements harvest.Notifier.
func (l *Log) Notify(_ context.Context, title, message string) error {
	l.logger.Warn(message, zap.String("title", title))
	return nil
}

// Console rings the terminal bell and prints the alert.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	bell bool
}

// NewConsole writes alerts to w.
func NewConsole(w io.Writer, bell bool) *Console {
	return &Console{w: w, bell: bell}
}

// Notify implements harvest.Notifier.
func (c *Console) Notify(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := ""
	if c.bell {
		prefix = "\a"
	}
	if _, err := fmt.Fprintf(c.w, "%s[%s] %s\n", prefix, title, message); err != nil {
		return fmt.Errorf("write console alert: %w", err)
	}
	return nil
}

// Publisher is satisfied by the pubsub and memory publishers.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// Message is the Pub/Sub payload.
type Message struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Source  string    `json:"source,omitempty"`
	At      time.Time `json:"at"`
}

// Topic publishes alerts as JSON Messages.
type Topic struct {
	pub    Publisher
	source string
	clock  harvest.Clock
}

// NewTopic wraps pub. source identifies this harvester in the payload.
func NewTopic(pub Publisher, source string, clock harvest.Clock) *Topic {
	return &Topic{pub: pub, source: source, clock: clock}
}

// Notify implements harvest.Notifier.
func (t *Topic) Notify(ctx context.Context, title, message string) error {
	msg := Message{Title: title, Message: message, Source: t.source}
	if t.clock != nil {
		msg.At = t.clock.Now().UTC()
	}
	if _, err := t.pub.Publish(ctx, title, msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Multi fans out to every notifier. Individual failures are logged and never
// returned.
type Multi struct {
	targets []harvest.Notifier
	logger  *zap.Logger
}

// NewMulti drops nil targets.
func NewMulti(logger *zap.Logger, targets ...harvest.Notifier) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger.Named("notify")}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

// Notify implements harvest.Notifier and always returns nil.
func (m *Multi) Notify(ctx context.Context, title, message string) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Notify(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("notification delivery failed", zap.String("title", title), zap.Error(err))
	}
	return nil
}
