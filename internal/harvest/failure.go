package harvest

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for the orchestrator.
type Kind int

// Failure kinds, from least to most severe for the run.
const (
	KindNone Kind = iota
	KindItem
	KindBlocked
	KindRestartSession
	KindInterrupted
	KindUnclassified
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindItem:
		return "item"
	case KindBlocked:
		return "blocked"
	case KindRestartSession:
		return "restart_session"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unclassified"
	}
}

// Failure carries a Kind alongside the operation that produced it.
type Failure struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	msg := f.Op
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Blocked reports a checkpoint or verification wall.
func Blocked(op, reason string) error {
	return &Failure{Kind: KindBlocked, Op: op, Reason: reason}
}

// RestartSession reports an unresponsive or wedged session.
func RestartSession(op, reason string, err error) error {
	return &Failure{Kind: KindRestartSession, Op: op, Reason: reason, Err: err}
}

// ItemFailed reports a failure scoped to one record.
func ItemFailed(op string, err error) error {
	return &Failure{Kind: KindItem, Op: op, Err: err}
}

// KindOf classifies err. Caller cancellation always wins so an interrupt is
// never mistaken for a session fault.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindInterrupted
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnclassified
}

// Reason returns a short label for state files and notifications.
func Reason(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		if f.Reason != "" {
			return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
		}
		return fmt.Sprintf("%s: %s", f.Kind, f.Op)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
