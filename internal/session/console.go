package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrNoOperator is returned when the input stream closes before the operator
// confirms the login.
var ErrNoOperator = errors.New("operator input closed before login was confirmed")

// ConsoleAuthenticator prompts on out and waits for a line on in. A single
// reader goroutine owns in for the authenticator's lifetime, so a canceled
// AwaitLogin leaves nothing behind that competes with the next call.
type ConsoleAuthenticator struct {
	in  *bufio.Reader
	out io.Writer

	start sync.Once
	lines chan struct{}
	// err is the read error that ended the reader; valid once lines is closed.
	err error
}

// NewConsoleAuthenticator builds an authenticator; nil streams default to
// stdin and stdout.
func NewConsoleAuthenticator(in io.Reader, out io.Writer) *ConsoleAuthenticator {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleAuthenticator{in: bufio.NewReader(in), out: out, lines: make(chan struct{})}
}

// read delivers one signal per input line and closes lines on the first
// error. A line entered while nobody waits is held for the next call.
func (a *ConsoleAuthenticator) read() {
	for {
		if _, err := a.in.ReadString('\n'); err != nil {
			a.err = err
			close(a.lines)
			return
		}
		a.lines <- struct{}{}
	}
}

// AwaitLogin blocks without a deadline until a line is read or ctx ends.
func (a *ConsoleAuthenticator) AwaitLogin(ctx context.Context, prompt string) error {
	if _, err := fmt.Fprintf(a.out, "\n%s\n", prompt); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}
	a.start.Do(func() { go a.read() })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-a.lines:
		if ok {
			return nil
		}
		if errors.Is(a.err, io.EOF) {
			return ErrNoOperator
		}
		return fmt.Errorf("read operator input: %w", a.err)
	}
}
