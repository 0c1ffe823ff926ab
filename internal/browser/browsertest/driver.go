package browsertest

import (
	"context"
	"sync"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// Driver hands out sessions produced by Factory and records every profile
// directory it was asked to open.
type Driver struct {
	// Factory builds the session for the n-th Open call (0-based).
	Factory func(n int) *Session
	OpenErr error

	mu       sync.Mutex
	opened   []string
	sessions []*Session
}

// Open implements the session driver contract.
func (d *Driver) Open(ctx context.Context, profileDir string) (harvest.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	n := len(d.opened)
	d.opened = append(d.opened, profileDir)
	s := d.Factory(n)
	d.sessions = append(d.sessions, s)
	return s, nil
}

// Opened returns the profile directories passed to Open.
func (d *Driver) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

// Sessions returns the sessions handed out so far.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}
