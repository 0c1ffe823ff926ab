// Package browsertest provides a scriptable in-memory harvest.Session for
// exercising navigation, traversal and session logic without a browser.
package browsertest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// ErrNoPage is returned when navigating to an unregistered address.
var ErrNoPage = errors.New("browsertest: no such page")

// Page describes what the fake returns while it is the current document.
type Page struct {
	// Address overrides the reported location (e.g. a checkpoint redirect).
	Address string
	Title   string
	HTML    string
	// ReadyStates is consumed one entry per readiness probe; the last entry
	// repeats. Empty means "complete".
	ReadyStates []string
	// Elements maps a selector expression to its matches. Comma-separated
	// CSS groups are resolved part by part.
	Elements map[string][]harvest.Element
	// AfterRefresh replaces the page when Refresh is called.
	AfterRefresh *Page
	NavigateErr  error
	// Scripts maps a script source to its result.
	Scripts map[string]any
}

// Session is a fake harvest.Session. Exported fields may be set before use;
// counters are read back through accessor methods.
type Session struct {
	Pages      map[string]*Page
	AddressErr error
	TitleErr   error
	FindErr    error
	ScriptErr  error
	RefreshErr error
	PrintErr   error
	PDF        []byte

	mu          sync.Mutex
	current     *Page
	currentURL  string
	readyIdx    int
	navigations []string
	refreshes   int
	scripts     []string
	closed      int
}

// New returns a Session serving pages keyed by URL.
func New(pages map[string]*Page) *Session {
	if pages == nil {
		pages = map[string]*Page{}
	}
	return &Session{Pages: pages, PDF: []byte("%PDF-1.4 fake")}
}

// Navigate implements harvest.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	page, ok := s.Pages[url]
	if !ok {
		return ErrNoPage
	}
	if page.NavigateErr != nil {
		return page.NavigateErr
	}
	s.current = page
	s.currentURL = url
	s.readyIdx = 0
	return nil
}

// Refresh implements harvest.Session.
func (s *Session) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.RefreshErr != nil {
		return s.RefreshErr
	}
	if s.current != nil && s.current.AfterRefresh != nil {
		s.current = s.current.AfterRefresh
	}
	s.readyIdx = 0
	return nil
}

// CurrentAddress implements harvest.Session.
func (s *Session) CurrentAddress(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddressErr != nil {
		return "", s.AddressErr
	}
	if s.current != nil && s.current.Address != "" {
		return s.current.Address, nil
	}
	return s.currentURL, nil
}

// PageTitle implements harvest.Session.
func (s *Session) PageTitle(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TitleErr != nil {
		return "", s.TitleErr
	}
	if s.current == nil {
		return "", nil
	}
	return s.current.Title, nil
}

// FindAll implements harvest.Session.
func (s *Session) FindAll(ctx context.Context, sel harvest.Selector) ([]harvest.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	if s.current == nil {
		return nil, nil
	}
	if matches, ok := s.current.Elements[sel.Expr]; ok {
		return append([]harvest.Element(nil), matches...), nil
	}
	if sel.Kind != harvest.ByCSS || !strings.Contains(sel.Expr, ",") {
		return nil, nil
	}
	var out []harvest.Element
	for _, part := range strings.Split(sel.Expr, ",") {
		out = append(out, s.current.Elements[strings.TrimSpace(part)]...)
	}
	return out, nil
}

// RunScript implements harvest.Session.
func (s *Session) RunScript(ctx context.Context, src string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, src)
	if s.ScriptErr != nil {
		return nil, s.ScriptErr
	}
	if s.current == nil {
		return nil, nil
	}
	switch src {
	case harvest.ReadyStateScript:
		return s.nextReadyState(), nil
	case harvest.OuterHTMLScript:
		return s.current.HTML, nil
	}
	if v, ok := s.current.Scripts[src]; ok {
		return v, nil
	}
	return nil, nil
}

func (s *Session) nextReadyState() string {
	states := s.current.ReadyStates
	if len(states) == 0 {
		return "complete"
	}
	i := s.readyIdx
	if i >= len(states) {
		i = len(states) - 1
	} else {
		s.readyIdx++
	}
	return states[i]
}

// PrintToArtifact implements harvest.Session.
func (s *Session) PrintToArtifact(ctx context.Context, _ harvest.PrintOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PrintErr != nil {
		return nil, s.PrintErr
	}
	return append([]byte(nil), s.PDF...), nil
}

// Close implements harvest.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Navigations returns every address passed to Navigate.
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Refreshes returns the number of Refresh calls.
func (s *Session) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// Scripts returns every evaluated script source.
func (s *Session) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// Closed returns the number of Close calls.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
