package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// Session is one Chrome tab implementing harvest.Session.
type Session struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

var _ harvest.Session = (*Session)(nil)

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed || s.browserCtx == nil {
		return ErrClosed
	}
	taskCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Refresh reloads the current document.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// CurrentAddress returns the tab's location.
func (s *Session) CurrentAddress(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.ScriptTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// PageTitle returns document.title.
func (s *Session) PageTitle(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.cfg.ScriptTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

type foundElement struct {
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs"`
}

// FindAll evaluates sel in the page and snapshots every match.
func (s *Session) FindAll(ctx context.Context, sel harvest.Selector) ([]harvest.Element, error) {
	src, err := findAllScript(sel)
	if err != nil {
		return nil, err
	}
	var found []foundElement
	if err := s.run(ctx, s.cfg.ScriptTimeout, chromedp.Evaluate(src, &found)); err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	out := make([]harvest.Element, 0, len(found))
	for _, f := range found {
		out = append(out, harvest.Element{Text: f.Text, Attrs: f.Attrs})
	}
	return out, nil
}

// RunScript evaluates src. Null and undefined results come back as nil.
func (s *Session) RunScript(ctx context.Context, src string) (any, error) {
	var res any
	err := s.run(ctx, s.cfg.ScriptTimeout, chromedp.Evaluate(src, &res))
	if errors.Is(err, chromedp.ErrJSUndefined) || errors.Is(err, chromedp.ErrJSNull) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}
	return res, nil
}

// PrintToArtifact renders the current page as PDF.
func (s *Session) PrintToArtifact(ctx context.Context, opts harvest.PrintOptions) ([]byte, error) {
	var pdf []byte
	err := s.run(ctx, s.cfg.PrintTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPrintBackground(opts.PrintBackground).
			WithLandscape(opts.Landscape).
			WithPreferCSSPageSize(true).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	return pdf, nil
}

// Close shuts the browser down. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.browserCtx != nil {
			if err := chromedp.Cancel(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("close chrome: %w", err)
			}
		}
		if s.browserCancel != nil {
			s.browserCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
	})
	return s.closeErr
}

const findAllTemplate = `(function(kind, expr) {
  var nodes = [];
  if (kind === "xpath") {
    var r = document.evaluate(expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    for (var i = 0; i < r.snapshotLength; i++) nodes.push(r.snapshotItem(i));
  } else {
    nodes = Array.prototype.slice.call(document.querySelectorAll(expr));
  }
  return nodes.map(function(n) {
    var attrs = {};
    if (n.attributes) {
      for (var j = 0; j < n.attributes.length; j++) attrs[n.attributes[j].name] = n.attributes[j].value;
    }
    if (typeof n.href === "string" && n.href) attrs.href = n.href;
    var text = n.innerText !== undefined ? n.innerText : n.textContent;
    return {text: text || "", attrs: attrs};
  });
})(%s, %s)`

func findAllScript(sel harvest.Selector) (string, error) {
	kind := "css"
	if sel.Kind == harvest.ByXPath {
		kind = "xpath"
	}
	k, err := json.Marshal(kind)
	if err != nil {
		return "", err
	}
	expr, err := json.Marshal(sel.Expr)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	return fmt.Sprintf(findAllTemplate, k, expr), nil
}
