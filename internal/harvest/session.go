package harvest

import "context"

// SelectorKind chooses how a Selector expression is evaluated.
type SelectorKind int

// Supported selector kinds.
const (
	ByCSS SelectorKind = iota
	ByXPath
)

// Selector addresses elements in the current document.
type Selector struct {
	Kind SelectorKind
	Expr string
}

// CSS builds a CSS selector.
func CSS(expr string) Selector {
	return Selector{Kind: ByCSS, Expr: expr}
}

// XPath builds an XPath selector.
func XPath(expr string) Selector {
	return Selector{Kind: ByXPath, Expr: expr}
}

func (s Selector) String() string {
	if s.Kind == ByXPath {
		return "xpath:" + s.Expr
	}
	return "css:" + s.Expr
}

// Element is a snapshot of a matched node.
type Element struct {
	Text  string
	Attrs map[string]string
}

// Attr returns the attribute value or "".
func (e Element) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// PrintOptions controls PrintToArtifact.
type PrintOptions struct {
	Landscape       bool
	PrintBackground bool
}

// Session is an authenticated browser tab bound to a persistent profile. All
// methods block and honor ctx.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Refresh(ctx context.Context) error
	CurrentAddress(ctx context.Context) (string, error)
	PageTitle(ctx context.Context) (string, error)
	FindAll(ctx context.Context, sel Selector) ([]Element, error)
	// RunScript evaluates src and returns the JSON-decoded result.
	RunScript(ctx context.Context, src string) (any, error)
	PrintToArtifact(ctx context.Context, opts PrintOptions) ([]byte, error)
	Close() error
}

// Well-known scripts shared by the detectors and extractors.
const (
	ReadyStateScript = "document.readyState"
	OuterHTMLScript  = "document.documentElement.outerHTML"
)
