// Package extract reads list items and detail records out of the rendered
// DOM. It parses the page's outer HTML with goquery; selectors are
// configuration.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // timezone lookups must not depend on the host zoneinfo
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/clock/system"
	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// Config lists the selectors and limits used by the Extractor.
type Config struct {
	ListAnchor       string   `mapstructure:"list_anchor"`
	CardTitle        string   `mapstructure:"card_title"`
	CardGroup        string   `mapstructure:"card_group"`
	CardNoise        []string `mapstructure:"card_noise"`
	IDPattern        string   `mapstructure:"id_pattern"`
	DetailTitle      []string `mapstructure:"detail_title"`
	DetailGroup      []string `mapstructure:"detail_group"`
	DetailRecency    []string `mapstructure:"detail_recency"`
	DetailBody       []string `mapstructure:"detail_body"`
	ExpandScript     string   `mapstructure:"expand_script"`
	MinBodyLength    int      `mapstructure:"min_body_length"`
	SummaryLength    int      `mapstructure:"summary_length"`
	Timezone         string   `mapstructure:"timezone"`
	UnknownTitle     string   `mapstructure:"unknown_title"`
	UnknownGroup     string   `mapstructure:"unknown_group"`
	UnknownRecency   string   `mapstructure:"unknown_recency"`
	MissingBodyLabel string   `mapstructure:"missing_body_label"`
}

// DefaultExpandScript clicks the collapsed description toggle if present.
const DefaultExpandScript = `(() => {
  let b = document.querySelector("button.jobs-description__footer-button[aria-expanded='false']");
  if (!b) {
    b = Array.from(document.querySelectorAll("button")).find(x => /see more/i.test(x.textContent || ""));
  }
  if (b) { b.click(); return true; }
  return false;
})()`

// DefaultConfig returns selectors for the saved-items list layout.
func DefaultConfig() Config {
	return Config{
		ListAnchor: "div[class*='linked-area'] a[href*='/jobs/view/']",
		CardTitle:  "div.t-roman.t-sans",
		CardGroup:  "div.t-14.t-black.t-normal",
		CardNoise:  []string{"singapore", "remote", "hybrid", "full-time", "part-time", "contract"},
		IDPattern:  `/jobs/view/(\d+)`,
		DetailTitle: []string{
			"h1.t-24.t-bold.inline",
			"h1",
		},
		DetailGroup: []string{
			"div.job-details-jobs-unified-top-card__company-name a",
			"a.app-aware-link[href*='/company/']",
			"span.job-details-jobs-unified-top-card__company-name",
		},
		DetailRecency: []string{"*:containsOwn('Application submitted')"},
		DetailBody: []string{
			"div.jobs-description__content",
			"div.jobs-description-content__text",
			"div.jobs-box__html-content",
			"article[class*='jobs-description']",
		},
		ExpandScript:     DefaultExpandScript,
		MinBodyLength:    50,
		SummaryLength:    500,
		Timezone:         "Asia/Singapore",
		UnknownTitle:     "Unknown Role",
		UnknownGroup:     "Unknown",
		UnknownRecency:   "Unknown",
		MissingBodyLabel: "Description not available",
	}
}

// Extractor implements traverse.Extractor over goquery.
type Extractor struct {
	cfg    Config
	idRe   *regexp.Regexp
	loc    *time.Location
	noise  []string
	clock  harvest.Clock
	logger *zap.Logger
}

// New validates cfg and builds an Extractor. Empty fields take the defaults.
func New(cfg Config, clock harvest.Clock, logger *zap.Logger) (*Extractor, error) {
	cfg = withDefaults(cfg)
	idRe, err := regexp.Compile(cfg.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	if idRe.NumSubexp() < 1 {
		return nil, errors.New("id pattern needs one capture group")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	noise := make([]string, 0, len(cfg.CardNoise))
	for _, n := range cfg.CardNoise {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			noise = append(noise, n)
		}
	}
	return &Extractor{cfg: cfg, idRe: idRe, loc: loc, noise: noise, clock: clock, logger: logger.Named("extract")}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ListAnchor == "" {
		cfg.ListAnchor = def.ListAnchor
	}
	if cfg.CardTitle == "" {
		cfg.CardTitle = def.CardTitle
	}
	if cfg.CardGroup == "" {
		cfg.CardGroup = def.CardGroup
	}
	if cfg.CardNoise == nil {
		cfg.CardNoise = def.CardNoise
	}
	if cfg.IDPattern == "" {
		cfg.IDPattern = def.IDPattern
	}
	if len(cfg.DetailTitle) == 0 {
		cfg.DetailTitle = def.DetailTitle
	}
	if len(cfg.DetailGroup) == 0 {
		cfg.DetailGroup = def.DetailGroup
	}
	if len(cfg.DetailRecency) == 0 {
		cfg.DetailRecency = def.DetailRecency
	}
	if len(cfg.DetailBody) == 0 {
		cfg.DetailBody = def.DetailBody
	}
	if cfg.ExpandScript == "" {
		cfg.ExpandScript = def.ExpandScript
	}
	if cfg.MinBodyLength <= 0 {
		cfg.MinBodyLength = def.MinBodyLength
	}
	if cfg.SummaryLength <= 0 {
		cfg.SummaryLength = def.SummaryLength
	}
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.UnknownTitle == "" {
		cfg.UnknownTitle = def.UnknownTitle
	}
	if cfg.UnknownGroup == "" {
		cfg.UnknownGroup = def.UnknownGroup
	}
	if cfg.UnknownRecency == "" {
		cfg.UnknownRecency = def.UnknownRecency
	}
	if cfg.MissingBodyLabel == "" {
		cfg.MissingBodyLabel = def.MissingBodyLabel
	}
	return cfg
}

// StableID derives the record id from an address.
func (e *Extractor) StableID(addr string) (string, bool) {
	m := e.idRe.FindStringSubmatch(addr)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

func (e *Extractor) document(ctx context.Context, s harvest.Session) (*goquery.Document, error) {
	v, err := s.RunScript(ctx, harvest.OuterHTMLScript)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	html, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("read page html: unexpected %T", v)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return doc, nil
}

// ListItems returns the items on the current list page in document order.
// Anchors without a derivable id are dropped.
func (e *Extractor) ListItems(ctx context.Context, s harvest.Session, page int) ([]harvest.ListItem, error) {
	doc, err := e.document(ctx, s)
	if err != nil {
		return nil, err
	}
	base, _ := s.CurrentAddress(ctx)
	baseURL, _ := url.Parse(base)

	var items []harvest.ListItem
	doc.Find(e.cfg.ListAnchor).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		addr := canonical(baseURL, href)
		id, ok := e.StableID(addr)
		if !ok {
			e.logger.Debug("dropping item without id", zap.Int("page", page), zap.String("href", href))
			return
		}
		title := clean(a.Find(e.cfg.CardTitle).First().Text())
		items = append(items, harvest.ListItem{
			URL:         addr,
			StableID:    id,
			TitleHint:   title,
			GroupHint:   e.cardGroup(a, title),
			RecencyHint: FindRecency(clean(textWithBreaks(a))),
		})
	})
	return items, nil
}

// cardGroup reads the group from its selector, falling back to the first
// card line that is neither the title, a date nor a location/work-type tag.
func (e *Extractor) cardGroup(a *goquery.Selection, title string) string {
	if g := clean(a.Find(e.cfg.CardGroup).First().Text()); g != "" {
		return g
	}
	for _, line := range strings.Split(textWithBreaks(a), "\n") {
		line = clean(line)
		if line == "" || line == title || FindRecency(line) != "" || strings.Contains(strings.ToLower(line), " ago") {
			continue
		}
		if e.isNoise(line) {
			continue
		}
		return line
	}
	return ""
}

func (e *Extractor) isNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, n := range e.noise {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// Detail extracts the record on the current detail page. Missing fields fall
// back to the list hints, then to fixed placeholders.
func (e *Extractor) Detail(ctx context.Context, s harvest.Session, item harvest.ListItem) (harvest.DetailRecord, error) {
	if _, err := s.RunScript(ctx, e.cfg.ExpandScript); err != nil {
		if ctx.Err() != nil {
			return harvest.DetailRecord{}, ctx.Err()
		}
		e.logger.Debug("expand description failed", zap.String("stable_id", item.StableID), zap.Error(err))
	}
	doc, err := e.document(ctx, s)
	if err != nil {
		return harvest.DetailRecord{}, err
	}

	rec := harvest.DetailRecord{
		Title:     firstNonEmpty(firstText(doc, e.cfg.DetailTitle), item.TitleHint, e.cfg.UnknownTitle),
		Group:     firstNonEmpty(firstText(doc, e.cfg.DetailGroup), item.GroupHint, e.cfg.UnknownGroup),
		SourceURL: item.URL,
	}

	recency := item.RecencyHint
	if recency == "" {
		recency = firstText(doc, e.cfg.DetailRecency)
	}
	if when, ok := ResolveRelative(recency, e.clock.Now().In(e.loc)); ok {
		rec.OccurredAt = when
	}
	rec.OccurredText = firstNonEmpty(recency, e.cfg.UnknownRecency)

	rec.FullText = e.body(doc)
	rec.Summary = Summarize(rec.FullText, e.cfg.SummaryLength)
	return rec, nil
}

func (e *Extractor) body(doc *goquery.Document) string {
	for _, sel := range e.cfg.DetailBody {
		text := strings.TrimSpace(textWithBreaks(doc.Find(sel).First()))
		if utf8.RuneCountInString(text) > e.cfg.MinBodyLength {
			return text
		}
	}
	return e.cfg.MissingBodyLabel
}

// Summarize truncates text to limit runes, appending "..." when cut.
func Summarize(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "..."
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if t := clean(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// textWithBreaks renders text with a newline after each block-level child so
// card lines and paragraphs stay separate.
func textWithBreaks(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
			return
		}
		switch goquery.NodeName(c) {
		case "br":
			b.WriteString("\n")
			return
		case "script", "style":
			return
		}
		b.WriteString(textWithBreaks(c))
		switch goquery.NodeName(c) {
		case "div", "p", "li", "ul", "ol", "h1", "h2", "h3", "h4", "section", "article":
			b.WriteString("\n")
		}
	})
	return b.String()
}

func canonical(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	ref.RawQuery = ""
	ref.Fragment = ""
	return ref.String()
}
