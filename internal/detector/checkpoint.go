// Package detector classifies the current browser page: whether the remote
// side has put up a verification wall, and whether the page is wedged on a
// loading indicator.
package detector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// CheckpointConfig lists the high-specificity signals of a verification wall.
type CheckpointConfig struct {
	ChallengePaths []string `mapstructure:"challenge_paths"`
	TitlePhrases   []string `mapstructure:"title_phrases"`
	CSSMarkers     []string `mapstructure:"css_markers"`
	// TextMarkers are short phrases matched against element text nodes.
	TextMarkers []string `mapstructure:"text_markers"`
}

// DefaultCheckpointConfig returns the built-in signal lists.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		ChallengePaths: []string{"/checkpoint/", "/challenge/"},
		TitlePhrases:   []string{"security verification", "checkpoint"},
		CSSMarkers: []string{
			"input[name='pin']",
			"input[name='challengeId']",
			"div#captcha-internal",
			"div.recaptcha",
		},
		TextMarkers: []string{"unusual activity", "security verification", "prove you are"},
	}
}

// CheckpointClassifier decides whether the session hit a verification wall.
// Lookups that fail count as "no signal".
type CheckpointClassifier struct {
	paths   []string
	titles  []string
	markers []harvest.Selector
	logger  *zap.Logger
}

// NewCheckpointClassifier builds a classifier from cfg.
func NewCheckpointClassifier(cfg CheckpointConfig, logger *zap.Logger) *CheckpointClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CheckpointClassifier{logger: logger}
	for _, p := range cfg.ChallengePaths {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			c.paths = append(c.paths, p)
		}
	}
	for _, t := range cfg.TitlePhrases {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			c.titles = append(c.titles, t)
		}
	}
	for _, m := range cfg.CSSMarkers {
		if m = strings.TrimSpace(m); m != "" {
			c.markers = append(c.markers, harvest.CSS(m))
		}
	}
	for _, phrase := range cfg.TextMarkers {
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			c.markers = append(c.markers, harvest.XPath(textMarkerXPath(phrase)))
		}
	}
	return c
}

// IsBlocked reports whether any signal matches.
func (c *CheckpointClassifier) IsBlocked(ctx context.Context, s harvest.Session) bool {
	_, blocked := c.Match(ctx, s)
	return blocked
}

// Match returns the first matching signal.
func (c *CheckpointClassifier) Match(ctx context.Context, s harvest.Session) (string, bool) {
	if addr, err := s.CurrentAddress(ctx); err != nil {
		c.logger.Debug("checkpoint address lookup failed", zap.Error(err))
	} else {
		addr = strings.ToLower(addr)
		for _, p := range c.paths {
			if strings.Contains(addr, p) {
				return "address " + p, true
			}
		}
	}

	if title, err := s.PageTitle(ctx); err != nil {
		c.logger.Debug("checkpoint title lookup failed", zap.Error(err))
	} else {
		title = strings.ToLower(title)
		for _, t := range c.titles {
			if strings.Contains(title, t) {
				return "title " + t, true
			}
		}
	}

	for _, sel := range c.markers {
		els, err := s.FindAll(ctx, sel)
		if err != nil {
			c.logger.Debug("checkpoint marker lookup failed", zap.Stringer("selector", sel), zap.Error(err))
			continue
		}
		if len(els) > 0 {
			return "marker " + sel.String(), true
		}
	}
	return "", false
}

// textMarkerXPath matches elements whose own text contains phrase. Matching
// on text() rather than "." keeps ancestors such as <html> from matching
// every page that mentions the phrase anywhere.
func textMarkerXPath(phrase string) string {
	return fmt.Sprintf("//*[contains(text(), %s)]", xpathLiteral(phrase))
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}
