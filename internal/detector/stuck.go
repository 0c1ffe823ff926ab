package detector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// DefaultLoaderSelectors are the spinner and progress-bar markers.
var DefaultLoaderSelectors = []string{
	`div[role="progressbar"]`,
	".artdeco-loader",
	".artdeco-loader__bar",
	".initial-load-animation",
	".loading",
	".spinner",
}

// StuckDetector recognises a page wedged on a loading indicator. Unlike the
// checkpoint classifier it fails closed: a probe error means stuck.
type StuckDetector struct {
	loaders harvest.Selector
	logger  *zap.Logger
}

// NewStuckDetector builds a detector over the loader selectors.
func NewStuckDetector(loaderSelectors []string, logger *zap.Logger) *StuckDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(loaderSelectors) == 0 {
		loaderSelectors = DefaultLoaderSelectors
	}
	parts := make([]string, 0, len(loaderSelectors))
	for _, sel := range loaderSelectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			parts = append(parts, sel)
		}
	}
	return &StuckDetector{
		loaders: harvest.CSS(strings.Join(parts, ", ")),
		logger:  logger,
	}
}

// Ready reports whether document.readyState is complete or interactive.
func (d *StuckDetector) Ready(ctx context.Context, s harvest.Session) (bool, error) {
	v, err := s.RunScript(ctx, harvest.ReadyStateScript)
	if err != nil {
		return false, fmt.Errorf("ready state probe: %w", err)
	}
	state, _ := v.(string)
	return state == "complete" || state == "interactive", nil
}

// LooksStuck reports not-ready with a loader present.
func (d *StuckDetector) LooksStuck(ctx context.Context, s harvest.Session) bool {
	ready, err := d.Ready(ctx, s)
	if err != nil {
		d.logger.Debug("stuck probe failed", zap.Error(err))
		return true
	}
	if ready {
		return false
	}
	els, err := s.FindAll(ctx, d.loaders)
	if err != nil {
		d.logger.Debug("loader probe failed", zap.Error(err))
		return true
	}
	return len(els) > 0
}
