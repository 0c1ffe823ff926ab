package harvest

import (
	"context"
	"time"
)

// ListItem is one entry discovered on a list page. It is never mutated after
// extraction.
type ListItem struct {
	URL         string
	StableID    string
	TitleHint   string
	GroupHint   string
	RecencyHint string
}

// DetailRecord is the collected result for one ListItem.
type DetailRecord struct {
	Title    string `json:"title"`
	Group    string `json:"group"`
	StableID string `json:"stable_id"`
	// OccurredAt is the absolute time resolved from a relative hint. Zero when
	// the hint could not be resolved; OccurredText then keeps the raw text.
	OccurredAt   time.Time `json:"occurred_at"`
	OccurredText string    `json:"occurred_text"`
	Summary      string    `json:"summary"`
	FullText     string    `json:"full_text"`
	SourceURL    string    `json:"source_url"`
	PageIndex    int       `json:"page_index"`
	// ArtifactPath is the store-relative PDF path ("MM-YYYY/name.pdf");
	// ArtifactRef is the full location the store returned for it.
	ArtifactPath string    `json:"artifact_path,omitempty"`
	ArtifactRef  string    `json:"artifact_ref"`
	CollectedAt  time.Time `json:"collected_at"`
}

// OccurredDate renders the resolved date or the raw hint.
func (r DetailRecord) OccurredDate() string {
	if r.OccurredAt.IsZero() {
		if r.OccurredText == "" {
			return "Unknown"
		}
		return r.OccurredText
	}
	return r.OccurredAt.Format("2006-01-02")
}

// Exporter rewrites the tabular output from the full record set.
type Exporter interface {
	WriteTable(ctx context.Context, records []DetailRecord) error
}

// Notifier delivers a short message to the human operator.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
