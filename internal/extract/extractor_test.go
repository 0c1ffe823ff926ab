package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/list-harvester/internal/browser/browsertest"
	"github.com/JakeFAU/list-harvester/internal/harvest"
)

const listAddr = "https://www.example.com/my-items/saved-jobs/?cardType=APPLIED"

const listHTML = `<html><body>
<div class="entity-result__linked-area">
  <a href="/jobs/view/4242/?refId=abc">
    <div class="t-roman t-sans">Backend Engineer</div>
    <div class="t-14 t-black t-normal">Acme Corp</div>
    <div>Singapore (Hybrid)</div>
    <div>Applied 11mo ago</div>
  </a>
</div>
<div class="entity-result__linked-area">
  <a href="https://www.example.com/jobs/view/777/">
    <div class="t-roman t-sans">Data Analyst</div>
    <div>Remote</div>
    <div>Beta Labs</div>
    <div>Applied 2 weeks ago</div>
  </a>
</div>
<div class="entity-result__linked-area">
  <a href="/jobs/view/not-a-number/">Broken</a>
</div>
<a href="/jobs/view/9999/">outside any card</a>
</body></html>`

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func open(t *testing.T, addr, html string) *browsertest.Session {
	t.Helper()
	s := browsertest.New(map[string]*browsertest.Page{addr: {HTML: html}})
	require.NoError(t, s.Navigate(context.Background(), addr))
	return s
}

func newExtractor(t *testing.T, now time.Time) *Extractor {
	t.Helper()
	e, err := New(Config{}, fixedClock(now), nil)
	require.NoError(t, err)
	return e
}

func TestListItems(t *testing.T) {
	t.Parallel()

	e := newExtractor(t, time.Now())
	items, err := e.ListItems(context.Background(), open(t, listAddr, listHTML), 1)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, harvest.ListItem{
		URL:         "https://www.example.com/jobs/view/4242/",
		StableID:    "4242",
		TitleHint:   "Backend Engineer",
		GroupHint:   "Acme Corp",
		RecencyHint: "11mo ago",
	}, items[0])
	assert.Equal(t, "777", items[1].StableID)
	assert.Equal(t, "Beta Labs", items[1].GroupHint, "location lines are skipped in the fallback")
	assert.Equal(t, "2 weeks ago", items[1].RecencyHint)
}

func TestListItemsScriptFailure(t *testing.T) {
	t.Parallel()

	s := open(t, listAddr, listHTML)
	s.ScriptErr = errors.New("target closed")
	_, err := newExtractor(t, time.Now()).ListItems(context.Background(), s, 1)
	require.Error(t, err)
}

func TestDetailReadsFieldsAndResolvesDate(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("We build reliable systems. ", 30)
	html := `<html><body>
<h1 class="t-24 t-bold inline">Senior Backend Engineer</h1>
<div class="job-details-jobs-unified-top-card__company-name"><a href="/company/acme">Acme Corp</a></div>
<div class="jobs-description__content"><p>` + body + `</p></div>
</body></html>`
	addr := "https://www.example.com/jobs/view/4242/"
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	e := newExtractor(t, now)

	rec, err := e.Detail(context.Background(), open(t, addr, html), harvest.ListItem{
		URL: addr, StableID: "4242", TitleHint: "Backend Engineer", RecencyHint: "11mo ago",
	})
	require.NoError(t, err)
	assert.Equal(t, "Senior Backend Engineer", rec.Title)
	assert.Equal(t, "Acme Corp", rec.Group)
	assert.Equal(t, "11mo ago", rec.OccurredText)
	assert.Equal(t, "2024-07-15", rec.OccurredDate())
	assert.Equal(t, strings.TrimSpace(body), rec.FullText)
	assert.True(t, strings.HasSuffix(rec.Summary, "..."))
	assert.Equal(t, 503, len([]rune(rec.Summary)))
	assert.Equal(t, addr, rec.SourceURL)
}

func TestDetailFallbacks(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="jobs-description__content">too short</div>
<span>Application submitted 3 days ago</span></body></html>`
	addr := "https://www.example.com/jobs/view/1/"
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	e := newExtractor(t, now)

	rec, err := e.Detail(context.Background(), open(t, addr, html), harvest.ListItem{
		URL: addr, StableID: "1", GroupHint: "Hinted Co",
	})
	require.NoError(t, err)
	assert.Equal(t, "Unknown Role", rec.Title)
	assert.Equal(t, "Hinted Co", rec.Group)
	assert.Equal(t, "Application submitted 3 days ago", rec.OccurredText)
	assert.Equal(t, "2025-01-07", rec.OccurredDate())
	assert.Equal(t, "Description not available", rec.FullText)
}

func TestDetailUnresolvedDate(t *testing.T) {
	t.Parallel()

	addr := "https://www.example.com/jobs/view/2/"
	rec, err := newExtractor(t, time.Now()).Detail(context.Background(), open(t, addr, "<html><body></body></html>"),
		harvest.ListItem{URL: addr, StableID: "2"})
	require.NoError(t, err)
	assert.True(t, rec.OccurredAt.IsZero())
	assert.Equal(t, "Unknown", rec.OccurredText)
	assert.Equal(t, "Unknown", rec.Group)
}

func TestDetailInterrupted(t *testing.T) {
	t.Parallel()

	addr := "https://www.example.com/jobs/view/3/"
	s := open(t, addr, "<html></html>")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newExtractor(t, time.Now()).Detail(ctx, s, harvest.ListItem{URL: addr, StableID: "3"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{IDPattern: `/jobs/view/\d+`}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{Timezone: "Mars/Olympus"}, nil, nil)
	require.Error(t, err)
}
