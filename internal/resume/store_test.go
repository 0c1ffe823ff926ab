package resume

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const statePath = "/out/scrape_state.json"

func newTestStore(fs afero.Fs) *Store {
	return NewStore(fs, statePath, fixedClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, nil)
}

func TestStoreSaveAndLoad(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := newTestStore(fs)

	p := harvest.NewProgress(10, 1)
	p.Enter(7, "https://example.com/list&start=60")
	p.Add(harvest.DetailRecord{StableID: "42"})
	p.Add(harvest.DetailRecord{StableID: "17"})
	store.Save(p.Snapshot(), "scraped 17 on page 7")

	st, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, 7, st.Page())
	assert.Equal(t, "https://example.com/list&start=60", st.URL())
	assert.Equal(t, []string{"17", "42"}, st.SeenIDs)
	assert.Equal(t, 2, st.RecordCount)
	assert.Equal(t, 10, st.PageRangeStart)
	assert.Equal(t, 1, st.PageRangeEnd)
	assert.Equal(t, "scraped 17 on page 7", st.Reason)

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be renamed away")
}

func TestStoreWritesEveryField(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	newTestStore(fs).Save(harvest.NewProgress(5, 1).Snapshot(), "")

	data, err := afero.ReadFile(fs, statePath)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"saved_at", "reason", "last_page", "last_url", "start_page", "end_page", "seen_ids", "records_collected"} {
		assert.Contains(t, raw, key)
	}
	assert.Nil(t, raw["last_page"])
	assert.Equal(t, []any{}, raw["seen_ids"])
}

func TestStoreLoadAllOrNothing(t *testing.T) {
	t.Parallel()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, ok := newTestStore(afero.NewMemMapFs()).Load()
		require.False(t, ok)
	})
	t.Run("corrupt", func(t *testing.T) {
		t.Parallel()
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, statePath, []byte(`{"last_page": 3, "seen_ids": [`), 0o600))
		_, ok := newTestStore(fs).Load()
		require.False(t, ok)
	})
	t.Run("missing fields default", func(t *testing.T) {
		t.Parallel()
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, statePath, []byte(`{"last_page": 3}`), 0o600))
		st, ok := newTestStore(fs).Load()
		require.True(t, ok)
		require.Equal(t, 3, st.Page())
		require.Empty(t, st.SeenIDs)
		require.Equal(t, "", st.URL())
	})
}

func TestStoreSaveIsBestEffort(t *testing.T) {
	t.Parallel()

	store := newTestStore(afero.NewReadOnlyFs(afero.NewMemMapFs()))
	require.NotPanics(t, func() {
		store.Save(harvest.NewProgress(3, 1).Snapshot(), "entered page 3")
	})
	_, ok := store.Load()
	require.False(t, ok)
}

func TestStoreReset(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := newTestStore(fs)
	require.NoError(t, store.Reset())
	store.Save(harvest.NewProgress(3, 1).Snapshot(), "x")
	require.NoError(t, store.Reset())
	_, ok := store.Load()
	require.False(t, ok)
}

func TestResumeStartPage(t *testing.T) {
	t.Parallel()

	page := func(n int) State { return State{LastPage: &n} }
	tests := []struct {
		name       string
		state      State
		ok         bool
		start, end int
		want       int
	}{
		{name: "inside range", state: page(5), ok: true, start: 10, end: 1, want: 5},
		{name: "above range", state: page(15), ok: true, start: 10, end: 1, want: 10},
		{name: "lower bound", state: page(1), ok: true, start: 10, end: 1, want: 1},
		{name: "upper bound", state: page(10), ok: true, start: 10, end: 1, want: 10},
		{name: "no page", state: State{}, ok: true, start: 10, end: 1, want: 10},
		{name: "absent state", state: page(5), ok: false, start: 10, end: 1, want: 10},
		{name: "ascending range", state: page(4), ok: true, start: 1, end: 6, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, ResumeStartPage(tt.state, tt.ok, tt.start, tt.end))
		})
	}
}
