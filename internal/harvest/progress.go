package harvest

import (
	"sort"
	"sync"
)

// Progress is the in-memory run state: the page cursor, the seen set and the
// collected records. The seen set only grows, and a record is stored at most
// once per StableID. Reads are safe from other goroutines.
type Progress struct {
	mu         sync.RWMutex
	rangeStart int
	rangeEnd   int
	lastPage   int
	lastURL    string
	seen       map[string]struct{}
	records    []DetailRecord
	index      map[string]int
}

// Snapshot is a consistent copy of Progress for persistence and reporting.
type Snapshot struct {
	RangeStart  int
	RangeEnd    int
	LastPage    int
	LastURL     string
	SeenIDs     []string
	RecordCount int
}

// NewProgress creates empty progress for the configured page range.
func NewProgress(start, end int) *Progress {
	return &Progress{
		rangeStart: start,
		rangeEnd:   end,
		seen:       make(map[string]struct{}),
		index:      make(map[string]int),
	}
}

// Restore seeds the cursor and seen set from a previous run.
func (p *Progress) Restore(lastPage int, lastURL string, seen []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPage = lastPage
	p.lastURL = lastURL
	for _, id := range seen {
		if id != "" {
			p.seen[id] = struct{}{}
		}
	}
}

// Enter records that traversal has reached page.
func (p *Progress) Enter(page int, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPage = page
	p.lastURL = url
}

// Seen reports whether id was already collected.
func (p *Progress) Seen(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.seen[id]
	return ok
}

// Add stores rec and marks its id seen. A record with a known id replaces the
// stored one instead of appending.
func (p *Progress) Add(rec DetailRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.index[rec.StableID]; ok {
		p.records[i] = rec
	} else {
		p.index[rec.StableID] = len(p.records)
		p.records = append(p.records, rec)
	}
	p.seen[rec.StableID] = struct{}{}
}

// Records returns a copy of the collected records in collection order.
func (p *Progress) Records() []DetailRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]DetailRecord(nil), p.records...)
}

// Snapshot copies the persisted fields. SeenIDs are sorted.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.seen))
	for id := range p.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Snapshot{
		RangeStart:  p.rangeStart,
		RangeEnd:    p.rangeEnd,
		LastPage:    p.lastPage,
		LastURL:     p.lastURL,
		SeenIDs:     ids,
		RecordCount: len(p.records),
	}
}
