// Package resume persists the minimal progress needed to continue an
// interrupted run: the page cursor, the seen set and a record count.
package resume

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/list-harvester/internal/clock/system"
	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// State is the on-disk resume document. Every field is always written.
type State struct {
	SavedAt        time.Time `json:"saved_at"`
	Reason         string    `json:"reason"`
	LastPage       *int      `json:"last_page"`
	LastURL        *string   `json:"last_url"`
	PageRangeStart int       `json:"start_page"`
	PageRangeEnd   int       `json:"end_page"`
	SeenIDs        []string  `json:"seen_ids"`
	RecordCount    int       `json:"records_collected"`
}

// Store reads and writes State at a fixed path.
type Store struct {
	fs     afero.Fs
	path   string
	clock  harvest.Clock
	logger *zap.Logger
}

// NewStore builds a Store. A nil fs uses the OS filesystem.
func NewStore(fs afero.Fs, path string, clock harvest.Clock, logger *zap.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{fs: fs, path: path, clock: clock, logger: logger}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Save writes snap wholesale. Failures are logged and never returned.
func (s *Store) Save(snap harvest.Snapshot, reason string) {
	if err := s.write(snap, reason); err != nil {
		s.logger.Warn("failed to save resume state", zap.String("path", s.path), zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Debug("resume state saved",
		zap.String("reason", reason),
		zap.Int("last_page", snap.LastPage),
		zap.Int("seen", len(snap.SeenIDs)),
	)
}

func (s *Store) write(snap harvest.Snapshot, reason string) error {
	state := State{
		SavedAt:        s.clock.Now(),
		Reason:         reason,
		PageRangeStart: snap.RangeStart,
		PageRangeEnd:   snap.RangeEnd,
		SeenIDs:        snap.SeenIDs,
		RecordCount:    snap.RecordCount,
	}
	if state.SeenIDs == nil {
		state.SeenIDs = []string{}
	}
	if snap.LastPage > 0 {
		page := snap.LastPage
		state.LastPage = &page
	}
	if snap.LastURL != "" {
		url := snap.LastURL
		state.LastURL = &url
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return WriteFileAtomic(s.fs, s.path, data)
}

// Load reads the stored state. Any read or parse failure yields ok=false.
func (s *Store) Load() (State, bool) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if exists, _ := afero.Exists(s.fs, s.path); exists {
			s.logger.Warn("failed to read resume state", zap.String("path", s.path), zap.Error(err))
		}
		return State{}, false
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("discarding unreadable resume state", zap.String("path", s.path), zap.Error(err))
		return State{}, false
	}
	return state, true
}

// Reset removes the state file. A missing file is not an error.
func (s *Store) Reset() error {
	if err := s.fs.Remove(s.path); err != nil {
		if exists, _ := afero.Exists(s.fs, s.path); !exists {
			return nil
		}
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

// Page returns LastPage or 0.
func (st State) Page() int {
	if st.LastPage == nil {
		return 0
	}
	return *st.LastPage
}

// URL returns LastURL or "".
func (st State) URL() string {
	if st.LastURL == nil {
		return ""
	}
	return *st.LastURL
}

// ResumeStartPage picks where traversal begins: the stored page when it lies
// inside the configured range (inclusive, either direction), else start.
func ResumeStartPage(st State, ok bool, start, end int) int {
	if !ok || st.LastPage == nil {
		return start
	}
	lo, hi := start, end
	if lo > hi {
		lo, hi = hi, lo
	}
	if p := *st.LastPage; p >= lo && p <= hi {
		return p
	}
	return start
}

// WriteFileAtomic replaces path with data via a temp file and rename, so a
// reader never sees a partial document.
func WriteFileAtomic(fs afero.Fs, path string, data []byte) error {
	tmp, err := afero.TempFile(fs, filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
