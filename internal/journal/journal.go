// Package journal persists collected detail records in an embedded Badger
// database keyed by stable id, so a restarted process can re-export every
// record it already marked as seen.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/JakeFAU/list-harvester/internal/harvest"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("journal record not found")

const keyPrefix = "record:"

// Journal is a Badger-backed record store.
type Journal struct {
	db *badger.DB
}

// Open opens (or creates) the journal in dir. An empty dir opens an
// in-memory journal.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// Put stores rec, replacing any record with the same id.
func (j *Journal) Put(rec harvest.DetailRecord) error {
	if rec.StableID == "" {
		return errors.New("record stable id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.StableID), data)
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.StableID, err)
	}
	return nil
}

// Get loads one record.
func (j *Journal) Get(id string) (harvest.DetailRecord, error) {
	var rec harvest.DetailRecord
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return harvest.DetailRecord{}, ErrNotFound
	}
	if err != nil {
		return harvest.DetailRecord{}, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// All returns every record ordered by collection time.
func (j *Journal) All() ([]harvest.DetailRecord, error) {
	var out []harvest.DetailRecord
	err := j.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec harvest.DetailRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CollectedAt.Before(out[b].CollectedAt)
	})
	return out, nil
}

// Reset deletes every record.
func (j *Journal) Reset() error {
	if err := j.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("reset journal: %w", err)
	}
	return nil
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}
