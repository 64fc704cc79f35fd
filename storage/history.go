package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/sweepr/pkg/resource"
)

var bucketRuns = []byte("runs")

// RunRecord summarizes one reconciliation run.
type RunRecord struct {
	Time     time.Time      `json:"time"`
	Scanned  int            `json:"scanned"`
	Tracked  int            `json:"tracked"`
	Deleted  int            `json:"deleted"`
	Dropped  int            `json:"dropped"`
	Manifest []ManifestKind `json:"manifest,omitempty"`
}

// ManifestKind is one kind group of a recorded manifest.
type ManifestKind struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

// ManifestRecord flattens a manifest for storage.
func ManifestRecord(m *resource.Manifest) []ManifestKind {
	var out []ManifestKind
	for _, kind := range m.Kinds() {
		entries := m.Entries(kind)
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		out = append(out, ManifestKind{Kind: kind, IDs: ids})
	}
	return out
}

// History is a bbolt-backed log of runs, ordered by time. The database
// is only held open for the duration of a call, so a long-running writer
// never blocks a reader between runs.
type History struct {
	path    string
	timeout time.Duration
}

// NewHistory returns the history stored at path. Nothing is opened yet.
func NewHistory(path string) *History {
	return &History{path: path, timeout: 5 * time.Second}
}

func (h *History) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(h.path, 0600, &bbolt.Options{Timeout: h.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return db, nil
}

// Init creates the database and its bucket if needed.
func (h *History) Init() error {
	db, err := h.open(false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to initialize history database: %w", err)
	}
	return nil
}

// Record appends a run. Records with the same timestamp are kept in
// insertion order.
func (h *History) Record(rec RunRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}

	db, err := h.open(false)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketRuns)
		if err != nil {
			return err
		}
		n := uint64(rec.Time.UnixNano())
		for bucket.Get(uint64ToBytes(n)) != nil {
			n++
		}
		return bucket.Put(uint64ToBytes(n), value)
	})
}

// List returns up to limit records, newest first. limit <= 0 returns all.
// The database is opened read-only; a missing database has no records.
func (h *History) List(limit int) ([]RunRecord, error) {
	if _, err := os.Stat(h.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	db, err := h.open(true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	var records []RunRecord
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRuns)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode run record: %w", err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
