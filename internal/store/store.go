package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cgast/jobproto/pkg/spec"
)

var (
	bucketRecords = []byte("records")
	bucketIDs     = []byte("ids")
)

// ErrNotFound is returned by Get for an unknown record ID.
var ErrNotFound = errors.New("record not found")

// DefaultMaxEntries bounds the history when no limit is configured.
const DefaultMaxEntries = 500

// Record is one stored compile run. Rejected submissions keep their
// diagnostics; compiled ones keep the descriptor.
type Record struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Outcome    string                 `json:"outcome"`
	Stage      string                 `json:"stage"`
	Deployment string                 `json:"deployment,omitempty"`
	Descriptor map[string]any         `json:"descriptor,omitempty"`
	Errors     []spec.ValidationError `json:"errors,omitempty"`
	Message    string                 `json:"message,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewRecord captures the outcome of a compile run. err is the error the
// compiler returned alongside res, if any.
func NewRecord(res *spec.Result, err error) *Record {
	rec := &Record{
		ID:        uuid.NewString(),
		Outcome:   spec.OutcomeCompiled,
		CreatedAt: time.Now().UTC(),
	}
	if res != nil {
		rec.Name = res.Name
		rec.Stage = res.StageName
		rec.Deployment = res.Deployment
		rec.Descriptor = res.Descriptor
		rec.Errors = res.Errors
	}
	if err == nil {
		return rec
	}

	rec.Message = err.Error()
	switch {
	case errors.Is(err, spec.ErrInvalidDocument):
		rec.Outcome = spec.OutcomeRejected
	case errors.Is(err, spec.ErrRender):
		rec.Outcome = spec.OutcomeRenderFailed
	default:
		rec.Outcome = spec.OutcomeMergeFailed
	}
	return rec
}

// Summary is the listing form of a Record.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Record) Summary() Summary {
	return Summary{ID: r.ID, Name: r.Name, Outcome: r.Outcome, CreatedAt: r.CreatedAt}
}

// BoltStore keeps compile records in insertion order in a bbolt file and
// trims the oldest once maxEntries is exceeded.
type BoltStore struct {
	db         *bolt.DB
	mu         sync.RWMutex
	maxEntries int
}

// Open opens or creates the history database at path. A non-positive
// maxEntries selects DefaultMaxEntries.
func Open(path string, maxEntries int) (*BoltStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketIDs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStore{db: db, maxEntries: maxEntries}, nil
}

// Put appends rec. A record without an ID is assigned one.
func (s *BoltStore) Put(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketRecords)
		ids := tx.Bucket(bucketIDs)
		if ids.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("record %s already exists", rec.ID)
		}

		seq, err := records.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		key := seqKey(seq)
		if err := records.Put(key, data); err != nil {
			return err
		}
		if err := ids.Put([]byte(rec.ID), key); err != nil {
			return err
		}
		return trim(records, ids, s.maxEntries)
	})
}

// trim deletes the oldest records until at most limit remain.
func trim(records, ids *bolt.Bucket, limit int) error {
	over := count(records) - limit
	if over <= 0 {
		return nil
	}
	c := records.Cursor()
	var stale [][]byte
	for k, v := c.First(); k != nil && len(stale) < over; k, v = c.Next() {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(v, &head); err == nil && head.ID != "" {
			if err := ids.Delete([]byte(head.ID)); err != nil {
				return err
			}
		}
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := records.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the record with the given ID.
func (s *BoltStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketIDs).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		data := tx.Bucket(bucketRecords).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns up to limit records, newest first. A non-positive limit
// returns everything.
func (s *BoltStore) List(limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %x: %w", k, err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *BoltStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = count(tx.Bucket(bucketRecords))
		return nil
	})
	return n, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func count(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
