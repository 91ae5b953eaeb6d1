package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"time"

	"go.etcd.io/bbolt"
)

// ProgressStore holds the single progress cell. The in-memory
// store serves one process; the bbolt store survives restarts.
type ProgressStore interface {
	Load(ctx context.Context) (Progress, error)
	Store(ctx context.Context, p Progress) error
	Reset(ctx context.Context) error
}

// MemoryProgressStore keeps progress in process memory.
type MemoryProgressStore struct {
	mu gosync.Mutex
	p  Progress
}

// NewMemoryProgressStore returns a store holding idle progress.
func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{p: IdleProgress()}
}

func (s *MemoryProgressStore) Load(context.Context) (Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p.clone(), nil
}

func (s *MemoryProgressStore) Store(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p.clone()
	return nil
}

func (s *MemoryProgressStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = IdleProgress()
	return nil
}

var (
	progressBucket = []byte("progress")
	progressKey    = []byte("current")
)

// BoltProgressStore keeps progress as one JSON value in a
// bbolt file. bbolt holds an exclusive file lock, so the file
// belongs to one process at a time.
type BoltProgressStore struct {
	db *bbolt.DB
}

// OpenBoltProgressStore opens or creates the progress file.
func OpenBoltProgressStore(path string) (*BoltProgressStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf(
			"opening progress store %s (locked by another process?): %w",
			path, err,
		)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(progressBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating progress bucket: %w", err)
	}
	return &BoltProgressStore{db: db}, nil
}

func (s *BoltProgressStore) Load(context.Context) (Progress, error) {
	p := IdleProgress()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(progressBucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", progressBucket)
		}
		val := b.Get(progressKey)
		if val == nil {
			return nil
		}
		return json.Unmarshal(val, &p)
	})
	if err != nil {
		return Progress{}, fmt.Errorf("loading progress: %w", err)
	}
	if p.RecentProducts == nil {
		p.RecentProducts = []string{}
	}
	return p, nil
}

func (s *BoltProgressStore) Store(_ context.Context, p Progress) error {
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(progressBucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", progressBucket)
		}
		return b.Put(progressKey, val)
	})
	if err != nil {
		return fmt.Errorf("storing progress: %w", err)
	}
	return nil
}

func (s *BoltProgressStore) Reset(ctx context.Context) error {
	return s.Store(ctx, IdleProgress())
}

// Close releases the file lock.
func (s *BoltProgressStore) Close() error {
	return s.db.Close()
}
