// Package idempotency guards against the same logical submission being sent
// twice when a caller retries. A key that already reached a receipt returns
// that receipt; a key that is still in flight is rejected; a key whose
// submission failed may be tried again.
package idempotency

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrDuplicateKey is returned when a submission with the same key is
	// still in flight.
	ErrDuplicateKey = fmt.Errorf("duplicate idempotency key: submission already in progress")

	// ErrKeyNotFound is returned when looking up a non-existent key
	ErrKeyNotFound = fmt.Errorf("idempotency key not found")
)

type Status int

const (
	StatusPending   Status = iota // lock taken, nothing broadcast yet
	StatusSubmitted               // at least one attempt was broadcast
	StatusConfirmed               // finalized with a successful receipt
	StatusFailed                  // the submission ended with an error
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Final reports whether no further transitions are expected.
func (s Status) Final() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Record is the state of one idempotent submission. Records handed out by a
// Store are copies; use Update to change them.
type Record struct {
	Key      string
	Status   Status
	Wallet   common.Address
	Nonce    uint64
	TxHashes []common.Hash
	Receipt  *types.Receipt
	Error    error

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Record) clone() *Record {
	cp := *r
	cp.TxHashes = append([]common.Hash(nil), r.TxHashes...)
	return &cp
}

type Store interface {
	Get(key string) (*Record, error)
	// Create starts a record for key. If a live record exists it is returned
	// together with ErrDuplicateKey.
	Create(key string) (*Record, error)
	Update(record *Record) error
	Delete(key string) error
}

// InMemoryStore keeps records in memory. Records older than ttl are dropped;
// a zero ttl keeps them forever.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration

	stopChan chan struct{}
	stopped  bool
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	store := &InMemoryStore{
		records:  make(map[string]*Record),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	if ttl > 0 {
		go store.cleanupLoop()
	}
	return store
}

// Stop ends the cleanup goroutine.
func (s *InMemoryStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
	}
}

func (s *InMemoryStore) expired(r *Record, now time.Time) bool {
	return s.ttl > 0 && now.Sub(r.CreatedAt) > s.ttl
}

func (s *InMemoryStore) Get(key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok || s.expired(record, time.Now()) {
		return nil, ErrKeyNotFound
	}
	return record.clone(), nil
}

// Create replaces an expired or failed record, so a failed submission can be
// retried under the same key.
func (s *InMemoryStore) Create(key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.records[key]; ok && !s.expired(existing, now) && existing.Status != StatusFailed {
		return existing.clone(), ErrDuplicateKey
	}
	record := &Record{
		Key:       key,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[key] = record
	return record.clone(), nil
}

func (s *InMemoryStore) Update(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.Key]; !ok {
		return ErrKeyNotFound
	}
	record.UpdatedAt = time.Now()
	s.records[record.Key] = record.clone()
	return nil
}

func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *InMemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for key, record := range s.records {
		if s.expired(record, now) {
			delete(s.records, key)
		}
	}
}

// Size returns the number of records, expired ones included until the next
// cleanup.
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
