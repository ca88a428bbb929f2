package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/cockroachdb/pebble"
)

// attempt keys: attemptPrefix | submission id | 0x00 | index (uint32, big endian)
var attemptPrefix = []byte("attempt/")

// PebbleJournal persists attempts in a pebble database so they survive a
// restart of the process.
type PebbleJournal struct {
	mu sync.Mutex
	db *pebble.DB
}

// OpenPebble opens (creating if needed) the journal database in dir. A nil
// opts uses pebble's defaults.
func OpenPebble(dir string, opts *pebble.Options) (*PebbleJournal, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dir, err)
	}
	logger.WithFields(logger.Fields{
		"directory": dir,
	}).Debug("journal opened")
	return &PebbleJournal{db: db}, nil
}

func attemptKeyBytes(submissionID string, index int) []byte {
	key := make([]byte, 0, len(attemptPrefix)+len(submissionID)+5)
	key = append(key, attemptPrefix...)
	key = append(key, submissionID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint32(key, uint32(index))
}

func submissionBounds(submissionID string) (lower, upper []byte) {
	lower = append(append([]byte{}, attemptPrefix...), submissionID...)
	lower = append(lower, 0)
	upper = append(append([]byte{}, attemptPrefix...), submissionID...)
	upper = append(upper, 1)
	return lower, upper
}

func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	upper[len(upper)-1]++
	return upper
}

func (j *PebbleJournal) Put(a *Attempt) error {
	if err := validate(a); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}

	key := attemptKeyBytes(a.SubmissionID, a.Index)
	now := time.Now()
	prev, err := j.get(key)
	switch {
	case err == nil:
		a.CreatedAt = prev.CreatedAt
	case errors.Is(err, ErrAttemptNotFound):
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
	default:
		return err
	}
	a.UpdatedAt = now

	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("journal: encode attempt: %w", err)
	}
	if err := j.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("journal: write attempt: %w", err)
	}
	return nil
}

func (j *PebbleJournal) Get(submissionID string, index int) (*Attempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, ErrClosed
	}
	return j.get(attemptKeyBytes(submissionID, index))
}

func (j *PebbleJournal) get(key []byte) (*Attempt, error) {
	value, closer, err := j.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal: read attempt: %w", err)
	}
	defer closer.Close()

	var a Attempt
	if err := json.Unmarshal(value, &a); err != nil {
		return nil, fmt.Errorf("journal: decode attempt: %w", err)
	}
	return &a, nil
}

func (j *PebbleJournal) List(submissionID string) ([]*Attempt, error) {
	lower, upper := submissionBounds(submissionID)
	return j.scan(lower, upper, nil)
}

func (j *PebbleJournal) ListUnfinished() ([]*Attempt, error) {
	return j.scan(attemptPrefix, prefixUpperBound(attemptPrefix), func(a *Attempt) bool {
		return a.Status.Open()
	})
}

func (j *PebbleJournal) scan(lower, upper []byte, keep func(*Attempt) bool) ([]*Attempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, ErrClosed
	}

	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("journal: iterate: %w", err)
	}
	var out []*Attempt
	for iter.First(); iter.Valid(); iter.Next() {
		var a Attempt
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("journal: decode attempt %q: %w", iter.Key(), err)
		}
		if keep == nil || keep(&a) {
			out = append(out, &a)
		}
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return nil, fmt.Errorf("journal: iterate: %w", err)
	}
	return out, iter.Close()
}

func (j *PebbleJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
