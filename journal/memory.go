package journal

import (
	"sort"
	"sync"
	"time"
)

type attemptKey struct {
	submission string
	index      int
}

// MemoryJournal keeps attempts in process memory. It is the default when no
// journal directory is configured.
type MemoryJournal struct {
	mu       sync.RWMutex
	attempts map[attemptKey]*Attempt
	closed   bool
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{attempts: make(map[attemptKey]*Attempt)}
}

func (j *MemoryJournal) Put(a *Attempt) error {
	if err := validate(a); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	key := attemptKey{a.SubmissionID, a.Index}
	now := time.Now()
	if prev, ok := j.attempts[key]; ok {
		a.CreatedAt = prev.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	j.attempts[key] = a.clone()
	return nil
}

func (j *MemoryJournal) Get(submissionID string, index int) (*Attempt, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}
	a, ok := j.attempts[attemptKey{submissionID, index}]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return a.clone(), nil
}

func (j *MemoryJournal) List(submissionID string) ([]*Attempt, error) {
	return j.collect(func(a *Attempt) bool { return a.SubmissionID == submissionID })
}

func (j *MemoryJournal) ListUnfinished() ([]*Attempt, error) {
	return j.collect(func(a *Attempt) bool { return a.Status.Open() })
}

func (j *MemoryJournal) collect(keep func(*Attempt) bool) ([]*Attempt, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}
	var out []*Attempt
	for _, a := range j.attempts {
		if keep(a) {
			out = append(out, a.clone())
		}
	}
	sortAttempts(out)
	return out, nil
}

func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

// sortAttempts orders by submission id, then index, matching the key order of
// the pebble journal.
func sortAttempts(as []*Attempt) {
	sort.Slice(as, func(i, k int) bool {
		if as[i].SubmissionID != as[k].SubmissionID {
			return as[i].SubmissionID < as[k].SubmissionID
		}
		return as[i].Index < as[k].Index
	})
}
