// Package canceltoken provides a cooperative cancellation primitive shared by
// all waiters spawned for one logical submission.
//
// A Token is cancelled once and stays cancelled. Waiting primitives register a
// callback on the token and race it against their own completion, so that a
// single Cancel call aborts every sleep or wait built on top of it.
package canceltoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled is delivered to registered callbacks and returned by Check once
// the token is cancelled. It is an internal unwinding signal and is never
// reported as a submission failure when a competing attempt succeeded.
var ErrCancelled = fmt.Errorf("promise cancelled")

// Registration identifies a callback registered on a Token.
type Registration uint64

// Token is safe for concurrent use. The zero value is not usable, use New.
type Token struct {
	mu        sync.Mutex
	name      string
	cancelled bool
	done      chan struct{}
	nextID    Registration
	callbacks map[Registration]func(error)
}

// New creates a token. The name only shows up in String.
func New(name string) *Token {
	return &Token{
		name:      name,
		done:      make(chan struct{}),
		callbacks: make(map[Registration]func(error)),
	}
}

func (t *Token) String() string {
	return fmt.Sprintf("canceltoken(%s)", t.name)
}

// Register adds a callback that is called with ErrCancelled when the token is
// cancelled. If the token is already cancelled the callback runs on its own
// goroutine, never synchronously inside Register.
func (t *Token) Register(onCancel func(error)) Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	if t.cancelled {
		go onCancel(ErrCancelled)
		return id
	}
	t.callbacks[id] = onCancel
	return id
}

// Unregister removes a callback. Unknown registrations are ignored.
func (t *Token) Unregister(reg Registration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.callbacks, reg)
}

// Check returns ErrCancelled if the token is cancelled.
func (t *Token) Check() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Cancel marks the token cancelled and invokes every registered callback once.
// Calling Cancel again is a no-op.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	close(t.done)
	callbacks := make([]func(error), 0, len(t.callbacks))
	for _, cb := range t.callbacks {
		callbacks = append(callbacks, cb)
	}
	t.callbacks = make(map[Registration]func(error))
	t.mu.Unlock()

	// callbacks run outside the lock so they may touch the token again
	for _, cb := range callbacks {
		cb(ErrCancelled)
	}
}

// CancelAfter cancels the token once d has elapsed. A non-positive d cancels
// immediately.
func (t *Token) CancelAfter(d time.Duration) {
	if d <= 0 {
		t.Cancel()
		return
	}
	time.AfterFunc(d, t.Cancel)
}

// Sleep blocks for d, or until the token or the context is cancelled,
// whichever happens first. It returns nil when the full duration elapsed,
// ErrCancelled on token cancellation and ctx.Err() on context cancellation.
func Sleep(ctx context.Context, d time.Duration, token *Token) error {
	if err := token.Check(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-token.Done():
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithContext derives a context that is cancelled together with the token.
// The returned CancelFunc must be called to release the registration.
func WithContext(parent context.Context, token *Token) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	reg := token.Register(func(err error) {
		cancel(err)
	})
	return ctx, func() {
		token.Unregister(reg)
		cancel(context.Canceled)
	}
}

// IsCancelled reports whether err stems from a token cancellation.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCancelled)
}
