package orchestrator

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/devlink/internal/provisioning/provwire"
)

// envelopeFuture is a single-resolution completion signal. The first
// Resolve or Fail wins; later calls are no-ops and report false. Only one
// awaiter may be registered at a time: a concurrent second TryAwait fails
// immediately with ErrDuplicateAwait instead of blocking.
type envelopeFuture struct {
	mu       sync.Mutex
	done     chan struct{}
	env      *provwire.Envelope
	err      error
	resolved bool
	awaiting bool
}

func newEnvelopeFuture() *envelopeFuture {
	return &envelopeFuture{done: make(chan struct{})}
}

// Resolve completes the future with an envelope. Returns false if the
// future was already resolved or failed; the envelope is then dropped.
func (f *envelopeFuture) Resolve(env *provwire.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.env = env
	close(f.done)
	return true
}

// Fail completes the future with an error. Same single-resolution rules as
// Resolve.
func (f *envelopeFuture) Fail(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.err = err
	close(f.done)
	return true
}

// TryAwait blocks until the future resolves or ctx is done. If another
// TryAwait is already in flight it returns ErrDuplicateAwait without
// disturbing the first awaiter.
func (f *envelopeFuture) TryAwait(ctx context.Context) (*provwire.Envelope, error) {
	f.mu.Lock()
	if f.awaiting {
		f.mu.Unlock()
		return nil, ErrDuplicateAwait
	}
	f.awaiting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.awaiting = false
		f.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.env, f.err
	}
}
