// Package guard provides reference-counted resource guards for the two
// device-wide resources link'n'sync must hold: the sleep blocker and the
// message-processing suspension. Acquire returns a release that is safe to
// defer and idempotent, so the guard drops out on every exit path.
package guard

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/devlink/internal/logging"
)

// Guard is a reference-counted acquire/release pair.
type Guard interface {
	// Acquire takes one reference and returns its release. Calling the
	// release more than once has no extra effect.
	Acquire() (release func())
}

// RefCounted calls onFirst when the count goes 0→1 and onLast when it
// drops back to 0.
type RefCounted struct {
	mu      sync.Mutex
	n       int
	onFirst func()
	onLast  func()
}

func NewRefCounted(onFirst, onLast func()) *RefCounted {
	return &RefCounted{onFirst: onFirst, onLast: onLast}
}

func (g *RefCounted) Acquire() func() {
	g.mu.Lock()
	g.n++
	first := g.n == 1
	g.mu.Unlock()

	if first && g.onFirst != nil {
		g.onFirst()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.n--
			last := g.n == 0
			g.mu.Unlock()
			if last && g.onLast != nil {
				g.onLast()
			}
		})
	}
}

// Held reports whether any reference is outstanding.
func (g *RefCounted) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n > 0
}

// NewSleepBlocker returns a guard that logs sleep-block transitions. On a
// headless host there is nothing else to do; platforms with a real power
// API can swap the callbacks.
func NewSleepBlocker(log logging.Logger) *RefCounted {
	ctx := context.Background()
	return NewRefCounted(
		func() { log.Debug(ctx, "blocking device sleep") },
		func() { log.Debug(ctx, "unblocking device sleep") },
	)
}

// NewMessageSuspender returns a guard that suspends inbound message
// processing while held.
func NewMessageSuspender(log logging.Logger) *RefCounted {
	ctx := context.Background()
	return NewRefCounted(
		func() { log.Debug(ctx, "suspending message processing") },
		func() { log.Debug(ctx, "resuming message processing") },
	)
}
