package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/provisioning/channel"
	"github.com/dmitrijs2005/devlink/internal/provisioning/cipher"
)

// attempt ties together one open channel, one ephemeral cipher and the
// pending envelope future. Nothing in an attempt is ever reused: a retry
// gets a brand-new attempt.
type attempt struct {
	client    *channel.Client
	cipher    *cipher.Cipher
	fut       *envelopeFuture
	idCh      chan string
	channelID string
}

func newAttempt(client *channel.Client, ciph *cipher.Cipher) *attempt {
	return &attempt{
		client: client,
		cipher: ciph,
		fut:    newEnvelopeFuture(),
		idCh:   make(chan string, 1),
	}
}

// pump consumes the channel's event stream single-threaded and feeds the
// attempt's completion primitives. A second envelope for an already
// resolved attempt is dropped (see the protocol notes in DESIGN.md).
func (a *attempt) pump(log logging.Logger) {
	ctx := context.Background()
	for ev := range a.client.Events() {
		switch ev.Kind {
		case channel.EventIdentifierAssigned:
			select {
			case a.idCh <- ev.ChannelID:
			default:
				log.Warn(ctx, "ignoring repeated channel identifier", "channel_id", ev.ChannelID)
			}
		case channel.EventEnvelopeReceived:
			if !a.fut.Resolve(ev.Envelope) {
				log.Warn(ctx, "dropping envelope for already resolved attempt")
			}
		case channel.EventClosed:
			err := ev.Err
			if err == nil {
				err = common.ErrorChannelClosed
			}
			a.fut.Fail(err)
			return
		}
	}
}

// awaitID waits for the relay to announce the channel identifier.
func (a *attempt) awaitID(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case id := <-a.idCh:
		a.channelID = id
		return id, nil
	case <-a.fut.done:
		// channel died before announcing an identifier
		if a.fut.err != nil {
			return "", a.fut.err
		}
		return "", common.ErrorChannelClosed
	}
}

func (a *attempt) close() {
	_ = a.client.Close()
	a.fut.Fail(common.ErrorChannelClosed)
}

// attemptRegistry tracks in-flight attempts, keyed by channel identifier.
// All mutations happen under one mutex so partial updates are never
// observable. Invariant: each channel identifier maps to at most one
// cipher.
type attemptRegistry struct {
	mu       sync.Mutex
	attempts []*attempt
}

func (r *attemptRegistry) add(a *attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.attempts {
		if existing.channelID == a.channelID {
			return fmt.Errorf("channel %s already has a cipher registered", a.channelID)
		}
	}
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *attemptRegistry) remove(a *attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.attempts {
		if existing == a {
			r.attempts = append(r.attempts[:i], r.attempts[i+1:]...)
			return
		}
	}
}
