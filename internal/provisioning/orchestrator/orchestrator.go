// Package orchestrator drives the secondary-side provisioning flow: open a
// channel, publish a URL, await exactly one envelope, decrypt and validate
// it. Failures are typed by the recovery they allow; retrying always means
// a fresh channel, cipher and URL.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/provisioning/channel"
	"github.com/dmitrijs2005/devlink/internal/provisioning/cipher"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provurl"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provwire"
)

// State of the orchestrator. Transitions:
//
//	Idle → ChannelOpening → AwaitingEnvelope → Decrypting → Accepted
//	                                                      ↘ Rejected
//	any non-terminal state may move to Errored
type State int

const (
	StateIdle State = iota
	StateChannelOpening
	StateAwaitingEnvelope
	StateDecrypting
	StateAccepted
	StateRejected
	StateErrored
)

var (
	// ErrDuplicateAwait is returned when a second AwaitMessage is issued
	// while one is already pending. The first await is unaffected.
	ErrDuplicateAwait = errors.New("another envelope await is already in flight")

	// ErrNotAwaiting is returned when AwaitMessage is called without a
	// successful Start.
	ErrNotAwaiting = errors.New("no provisioning attempt in flight")

	// ErrChannelFailed covers channel loss and relay-side expiry. The user
	// may retry, which produces a new channel, cipher and URL.
	ErrChannelFailed = errors.New("provisioning channel failed")

	// ErrUpgradePrimary means the primary sent a provisioning version below
	// the minimum this client supports. Terminal until the user cancels.
	ErrUpgradePrimary = errors.New("primary device requires an upgrade")
)

// clientTimeoutPadding is added on top of the relay's 90s ceiling so a
// local clock that runs slightly fast does not abandon a channel the relay
// still considers live.
const clientTimeoutPadding = 5 * time.Second

// Orchestrator owns at most one live provisioning attempt. It is safe for
// concurrent use; a duplicate concurrent await fails fast.
type Orchestrator struct {
	mu      sync.Mutex
	state   State
	current *attempt

	wsURL string
	caps  []provurl.Capability
	log   logging.Logger

	registry attemptRegistry

	// dial is a seam for tests.
	dial func(ctx context.Context) (*channel.Client, error)
}

// New returns an orchestrator that provisions against the relay's
// provisioning websocket at wsURL, advertising caps in the URL.
func New(wsURL string, caps []provurl.Capability, log logging.Logger) *Orchestrator {
	o := &Orchestrator{
		wsURL: wsURL,
		caps:  caps,
		log:   log.With("module", "provisioning_orchestrator"),
	}
	o.dial = func(ctx context.Context) (*channel.Client, error) {
		return channel.Dial(ctx, o.wsURL, o.log)
	}
	return o
}

// State reports the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start opens a fresh channel with a fresh cipher, waits for the relay to
// assign a channel identifier and returns the provisioning URL to display.
// Any previous attempt is torn down first; identifiers and ciphers are
// never reused.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	o.Reset()

	o.setState(StateChannelOpening)

	client, err := o.dial(ctx)
	if err != nil {
		o.setState(StateErrored)
		return "", fmt.Errorf("%w: %v", ErrChannelFailed, err)
	}

	ciph, err := cipher.Generate()
	if err != nil {
		_ = client.Close()
		o.setState(StateErrored)
		return "", err
	}

	att := newAttempt(client, ciph)
	go att.pump(o.log)

	idCtx, cancel := context.WithTimeout(ctx, common.ProvisioningChannelTTL+clientTimeoutPadding)
	defer cancel()

	id, err := att.awaitID(idCtx)
	if err != nil {
		att.close()
		o.setState(StateErrored)
		return "", fmt.Errorf("%w: waiting for channel identifier: %v", ErrChannelFailed, err)
	}

	if err := o.registry.add(att); err != nil {
		att.close()
		o.setState(StateErrored)
		return "", err
	}

	url, err := provurl.Build(id, ciph.PublicKey(), o.caps)
	if err != nil {
		o.registry.remove(att)
		att.close()
		o.setState(StateErrored)
		return "", err
	}

	o.mu.Lock()
	o.current = att
	o.state = StateAwaitingEnvelope
	o.mu.Unlock()

	o.log.Info(ctx, "provisioning channel open", "channel_id", id)
	return url, nil
}

// AwaitMessage blocks until the envelope arrives, then decrypts and
// validates it. On success the orchestrator is Accepted and the message is
// ready for the completion pipeline. Exactly one await may be outstanding.
func (o *Orchestrator) AwaitMessage(ctx context.Context) (*provwire.Message, error) {
	o.mu.Lock()
	att := o.current
	o.mu.Unlock()
	if att == nil {
		return nil, ErrNotAwaiting
	}

	waitCtx, cancel := context.WithTimeout(ctx, common.ProvisioningChannelTTL+clientTimeoutPadding)
	defer cancel()

	env, err := att.fut.TryAwait(waitCtx)
	if err != nil {
		if errors.Is(err, ErrDuplicateAwait) {
			return nil, err
		}
		o.setState(StateErrored)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, common.ErrorChannelClosed) {
			return nil, fmt.Errorf("%w: %v", ErrChannelFailed, err)
		}
		return nil, err
	}

	o.setState(StateDecrypting)

	plaintext, err := att.cipher.Decrypt(env.PublicKey, env.Body)
	if err != nil {
		o.setState(StateErrored)
		return nil, err
	}

	msg, err := provwire.UnmarshalMessage(plaintext)
	if err != nil {
		o.setState(StateErrored)
		return nil, err
	}

	if err := msg.Validate(); err != nil {
		if errors.Is(err, provwire.ErrObsoleteVersion) {
			o.setState(StateRejected)
			return nil, fmt.Errorf("%w: %v", ErrUpgradePrimary, err)
		}
		o.setState(StateErrored)
		return nil, err
	}

	o.setState(StateAccepted)
	o.log.Info(ctx, "provisioning message accepted",
		"link_and_sync", msg.LinkAndSyncRequested(), "provisioning_version", msg.ProvisioningVersion)
	return msg, nil
}

// Reset tears down the current attempt, if any, and returns to Idle. The
// old channel is disconnected and its cipher discarded; the next Start
// builds everything fresh.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	att := o.current
	o.current = nil
	o.state = StateIdle
	o.mu.Unlock()

	if att != nil {
		o.registry.remove(att)
		att.close()
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}
