// Package completion turns a validated provisioning message into a
// registered device: it creates the device record on the relay, commits the
// registration locally, and optionally runs the link'n'sync restore.
package completion

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/device/account"
	"github.com/dmitrijs2005/devlink/internal/linksync"
	"github.com/dmitrijs2005/devlink/internal/linksync/progress"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provwire"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

// ErrDifferentAccount means this device already holds a registration for
// another account. Linking must restart from a fresh URL after the user
// resolves the conflict.
var ErrDifferentAccount = errors.New("device is already linked to a different account")

// Outcome is the single classification of a finished completion attempt.
type Outcome int

const (
	// OutcomeSuccess: registered, and the backup (if requested) restored.
	OutcomeSuccess Outcome = iota
	// OutcomeContinuedWithoutSync: registered, but the primary could not
	// provide a backup; the user accepted continuing without one.
	OutcomeContinuedWithoutSync
	// OutcomeRestartProvisioning: the whole flow must restart from a new
	// provisioning URL.
	OutcomeRestartProvisioning
	// OutcomeRetryStep: a transient failure; the same step can be retried.
	// Registration, once committed, survives the retry.
	OutcomeRetryStep
	// OutcomeUpdateApp: a version mismatch no retry can fix.
	OutcomeUpdateApp
	// OutcomeDifferentAccount: this device belongs to another account.
	OutcomeDifferentAccount
	// OutcomeDeviceLimit: the account has no free device slot.
	OutcomeDeviceLimit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeContinuedWithoutSync:
		return "continued_without_sync"
	case OutcomeRestartProvisioning:
		return "restart_provisioning"
	case OutcomeRetryStep:
		return "retry_step"
	case OutcomeUpdateApp:
		return "update_app"
	case OutcomeDifferentAccount:
		return "different_account"
	case OutcomeDeviceLimit:
		return "device_limit"
	default:
		return "unknown"
	}
}

// DeviceLinker creates the device record on the relay and installs the
// returned access token for subsequent authenticated calls.
type DeviceLinker interface {
	LinkDevice(ctx context.Context, req *relayapi.LinkDeviceRequest) (*relayapi.LinkDeviceResponse, error)
	SetAccessToken(token string)
}

// SyncRunner runs the secondary link'n'sync role.
type SyncRunner interface {
	WaitForBackupAndRestore(ctx context.Context, key []byte, sink progress.Sink) error
}

// Pipeline completes provisioning for one validated message.
type Pipeline struct {
	linker DeviceLinker
	store  account.Store
	syncer SyncRunner
	log    logging.Logger
	now    func() time.Time
}

func NewPipeline(linker DeviceLinker, store account.Store, syncer SyncRunner, log logging.Logger) *Pipeline {
	return &Pipeline{
		linker: linker,
		store:  store,
		syncer: syncer,
		log:    log.With("module", "completion"),
		now:    time.Now,
	}
}

// Result reports how completion ended. Registered distinguishes "nothing
// happened" failures from failures after the point of no return.
type Result struct {
	Outcome    Outcome
	Recovery   linksync.RecoveryAction
	Registered bool
	DeviceID   int64
	Err        error
}

// Complete runs the full pipeline: conflict check, device record creation,
// local commit (the point of no return), then the optional sync. It always
// returns a Result; Result.Err is nil on the success outcomes.
func (p *Pipeline) Complete(ctx context.Context, msg *provwire.Message, deviceName string, sink progress.Sink) *Result {
	if err := p.checkExisting(ctx, msg); err != nil {
		return p.failed(ctx, err, false)
	}

	resp, err := p.linker.LinkDevice(ctx, &relayapi.LinkDeviceRequest{
		LinkToken:  msg.ProvisioningCode,
		DeviceName: deviceName,
		ACI:        msg.ACI,
		Number:     msg.Number,
	})
	if err != nil {
		return p.failed(ctx, err, false)
	}
	p.linker.SetAccessToken(resp.AccessToken)

	reg := registrationFrom(msg, deviceName, resp, p.now())
	if err := p.store.Commit(ctx, reg); err != nil {
		return p.failed(ctx, err, false)
	}
	p.log.Info(ctx, "registration committed", "device_id", reg.DeviceID, "number", reg.Number)

	if !msg.LinkAndSyncRequested() || p.syncer == nil {
		if sink != nil {
			sink.Update(100)
		}
		return &Result{Outcome: OutcomeSuccess, Registered: true, DeviceID: reg.DeviceID}
	}

	if err := p.syncer.WaitForBackupAndRestore(ctx, msg.EphemeralBackupKey, sink); err != nil {
		if errors.Is(err, linksync.ErrPrimaryFailedExport) {
			// registration already committed: the device works, just
			// without history
			common.WipeByteArray(msg.EphemeralBackupKey)
			p.log.Warn(ctx, "primary could not export a backup, continuing without sync")
			return &Result{
				Outcome:    OutcomeContinuedWithoutSync,
				Recovery:   linksync.RecoveryContinueWithoutSync,
				Registered: true,
				DeviceID:   reg.DeviceID,
			}
		}
		r := p.failed(ctx, err, true)
		r.DeviceID = reg.DeviceID
		if r.Outcome != OutcomeRetryStep {
			// the key is single use; it survives only while a retry of the
			// same sync is still possible
			common.WipeByteArray(msg.EphemeralBackupKey)
		}
		return r
	}

	common.WipeByteArray(msg.EphemeralBackupKey)
	return &Result{Outcome: OutcomeSuccess, Registered: true, DeviceID: reg.DeviceID}
}

// checkExisting refuses to overwrite a registration for another account. A
// registration for the same account is a resume and passes through.
func (p *Pipeline) checkExisting(ctx context.Context, msg *provwire.Message) error {
	reg, err := p.store.Load(ctx)
	if errors.Is(err, account.ErrNotRegistered) {
		return nil
	}
	if err != nil {
		return err
	}
	if reg.Number != msg.Number || (reg.ACI != "" && msg.ACI != "" && reg.ACI != msg.ACI) {
		return ErrDifferentAccount
	}
	return nil
}

func (p *Pipeline) failed(ctx context.Context, err error, registered bool) *Result {
	out := classifyOutcome(err)
	if !errors.Is(err, linksync.ErrCancelled) && !errors.Is(err, context.Canceled) {
		p.log.Warn(ctx, "provisioning completion failed", "outcome", out.String(), "error", err)
	}
	return &Result{
		Outcome:    out,
		Recovery:   linksync.Classify(err),
		Registered: registered,
		Err:        err,
	}
}

// classifyOutcome folds an error into the completion outcome taxonomy.
func classifyOutcome(err error) Outcome {
	if errors.Is(err, ErrDifferentAccount) {
		return OutcomeDifferentAccount
	}
	if errors.Is(err, common.ErrorDeviceLimit) {
		return OutcomeDeviceLimit
	}
	switch linksync.Classify(err) {
	case linksync.RecoveryRetryStep, linksync.RecoveryNone:
		// cancellation after the commit is resumable, not fatal
		return OutcomeRetryStep
	case linksync.RecoveryUpdateApp:
		return OutcomeUpdateApp
	case linksync.RecoveryContinueWithoutSync:
		return OutcomeContinuedWithoutSync
	case linksync.RecoveryFreeDeviceSlot:
		return OutcomeDeviceLimit
	default:
		return OutcomeRestartProvisioning
	}
}

func registrationFrom(msg *provwire.Message, deviceName string, resp *relayapi.LinkDeviceResponse, now time.Time) *account.Registration {
	return &account.Registration{
		Number:     msg.Number,
		ACI:        msg.ACI,
		PNI:        msg.PNI,
		DeviceID:   resp.Device.ID,
		DeviceName: deviceName,
		ACIIdentity: account.KeyPair{
			Public:  msg.ACIIdentityKeyPublic,
			Private: msg.ACIIdentityKeyPrivate,
		},
		PNIIdentity: account.KeyPair{
			Public:  msg.PNIIdentityKeyPublic,
			Private: msg.PNIIdentityKeyPrivate,
		},
		ProfileKey:         msg.ProfileKey,
		MasterKey:          msg.MasterKey,
		AccountEntropyPool: msg.AccountEntropyPool,
		MediaRootBackupKey: msg.MediaRootBackupKey,
		ReadReceipts:       msg.ReadReceipts,
		AccessToken:        resp.AccessToken,
		LinkedAt:           now,
	}
}
