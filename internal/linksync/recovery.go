package linksync

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/device/backup"
	"github.com/dmitrijs2005/devlink/internal/device/relayclient"
	"github.com/dmitrijs2005/devlink/internal/provisioning/cipher"
	"github.com/dmitrijs2005/devlink/internal/provisioning/orchestrator"
)

// RecoveryAction is the single action the UI should offer for a failure.
// The mapping is pure data so presentation stays decoupled from protocol
// logic.
type RecoveryAction int

const (
	// RecoveryNone: cancellation; nothing to offer.
	RecoveryNone RecoveryAction = iota
	// RecoveryRetryStep: safe to re-invoke the same operation.
	RecoveryRetryStep
	// RecoveryRestartProvisioning: reset channel and cipher, show a new URL.
	RecoveryRestartProvisioning
	// RecoveryContinueWithoutSync: offer to finish linking without the
	// backup, or restart.
	RecoveryContinueWithoutSync
	// RecoveryUpdateApp: software too old on one side; no retry.
	RecoveryUpdateApp
	// RecoveryFreeDeviceSlot: account already at its device limit; no retry.
	RecoveryFreeDeviceSlot
)

// Classify maps any error surfaced by provisioning or link'n'sync to the
// recovery action the caller should offer.
func Classify(err error) RecoveryAction {
	switch {
	case err == nil:
		return RecoveryNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return RecoveryNone

	case errors.Is(err, common.ErrorDeviceLimit):
		return RecoveryFreeDeviceSlot

	case errors.Is(err, backup.ErrUnsupportedVersion),
		errors.Is(err, orchestrator.ErrUpgradePrimary):
		return RecoveryUpdateApp

	case errors.Is(err, ErrPrimaryFailedExport),
		errors.Is(err, ErrGeneratingBackup):
		return RecoveryContinueWithoutSync

	case errors.Is(err, ErrRelinkRequested),
		errors.Is(err, backup.ErrCorrupt),
		errors.Is(err, ErrRestoreFailed),
		errors.Is(err, cipher.ErrInvalidEnvelope),
		errors.Is(err, orchestrator.ErrChannelFailed),
		errors.Is(err, common.ErrorChannelExpired):
		return RecoveryRestartProvisioning

	case errors.Is(err, ErrTimedOutWaitingForLinkedDevice),
		errors.Is(err, ErrTimedOutWaitingForBackup),
		errors.Is(err, ErrWaitingForLinkedDevice),
		errors.Is(err, ErrWaitingForBackup),
		errors.Is(err, relayclient.ErrWaitTimeout),
		errors.Is(err, common.ErrorRateLimited):
		return RecoveryRetryStep
	}

	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return RecoveryContinueWithoutSync
	}

	var downloadErr *DownloadError
	if errors.As(err, &downloadErr) {
		return RecoveryRetryStep
	}

	// unknown errors get the safe generic path: a fresh attempt
	return RecoveryRestartProvisioning
}
