package linksync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/device/backup"
	"github.com/dmitrijs2005/devlink/internal/device/relayclient"
	"github.com/dmitrijs2005/devlink/internal/provisioning/cipher"
	"github.com/dmitrijs2005/devlink/internal/provisioning/orchestrator"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil", nil, RecoveryNone},
		{"cancelled", ErrCancelled, RecoveryNone},
		{"context cancelled", context.Canceled, RecoveryNone},
		{"wrapped cancellation", fmt.Errorf("task: %w", ErrCancelled), RecoveryNone},

		{"device limit", common.ErrorDeviceLimit, RecoveryFreeDeviceSlot},

		{"backup version too new", backup.ErrUnsupportedVersion, RecoveryUpdateApp},
		{"primary too old", orchestrator.ErrUpgradePrimary, RecoveryUpdateApp},

		{"primary failed export", ErrPrimaryFailedExport, RecoveryContinueWithoutSync},
		{"generating backup", ErrGeneratingBackup, RecoveryContinueWithoutSync},
		{"upload failed", &UploadError{cause: errors.New("503")}, RecoveryContinueWithoutSync},

		{"relink requested", ErrRelinkRequested, RecoveryRestartProvisioning},
		{"corrupt backup", backup.ErrCorrupt, RecoveryRestartProvisioning},
		{"restore failed", ErrRestoreFailed, RecoveryRestartProvisioning},
		{"bad envelope", cipher.ErrInvalidEnvelope, RecoveryRestartProvisioning},
		{"channel failed", orchestrator.ErrChannelFailed, RecoveryRestartProvisioning},
		{"channel expired", common.ErrorChannelExpired, RecoveryRestartProvisioning},
		{"unknown", errors.New("mystery"), RecoveryRestartProvisioning},

		{"linked device timeout", ErrTimedOutWaitingForLinkedDevice, RecoveryRetryStep},
		{"backup timeout", ErrTimedOutWaitingForBackup, RecoveryRetryStep},
		{"wait error", ErrWaitingForLinkedDevice, RecoveryRetryStep},
		{"poll timeout", relayclient.ErrWaitTimeout, RecoveryRetryStep},
		{"rate limited", common.ErrorRateLimited, RecoveryRetryStep},
		{"network download", &DownloadError{cause: errors.New("reset")}, RecoveryRetryStep},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
