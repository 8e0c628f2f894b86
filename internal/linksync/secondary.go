package linksync

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/device/account"
	"github.com/dmitrijs2005/devlink/internal/device/backup"
	"github.com/dmitrijs2005/devlink/internal/device/guard"
	"github.com/dmitrijs2005/devlink/internal/device/relayclient"
	"github.com/dmitrijs2005/devlink/internal/linksync/progress"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

// Secondary runs the secondary-device role: poll for the primary's
// transfer archive, download it, decrypt and import it, then mark the
// restore done so a retried run becomes a no-op.
type Secondary struct {
	relay    RelayClient
	importer backup.Importer
	store    account.Store
	sleep    guard.Guard
	log      logging.Logger

	pollTimeout time.Duration
	maxPolls    uint64
}

func NewSecondary(relay RelayClient, importer backup.Importer, store account.Store,
	sleep guard.Guard, log logging.Logger) *Secondary {
	return &Secondary{
		relay:       relay,
		importer:    importer,
		store:       store,
		sleep:       sleep,
		log:         log.With("module", "linksync_secondary"),
		pollTimeout: defaultPollTimeout,
		maxPolls:    defaultMaxPolls,
	}
}

// WaitForBackupAndRestore drives the whole secondary role. The method is
// idempotent: once a restore has been recorded it returns nil immediately,
// so callers may retry the surrounding flow freely.
func (s *Secondary) WaitForBackupAndRestore(ctx context.Context, key []byte, sink progress.Sink) error {
	reg, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if reg.BackupRestored {
		s.log.Info(ctx, "backup already restored, nothing to do")
		return nil
	}

	tracker, err := progress.NewTracker(sink, progress.SecondaryAllocations())
	if err != nil {
		return err
	}

	releaseSleep := s.sleep.Acquire()
	defer releaseSleep()

	archive, err := s.waitForArchive(ctx, tracker)
	if err != nil {
		return err
	}

	artifact, err := s.downloadArchive(ctx, archive, tracker)
	if err != nil {
		return err
	}

	if err := s.importArchive(ctx, key, artifact, tracker); err != nil {
		return err
	}

	if err := s.store.MarkBackupRestored(ctx); err != nil {
		return err
	}

	s.log.Info(ctx, "backup restored")
	return nil
}

func (s *Secondary) waitForArchive(ctx context.Context, tracker *progress.Tracker) (*relayapi.TransferArchive, error) {
	rep, _ := tracker.Phase(progress.PhaseWaiting)

	var archive *relayapi.TransferArchive
	err := runEstimated(ctx, rep, func(ctx context.Context) error {
		return retry.Do(ctx, retry.WithMaxRetries(s.maxPolls, retry.NewConstant(time.Millisecond)), func(ctx context.Context) error {
			a, err := s.relay.WaitForTransferArchive(ctx, s.pollTimeout)
			switch {
			case errors.Is(err, relayclient.ErrWaitTimeout), errors.Is(err, common.ErrorRateLimited):
				return retry.RetryableError(err)
			case err != nil:
				return err
			}
			archive = a
			return nil
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		if errors.Is(err, relayclient.ErrWaitTimeout) {
			return nil, ErrTimedOutWaitingForBackup
		}
		return nil, joinWith(ErrWaitingForBackup, err)
	}

	// a failure code from the primary surfaces before any download work
	if archive.Error != nil {
		switch *archive.Error {
		case relayapi.TransferArchiveErrorContinueWithoutUpload:
			return nil, ErrPrimaryFailedExport
		case relayapi.TransferArchiveErrorRelinkRequested:
			return nil, ErrRelinkRequested
		default:
			s.log.Warn(ctx, "unknown transfer archive error code", "code", *archive.Error)
			return nil, ErrWaitingForBackup
		}
	}
	if archive.CDN == nil || archive.Key == nil {
		return nil, ErrWaitingForBackup
	}
	return archive, nil
}

func (s *Secondary) downloadArchive(ctx context.Context, archive *relayapi.TransferArchive, tracker *progress.Tracker) ([]byte, error) {
	rep, _ := tracker.Phase(progress.PhaseDownloading)

	var artifact []byte
	err := runEstimated(ctx, rep, func(ctx context.Context) error {
		url, err := s.relay.GetArchiveReadURL(ctx, *archive.CDN, *archive.Key)
		if err != nil {
			return err
		}
		artifact, err = s.relay.DownloadArtifact(ctx, url)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, &DownloadError{cause: err}
	}
	return artifact, nil
}

func (s *Secondary) importArchive(ctx context.Context, key, artifact []byte, tracker *progress.Tracker) error {
	rep, _ := tracker.Phase(progress.PhaseImporting)

	err := runEstimated(ctx, rep, func(ctx context.Context) error {
		return s.importer.Import(ctx, key, artifact)
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		// version and corruption failures keep their identity so recovery
		// can distinguish "update the app" from "relink"
		if errors.Is(err, backup.ErrUnsupportedVersion) || errors.Is(err, backup.ErrCorrupt) {
			return err
		}
		return joinWith(ErrRestoreFailed, err)
	}
	return nil
}
