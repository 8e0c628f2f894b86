// Package linksync implements the link'n'sync coordinator: after a
// successful link, the primary exports and uploads an encrypted backup
// while the secondary waits for, downloads and restores it. Both roles
// share one progress and error vocabulary.
package linksync

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/device/backup"
	"github.com/dmitrijs2005/devlink/internal/device/guard"
	"github.com/dmitrijs2005/devlink/internal/device/relayclient"
	"github.com/dmitrijs2005/devlink/internal/linksync/progress"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

// RelayClient is the relay surface both roles consume.
type RelayClient interface {
	WaitForLinkedDevice(ctx context.Context, tokenID string, timeout time.Duration) (*relayapi.LinkedDevice, error)
	ReportTransferArchive(ctx context.Context, req *relayapi.ReportTransferArchiveRequest) error
	WaitForTransferArchive(ctx context.Context, timeout time.Duration) (*relayapi.TransferArchive, error)
	GetUploadForm(ctx context.Context) (*relayapi.UploadForm, error)
	GetArchiveReadURL(ctx context.Context, cdn int32, key string) (string, error)
	UploadArtifact(ctx context.Context, presignedURL, path string) error
	DownloadArtifact(ctx context.Context, presignedURL string) ([]byte, error)
}

// Defaults for the bounded server polls.
const (
	defaultPollTimeout = 30 * time.Second
	defaultMaxPolls    = 20
	waitETA            = 45 * time.Second
	estimateTick       = 500 * time.Millisecond
	reportTimeout      = 30 * time.Second
)

// Primary runs the primary-device role: wait for the secondary to link,
// export a backup keyed by the ephemeral key, upload it, and report an
// outcome so the secondary's poll resolves.
type Primary struct {
	relay     RelayClient
	exporter  backup.Exporter
	validator backup.Validator
	sleep     guard.Guard
	messages  guard.Guard
	log       logging.Logger

	pollTimeout time.Duration
	maxPolls    uint64
}

func NewPrimary(relay RelayClient, exporter backup.Exporter, validator backup.Validator,
	sleep, messages guard.Guard, log logging.Logger) *Primary {
	return &Primary{
		relay:       relay,
		exporter:    exporter,
		validator:   validator,
		sleep:       sleep,
		messages:    messages,
		log:         log.With("module", "linksync_primary"),
		pollTimeout: defaultPollTimeout,
		maxPolls:    defaultMaxPolls,
	}
}

// WaitForLinkingAndUploadBackup drives the whole primary role. Message
// processing stays suspended and sleep blocked for the duration; both are
// released on every exit path. Once the linked device is known, an outcome
// always reaches the relay: cancellation reports a relink automatically,
// while export and upload failures return an error whose Handler lets the
// caller choose between continuing without sync and requesting a relink.
func (p *Primary) WaitForLinkingAndUploadBackup(ctx context.Context, key []byte, tokenID string, sink progress.Sink) (err error) {
	tracker, err := progress.NewTracker(sink, progress.PrimaryAllocations())
	if err != nil {
		return err
	}

	releaseSleep := p.sleep.Acquire()
	defer releaseSleep()
	releaseMessages := p.messages.Acquire()
	defer releaseMessages()

	var dev *relayapi.LinkedDevice
	reported := false
	defer func() {
		// cancellation after the link must still resolve the secondary's
		// poll; the report runs detached from ctx. Export and upload
		// failures are excluded: their Handler lets the caller pick the
		// outcome instead.
		var uploadErr *UploadError
		var exportErr *ExportError
		if err != nil && dev != nil && !reported && !errors.As(err, &uploadErr) && !errors.As(err, &exportErr) {
			p.reportDetached(ctx, dev, relayapi.TransferArchive{
				Error: ptr(relayapi.TransferArchiveErrorRelinkRequested),
			})
		}
	}()

	dev, err = p.waitForLinkedDevice(ctx, tokenID, tracker)
	if err != nil {
		return err
	}

	path, err := p.exportBackup(ctx, key, dev, tracker)
	if err != nil {
		return err
	}

	form, err := p.uploadBackup(ctx, path, dev, tracker)
	if err != nil {
		return err
	}

	// report success detached from cancellation of the outer task
	finishing, _ := tracker.Phase(progress.PhaseFinishing)
	p.reportDetached(ctx, dev, relayapi.TransferArchive{CDN: &form.CDN, Key: &form.Key})
	reported = true
	finishing.Complete()

	p.log.Info(ctx, "backup uploaded and reported", "device_id", dev.ID, "cdn", form.CDN)
	return nil
}

// runEstimated starts a ticking estimate for the phase and guarantees the
// estimator goroutine has exited before returning.
func runEstimated(ctx context.Context, rep *progress.PhaseReporter, fn func(ctx context.Context) error) error {
	estCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		progress.RunEstimate(estCtx, rep, waitETA, estimateTick)
	}()
	err := fn(ctx)
	stop()
	<-done
	if err == nil {
		rep.Complete()
	}
	return err
}

func (p *Primary) waitForLinkedDevice(ctx context.Context, tokenID string, tracker *progress.Tracker) (*relayapi.LinkedDevice, error) {
	rep, _ := tracker.Phase(progress.PhaseWaiting)

	var dev *relayapi.LinkedDevice
	err := runEstimated(ctx, rep, func(ctx context.Context) error {
		return retry.Do(ctx, retry.WithMaxRetries(p.maxPolls, retry.NewConstant(time.Millisecond)), func(ctx context.Context) error {
			d, err := p.relay.WaitForLinkedDevice(ctx, tokenID, p.pollTimeout)
			switch {
			case errors.Is(err, relayclient.ErrWaitTimeout), errors.Is(err, common.ErrorRateLimited):
				// the server said "nothing yet"; ask again
				return retry.RetryableError(err)
			case err != nil:
				return err
			}
			dev = d
			return nil
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		if errors.Is(err, relayclient.ErrWaitTimeout) {
			return nil, ErrTimedOutWaitingForLinkedDevice
		}
		return nil, joinWith(ErrWaitingForLinkedDevice, err)
	}
	return dev, nil
}

func (p *Primary) exportBackup(ctx context.Context, key []byte, dev *relayapi.LinkedDevice, tracker *progress.Tracker) (string, error) {
	rep, _ := tracker.Phase(progress.PhaseExporting)

	var path string
	err := runEstimated(ctx, rep, func(ctx context.Context) error {
		var err error
		path, err = p.exporter.Export(ctx, key)
		if err != nil {
			return err
		}
		return p.validator.Validate(ctx, path)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", cancelled(ctx)
		}
		return "", &ExportError{cause: joinWith(ErrGeneratingBackup, err), Handler: p.failureHandler(dev)}
	}
	return path, nil
}

func (p *Primary) uploadBackup(ctx context.Context, path string, dev *relayapi.LinkedDevice, tracker *progress.Tracker) (*relayapi.UploadForm, error) {
	rep, _ := tracker.Phase(progress.PhaseUploading)

	var form *relayapi.UploadForm
	err := runEstimated(ctx, rep, func(ctx context.Context) error {
		var err error
		form, err = p.relay.GetUploadForm(ctx)
		if err != nil {
			return err
		}
		return p.relay.UploadArtifact(ctx, form.URL, path)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		return nil, &UploadError{cause: err, Handler: p.failureHandler(dev)}
	}
	return form, nil
}

func (p *Primary) failureHandler(dev *relayapi.LinkedDevice) *UploadFailureHandler {
	return &UploadFailureHandler{
		reporter:      p.relay,
		deviceID:      dev.ID,
		deviceCreated: dev.Created,
		log:           p.log,
	}
}

// reportDetached reports an outcome on a context that survives
// cancellation of the outer task. Errors are logged and swallowed: there
// is no retry, and the secondary's own poll timeout is the backstop.
func (p *Primary) reportDetached(ctx context.Context, dev *relayapi.LinkedDevice, archive relayapi.TransferArchive) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	err := p.relay.ReportTransferArchive(detached, &relayapi.ReportTransferArchiveRequest{
		DestinationDeviceID:      dev.ID,
		DestinationDeviceCreated: dev.Created,
		TransferArchive:          archive,
	})
	if err != nil {
		p.log.Warn(detached, "failed to report transfer archive outcome", "device_id", dev.ID, "error", err)
	}
}

func cancelled(ctx context.Context) error {
	return joinWith(ErrCancelled, ctx.Err())
}

func joinWith(kind, cause error) error {
	return &wrappedError{kind: kind, cause: cause}
}

// wrappedError matches both its kind and its cause under errors.Is.
type wrappedError struct {
	kind  error
	cause error
}

func (e *wrappedError) Error() string   { return e.kind.Error() + ": " + e.cause.Error() }
func (e *wrappedError) Unwrap() []error { return []error{e.kind, e.cause} }

func ptr[T any](v T) *T { return &v }
