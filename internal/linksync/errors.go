package linksync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

var (
	// ErrCancelled is the first-class cancellation outcome. It is distinct
	// from failure and must never trigger fatal UI paths.
	ErrCancelled = errors.New("link'n'sync cancelled")

	// Primary-side failures.
	ErrTimedOutWaitingForLinkedDevice = errors.New("timed out waiting for the linked device")
	ErrWaitingForLinkedDevice         = errors.New("error waiting for the linked device")
	ErrGeneratingBackup               = errors.New("error generating the backup")

	// Secondary-side failures.
	ErrTimedOutWaitingForBackup = errors.New("timed out waiting for the primary's backup")
	ErrWaitingForBackup         = errors.New("error waiting for the primary's backup")
	ErrPrimaryFailedExport      = errors.New("primary failed to export a backup; continuing without sync is possible")
	ErrRelinkRequested          = errors.New("primary requested provisioning be restarted from scratch")
	ErrRestoreFailed            = errors.New("restoring the backup failed")
)

// UploadError is a retryable upload failure. Its Handler can tell the
// secondary (via the relay) how to proceed; both notifications are
// best-effort and swallow their own network errors.
type UploadError struct {
	cause   error
	Handler *UploadFailureHandler
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("error uploading the backup: %v", e.cause)
}

func (e *UploadError) Unwrap() error { return e.cause }

// ExportError is a primary-side backup export or validation failure. Like
// UploadError, its Handler lets the caller choose between finishing the
// link without a backup and requesting a relink.
type ExportError struct {
	cause   error
	Handler *UploadFailureHandler
}

func (e *ExportError) Error() string { return e.cause.Error() }

func (e *ExportError) Unwrap() error { return e.cause }

// DownloadError is a retriable network failure fetching the artifact. A
// corrupt or undecryptable artifact surfaces later, from the import, as
// backup.ErrCorrupt.
type DownloadError struct {
	cause error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("network error downloading the backup: %v", e.cause)
}

func (e *DownloadError) Unwrap() error { return e.cause }

// UploadFailureHandler notifies the secondary of the primary's decision
// after a failed export or upload.
type UploadFailureHandler struct {
	reporter      resultReporter
	deviceID      int64
	deviceCreated int64
	log           logging.Logger
}

type resultReporter interface {
	ReportTransferArchive(ctx context.Context, req *relayapi.ReportTransferArchiveRequest) error
}

// ContinueWithoutSyncing tells the secondary to finish provisioning with
// no backup. Best-effort.
func (h *UploadFailureHandler) ContinueWithoutSyncing(ctx context.Context) {
	h.report(ctx, relayapi.TransferArchiveErrorContinueWithoutUpload)
}

// RequestRelink tells the secondary to restart provisioning from the URL.
// Best-effort.
func (h *UploadFailureHandler) RequestRelink(ctx context.Context) {
	h.report(ctx, relayapi.TransferArchiveErrorRelinkRequested)
}

func (h *UploadFailureHandler) report(ctx context.Context, code string) {
	err := h.reporter.ReportTransferArchive(ctx, &relayapi.ReportTransferArchiveRequest{
		DestinationDeviceID:      h.deviceID,
		DestinationDeviceCreated: h.deviceCreated,
		TransferArchive:          relayapi.TransferArchive{Error: &code},
	})
	if err != nil {
		// no retry is possible here; the secondary's own timeout is the fallback
		h.log.Warn(ctx, "failed to notify secondary of upload outcome", "code", code, "error", err)
	}
}
