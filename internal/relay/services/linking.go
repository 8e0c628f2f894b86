// Package services implements the relay's domain operations on top of the
// repositories: link-token issue, device linking, and the two long-poll
// waits that connect the primary and secondary flows.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/dbx"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/relay/auth"
	rc "github.com/dmitrijs2005/devlink/internal/relay/config"
	"github.com/dmitrijs2005/devlink/internal/relay/models"
	"github.com/dmitrijs2005/devlink/internal/relay/notify"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/repomanager"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

// MaxLinkedDevices caps the number of devices one account may link.
const MaxLinkedDevices = 5

// ErrWaitTimeout means nothing happened within the long-poll window; the
// handler answers 204 and the client polls again.
var ErrWaitTimeout = errors.New("nothing to report within the wait window")

const (
	linkedTopicPrefix  = "linked:"
	archiveTopicPrefix = "archive:"
)

type LinkingService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	broker *notify.Broker
	config *rc.Config
	log    logging.Logger
}

func NewLinkingService(db *sql.DB, repos repomanager.RepositoryManager, broker *notify.Broker,
	config *rc.Config, log logging.Logger) *LinkingService {
	return &LinkingService{
		db:     db,
		repos:  repos,
		broker: broker,
		config: config,
		log:    log.With("module", "linking_service"),
	}
}

// NewLinkToken issues a link token for a primary that is about to show a
// provisioning URL: the verification code goes into the provisioning
// message, the token id into the wait_for_linked_device poll. The returned
// access token authenticates the primary's later report call.
func (s *LinkingService) NewLinkToken(ctx context.Context, number, aci string) (*models.LinkToken, string, error) {
	code, err := common.MakeRandHexString(12)
	if err != nil {
		return nil, "", fmt.Errorf("generating verification code: %w", err)
	}

	token := &models.LinkToken{
		ID:        uuid.NewString(),
		Code:      code,
		Number:    number,
		ACI:       aci,
		CreatedAt: time.Now(),
	}

	if err := s.repos.LinkTokens(s.db).Create(ctx, token); err != nil {
		return nil, "", err
	}

	// device id 0 marks the primary itself
	accessToken, err := auth.GenerateToken(0, number, []byte(s.config.SecretKey), s.config.AccessTokenValidityDuration)
	if err != nil {
		s.log.Error(ctx, "generating access token", "error", err)
		return nil, "", common.ErrorInternal
	}

	return token, accessToken, nil
}

// LinkDevice creates the device record for a secondary that finished
// provisioning locally and wakes the primary's wait poll.
func (s *LinkingService) LinkDevice(ctx context.Context, req *relayapi.LinkDeviceRequest) (*relayapi.LinkDeviceResponse, error) {
	token, err := s.repos.LinkTokens(s.db).GetByCode(ctx, req.LinkToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if token.UsedAt != nil {
		return nil, common.ErrorUnauthorized
	}
	if token.Number != req.Number {
		return nil, common.ErrorBadRequest
	}

	count, err := s.repos.Devices(s.db).CountForNumber(ctx, req.Number)
	if err != nil {
		return nil, err
	}
	if count >= MaxLinkedDevices {
		return nil, common.ErrorDeviceLimit
	}

	now := time.Now()
	device := &models.Device{
		Number:   req.Number,
		ACI:      req.ACI,
		Name:     req.DeviceName,
		TokenID:  token.ID,
		Created:  now,
		LastSeen: now,
	}

	err = s.withTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Devices(tx).Create(ctx, device); err != nil {
			return err
		}
		return s.repos.LinkTokens(tx).MarkUsed(ctx, token.ID)
	})
	if err != nil {
		return nil, err
	}

	accessToken, err := auth.GenerateToken(device.ID, device.Number, []byte(s.config.SecretKey), s.config.AccessTokenValidityDuration)
	if err != nil {
		s.log.Error(ctx, "generating access token", "error", err)
		return nil, common.ErrorInternal
	}

	s.broker.Publish(linkedTopicPrefix + token.ID)
	s.log.Info(ctx, "device linked", "device_id", device.ID, "token_id", token.ID)

	return &relayapi.LinkDeviceResponse{
		Device:      deviceToAPI(device),
		AccessToken: accessToken,
	}, nil
}

// WaitForLinkedDevice blocks until a device linked under tokenID, the
// window elapses (ErrWaitTimeout) or ctx is cancelled.
func (s *LinkingService) WaitForLinkedDevice(ctx context.Context, tokenID string, timeout time.Duration) (*relayapi.LinkedDevice, error) {
	// subscribe before the first check so a publish between check and wait
	// is not lost
	wake, cancel := s.broker.Subscribe(linkedTopicPrefix + tokenID)
	defer cancel()

	deadline := time.NewTimer(s.clampTimeout(timeout))
	defer deadline.Stop()

	for {
		device, err := s.repos.Devices(s.db).GetByTokenID(ctx, tokenID)
		if err == nil {
			api := deviceToAPI(device)
			return &api, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}

		select {
		case <-wake:
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReportArchive stores the primary's transfer-archive outcome and wakes the
// destination device's wait poll. Exactly one of locator and error code
// must be present.
func (s *LinkingService) ReportArchive(ctx context.Context, req *relayapi.ReportTransferArchiveRequest) error {
	archive := req.TransferArchive
	hasLocator := archive.CDN != nil && archive.Key != nil
	hasError := archive.Error != nil
	if hasLocator == hasError {
		return common.ErrorBadRequest
	}

	device, err := s.repos.Devices(s.db).GetByID(ctx, req.DestinationDeviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorBadRequest
		}
		return err
	}
	if req.DestinationDeviceCreated != device.Created.UnixMilli() {
		// the report targets an older incarnation of this device id
		return common.ErrorBadRequest
	}

	err = s.repos.Archives(s.db).Upsert(ctx, &models.ArchiveResult{
		DeviceID:   device.ID,
		CDN:        archive.CDN,
		Key:        archive.Key,
		Error:      archive.Error,
		ReportedAt: time.Now(),
	})
	if err != nil {
		return err
	}

	s.broker.Publish(archiveTopicPrefix + deviceTopic(device.ID))
	s.log.Info(ctx, "transfer archive reported", "device_id", device.ID, "failed", hasError)
	return nil
}

// WaitForArchive blocks until the primary reported an outcome for deviceID,
// the window elapses (ErrWaitTimeout) or ctx is cancelled.
func (s *LinkingService) WaitForArchive(ctx context.Context, deviceID int64, timeout time.Duration) (*relayapi.TransferArchive, error) {
	wake, cancel := s.broker.Subscribe(archiveTopicPrefix + deviceTopic(deviceID))
	defer cancel()

	deadline := time.NewTimer(s.clampTimeout(timeout))
	defer deadline.Stop()

	for {
		result, err := s.repos.Archives(s.db).GetByDeviceID(ctx, deviceID)
		if err == nil {
			_ = s.repos.Devices(s.db).TouchLastSeen(ctx, deviceID)
			return &relayapi.TransferArchive{CDN: result.CDN, Key: result.Key, Error: result.Error}, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}

		select {
		case <-wake:
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// withTx runs fn transactionally when a real database is attached. The
// in-memory repositories ignore the handle, so fn runs directly.
func (s *LinkingService) withTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if s.db == nil {
		return fn(ctx, nil)
	}
	return dbx.WithTx(ctx, s.db, nil, fn)
}

func (s *LinkingService) clampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 || timeout > s.config.MaxWaitTimeout {
		return s.config.MaxWaitTimeout
	}
	return timeout
}

func deviceTopic(id int64) string {
	return fmt.Sprintf("%d", id)
}

func deviceToAPI(d *models.Device) relayapi.LinkedDevice {
	return relayapi.LinkedDevice{
		ID:       d.ID,
		Name:     d.Name,
		LastSeen: d.LastSeen.UnixMilli(),
		Created:  d.Created.UnixMilli(),
	}
}
