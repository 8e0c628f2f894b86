package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/relay/auth"
	relayconfig "github.com/dmitrijs2005/devlink/internal/relay/config"
	"github.com/dmitrijs2005/devlink/internal/relay/notify"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/repomanager"
	"github.com/dmitrijs2005/devlink/internal/relayapi"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func newLinkingSvc(t *testing.T) *LinkingService {
	t.Helper()
	cfg := &relayconfig.Config{
		SecretKey:                   "test-secret",
		AccessTokenValidityDuration: time.Hour,
		MaxWaitTimeout:              200 * time.Millisecond,
	}
	return NewLinkingService(nil, repomanager.NewInMemoryRepositoryManager(), notify.NewBroker(), cfg, testLogger())
}

func linkRequest(code string) *relayapi.LinkDeviceRequest {
	return &relayapi.LinkDeviceRequest{
		LinkToken:  code,
		DeviceName: "tablet",
		ACI:        "aci-1",
		Number:     "+15550100",
	}
}

func TestNewLinkToken(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()

	token, accessToken, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)

	assert.NotEmpty(t, token.ID)
	assert.Len(t, token.Code, 12)
	assert.Equal(t, "+15550100", token.Number)
	assert.Nil(t, token.UsedAt)

	deviceID, number, err := auth.GetDeviceFromToken(accessToken, []byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), deviceID)
	assert.Equal(t, "+15550100", number)
}

func TestLinkDevice(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()

	token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)

	resp, err := svc.LinkDevice(ctx, linkRequest(token.Code))
	require.NoError(t, err)

	assert.Equal(t, int64(1), resp.Device.ID)
	assert.Equal(t, "tablet", resp.Device.Name)
	assert.NotZero(t, resp.Device.Created)

	deviceID, number, err := auth.GetDeviceFromToken(resp.AccessToken, []byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, resp.Device.ID, deviceID)
	assert.Equal(t, "+15550100", number)

	// took the token with it
	_, err = svc.LinkDevice(ctx, linkRequest(token.Code))
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLinkDevice_UnknownCode(t *testing.T) {
	svc := newLinkingSvc(t)

	_, err := svc.LinkDevice(context.Background(), linkRequest("no-such-code"))
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestLinkDevice_NumberMismatch(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()

	token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)

	req := linkRequest(token.Code)
	req.Number = "+15550199"

	_, err = svc.LinkDevice(ctx, req)
	assert.ErrorIs(t, err, common.ErrorBadRequest)
}

func TestLinkDevice_DeviceLimit(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()

	for i := 0; i < MaxLinkedDevices; i++ {
		token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
		require.NoError(t, err)
		_, err = svc.LinkDevice(ctx, linkRequest(token.Code))
		require.NoError(t, err)
	}

	token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)

	_, err = svc.LinkDevice(ctx, linkRequest(token.Code))
	assert.ErrorIs(t, err, common.ErrorDeviceLimit)
}

func TestWaitForLinkedDevice_WakesOnLink(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()

	token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = svc.LinkDevice(ctx, linkRequest(token.Code))
	}()

	device, err := svc.WaitForLinkedDevice(ctx, token.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tablet", device.Name)
}

func TestWaitForLinkedDevice_Timeout(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()

	token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)

	start := time.Now()
	_, err = svc.WaitForLinkedDevice(ctx, token.ID, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForLinkedDevice_ClampsExcessiveTimeout(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()

	token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)

	start := time.Now()
	_, err = svc.WaitForLinkedDevice(ctx, token.ID, time.Hour)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForLinkedDevice_ContextCancelled(t *testing.T) {
	svc := newLinkingSvc(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.WaitForLinkedDevice(ctx, "some-token", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func linkOneDevice(t *testing.T, svc *LinkingService) *relayapi.LinkedDevice {
	t.Helper()
	ctx := context.Background()
	token, _, err := svc.NewLinkToken(ctx, "+15550100", "aci-1")
	require.NoError(t, err)
	resp, err := svc.LinkDevice(ctx, linkRequest(token.Code))
	require.NoError(t, err)
	return &resp.Device
}

func TestReportArchive_ThenWait(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()
	device := linkOneDevice(t, svc)

	cdn := int32(3)
	key := "archives/2026/1/2/abc"
	err := svc.ReportArchive(ctx, &relayapi.ReportTransferArchiveRequest{
		DestinationDeviceID:      device.ID,
		DestinationDeviceCreated: device.Created,
		TransferArchive:          relayapi.TransferArchive{CDN: &cdn, Key: &key},
	})
	require.NoError(t, err)

	archive, err := svc.WaitForArchive(ctx, device.ID, time.Second)
	require.NoError(t, err)
	require.NotNil(t, archive.CDN)
	assert.Equal(t, cdn, *archive.CDN)
	assert.Equal(t, key, *archive.Key)
	assert.Nil(t, archive.Error)
}

func TestWaitForArchive_WakesOnReport(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()
	device := linkOneDevice(t, svc)

	code := relayapi.TransferArchiveErrorRelinkRequested
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = svc.ReportArchive(ctx, &relayapi.ReportTransferArchiveRequest{
			DestinationDeviceID:      device.ID,
			DestinationDeviceCreated: device.Created,
			TransferArchive:          relayapi.TransferArchive{Error: &code},
		})
	}()

	archive, err := svc.WaitForArchive(ctx, device.ID, time.Second)
	require.NoError(t, err)
	require.NotNil(t, archive.Error)
	assert.Equal(t, code, *archive.Error)
}

func TestWaitForArchive_Timeout(t *testing.T) {
	svc := newLinkingSvc(t)
	device := linkOneDevice(t, svc)

	_, err := svc.WaitForArchive(context.Background(), device.ID, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestReportArchive_Validation(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()
	device := linkOneDevice(t, svc)

	cdn := int32(3)
	key := "k"
	code := relayapi.TransferArchiveErrorContinueWithoutUpload

	tests := []struct {
		name string
		req  relayapi.ReportTransferArchiveRequest
	}{
		{
			name: "neither locator nor error",
			req: relayapi.ReportTransferArchiveRequest{
				DestinationDeviceID:      device.ID,
				DestinationDeviceCreated: device.Created,
			},
		},
		{
			name: "both locator and error",
			req: relayapi.ReportTransferArchiveRequest{
				DestinationDeviceID:      device.ID,
				DestinationDeviceCreated: device.Created,
				TransferArchive:          relayapi.TransferArchive{CDN: &cdn, Key: &key, Error: &code},
			},
		},
		{
			name: "created mismatch",
			req: relayapi.ReportTransferArchiveRequest{
				DestinationDeviceID:      device.ID,
				DestinationDeviceCreated: device.Created + 1,
				TransferArchive:          relayapi.TransferArchive{CDN: &cdn, Key: &key},
			},
		},
		{
			name: "unknown device",
			req: relayapi.ReportTransferArchiveRequest{
				DestinationDeviceID:      9999,
				DestinationDeviceCreated: device.Created,
				TransferArchive:          relayapi.TransferArchive{CDN: &cdn, Key: &key},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ReportArchive(ctx, &tt.req)
			assert.ErrorIs(t, err, common.ErrorBadRequest)
		})
	}
}

func TestReportArchive_SecondReportOverwrites(t *testing.T) {
	svc := newLinkingSvc(t)
	ctx := context.Background()
	device := linkOneDevice(t, svc)

	code := relayapi.TransferArchiveErrorContinueWithoutUpload
	err := svc.ReportArchive(ctx, &relayapi.ReportTransferArchiveRequest{
		DestinationDeviceID:      device.ID,
		DestinationDeviceCreated: device.Created,
		TransferArchive:          relayapi.TransferArchive{Error: &code},
	})
	require.NoError(t, err)

	cdn := int32(3)
	key := "archives/2026/1/2/retry"
	err = svc.ReportArchive(ctx, &relayapi.ReportTransferArchiveRequest{
		DestinationDeviceID:      device.ID,
		DestinationDeviceCreated: device.Created,
		TransferArchive:          relayapi.TransferArchive{CDN: &cdn, Key: &key},
	})
	require.NoError(t, err)

	archive, err := svc.WaitForArchive(ctx, device.ID, time.Second)
	require.NoError(t, err)
	require.NotNil(t, archive.Key)
	assert.Equal(t, key, *archive.Key)
	assert.Nil(t, archive.Error)
}
