// Package archives persists the primary's reported transfer-archive
// outcomes, one per destination device.
package archives

import (
	"context"

	"github.com/dmitrijs2005/devlink/internal/relay/models"
)

type Repository interface {
	// Upsert stores the outcome, replacing any earlier report for the same
	// device.
	Upsert(ctx context.Context, result *models.ArchiveResult) error

	// GetByDeviceID returns the outcome or common.ErrorNotFound if the
	// primary has not reported yet.
	GetByDeviceID(ctx context.Context, deviceID int64) (*models.ArchiveResult, error)
}
