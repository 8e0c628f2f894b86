// Package devices persists linked-device records.
package devices

import (
	"context"

	"github.com/dmitrijs2005/devlink/internal/relay/models"
)

type Repository interface {
	// Create inserts the device and fills in its assigned ID.
	Create(ctx context.Context, device *models.Device) (*models.Device, error)

	// GetByID returns the device or common.ErrorNotFound.
	GetByID(ctx context.Context, id int64) (*models.Device, error)

	// GetByTokenID returns the device linked under the given link token, or
	// common.ErrorNotFound if the secondary has not linked yet.
	GetByTokenID(ctx context.Context, tokenID string) (*models.Device, error)

	// CountForNumber returns how many devices the account already has.
	CountForNumber(ctx context.Context, number string) (int, error)

	// TouchLastSeen updates the device's last-seen timestamp.
	TouchLastSeen(ctx context.Context, id int64) error
}
