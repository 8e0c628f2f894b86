package devices

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/relay/models"
)

// InMemoryRepository is the test and single-process implementation.
type InMemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	devices map[int64]*models.Device
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{nextID: 1, devices: make(map[int64]*models.Device)}
}

func (r *InMemoryRepository) Create(ctx context.Context, device *models.Device) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device.ID = r.nextID
	r.nextID++
	copied := *device
	r.devices[device.ID] = &copied
	return device, nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	copied := *d
	return &copied, nil
}

func (r *InMemoryRepository) GetByTokenID(ctx context.Context, tokenID string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		if d.TokenID == tokenID {
			copied := *d
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *InMemoryRepository) CountForNumber(ctx context.Context, number string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, d := range r.devices {
		if d.Number == number {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) TouchLastSeen(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return common.ErrorNotFound
	}
	d.LastSeen = time.Now()
	return nil
}
