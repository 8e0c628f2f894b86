package archives

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/relay/models"
)

type InMemoryRepository struct {
	mu      sync.Mutex
	results map[int64]*models.ArchiveResult
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{results: make(map[int64]*models.ArchiveResult)}
}

func (r *InMemoryRepository) Upsert(ctx context.Context, result *models.ArchiveResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *result
	r.results[result.DeviceID] = &copied
	return nil
}

func (r *InMemoryRepository) GetByDeviceID(ctx context.Context, deviceID int64) (*models.ArchiveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.results[deviceID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	copied := *res
	return &copied, nil
}
