package linktokens

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/relay/models"
)

type InMemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.LinkToken
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{tokens: make(map[string]*models.LinkToken)}
}

func (r *InMemoryRepository) Create(ctx context.Context, token *models.LinkToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *token
	r.tokens[token.ID] = &copied
	return nil
}

func (r *InMemoryRepository) GetByCode(ctx context.Context, code string) (*models.LinkToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.Code == code {
			copied := *t
			return &copied, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *InMemoryRepository) MarkUsed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[id]
	if !ok {
		return common.ErrorNotFound
	}
	now := time.Now()
	t.UsedAt = &now
	return nil
}
