// Package linktokens persists the tokens that correlate a primary's
// wait-for-link poll with the secondary's device record.
package linktokens

import (
	"context"

	"github.com/dmitrijs2005/devlink/internal/relay/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.LinkToken) error

	// GetByCode returns the token matching the verification code, or
	// common.ErrorNotFound.
	GetByCode(ctx context.Context, code string) (*models.LinkToken, error)

	// MarkUsed stamps the token so a second link attempt with the same code
	// is refused.
	MarkUsed(ctx context.Context, id string) error
}
