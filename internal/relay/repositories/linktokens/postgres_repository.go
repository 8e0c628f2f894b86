package linktokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/devlink/internal/common"
	"github.com/dmitrijs2005/devlink/internal/dbx"
	"github.com/dmitrijs2005/devlink/internal/relay/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.LinkToken) error {

	query :=
		`INSERT INTO link_tokens (id, code, number, aci, created_at)
         VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.Code, token.Number, token.ACI, token.CreatedAt)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (*models.LinkToken, error) {
	query :=
		`SELECT id, code, number, aci, created_at, used_at FROM link_tokens
		 WHERE code = $1
		 `

	token := &models.LinkToken{}
	err := r.db.QueryRowContext(ctx, query, code).Scan(&token.ID, &token.Code,
		&token.Number, &token.ACI, &token.CreatedAt, &token.UsedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id string) error {
	query :=
		`UPDATE link_tokens SET used_at = now()
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
