package archives

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

func (r *PostgresRepository) Upsert(ctx context.Context, result *models.ArchiveResult) error {

	query :=
		`INSERT INTO archive_results (device_id, cdn, key, error, reported_at)
         VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (device_id) DO UPDATE
		 SET cdn = $2, key = $3, error = $4, reported_at = $5
		 `

	_, err := r.db.ExecContext(ctx, query,
		result.DeviceID, result.CDN, result.Key, result.Error, result.ReportedAt)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByDeviceID(ctx context.Context, deviceID int64) (*models.ArchiveResult, error) {
	query :=
		`SELECT device_id, cdn, key, error, reported_at FROM archive_results
		 WHERE device_id = $1
		 `

	result := &models.ArchiveResult{}
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(&result.DeviceID,
		&result.CDN, &result.Key, &result.Error, &result.ReportedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}
