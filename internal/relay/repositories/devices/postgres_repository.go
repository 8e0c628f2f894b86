package devices

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

func (r *PostgresRepository) Create(ctx context.Context, device *models.Device) (*models.Device, error) {

	query :=
		`INSERT INTO devices (number, aci, name, token_id, created, last_seen)
         VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		device.Number, device.ACI, device.Name, device.TokenID,
		device.Created, device.LastSeen).Scan(&device.ID)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return device, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	query :=
		`SELECT id, number, aci, name, token_id, created, last_seen FROM devices
		 WHERE id = $1
		 `

	device := &models.Device{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&device.ID, &device.Number,
		&device.ACI, &device.Name, &device.TokenID, &device.Created, &device.LastSeen)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return device, nil
}

func (r *PostgresRepository) GetByTokenID(ctx context.Context, tokenID string) (*models.Device, error) {
	query :=
		`SELECT id, number, aci, name, token_id, created, last_seen FROM devices
		 WHERE token_id = $1
		 `

	device := &models.Device{}
	err := r.db.QueryRowContext(ctx, query, tokenID).Scan(&device.ID, &device.Number,
		&device.ACI, &device.Name, &device.TokenID, &device.Created, &device.LastSeen)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return device, nil
}

func (r *PostgresRepository) CountForNumber(ctx context.Context, number string) (int, error) {
	query :=
		`SELECT count(*) FROM devices
		 WHERE number = $1
		 `

	var count int
	err := r.db.QueryRowContext(ctx, query, number).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return count, nil
}

func (r *PostgresRepository) TouchLastSeen(ctx context.Context, id int64) error {
	query :=
		`UPDATE devices SET last_seen = now()
		 WHERE id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
