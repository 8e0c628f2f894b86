package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/devlink/internal/dbx"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/archives"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/devices"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/linktokens"
)

// InMemoryRepositoryManager serves tests and single-process runs. It
// ignores the DBTX argument and hands out one shared set of stores.
type InMemoryRepositoryManager struct {
	devices    *devices.InMemoryRepository
	linkTokens *linktokens.InMemoryRepository
	archives   *archives.InMemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		devices:    devices.NewInMemoryRepository(),
		linkTokens: linktokens.NewInMemoryRepository(),
		archives:   archives.NewInMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return m.devices
}

func (m *InMemoryRepositoryManager) LinkTokens(db dbx.DBTX) linktokens.Repository {
	return m.linkTokens
}

func (m *InMemoryRepositoryManager) Archives(db dbx.DBTX) archives.Repository {
	return m.archives
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}
