// Package repomanager vends repository implementations bound to a database
// handle, so services can run several repositories inside one transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/devlink/internal/dbx"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/archives"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/devices"
	"github.com/dmitrijs2005/devlink/internal/relay/repositories/linktokens"
)

type RepositoryManager interface {
	Devices(db dbx.DBTX) devices.Repository
	LinkTokens(db dbx.DBTX) linktokens.Repository
	Archives(db dbx.DBTX) archives.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
