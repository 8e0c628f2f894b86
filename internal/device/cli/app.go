// Package cli is the interactive device agent: it can host a linking round
// as the primary or join an account as a secondary, including the optional
// backup transfer.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/devlink/internal/device/account"
	"github.com/dmitrijs2005/devlink/internal/device/backup"
	"github.com/dmitrijs2005/devlink/internal/device/config"
	"github.com/dmitrijs2005/devlink/internal/device/relayclient"
	"github.com/dmitrijs2005/devlink/internal/filex"
	"github.com/dmitrijs2005/devlink/internal/logging"
)

type App struct {
	config *config.Config
	log    logging.Logger
	store  *account.FileStore
	relay  *relayclient.Client
	backup *backup.FileBackup
	reader *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	logger := logging.NewSlogLogger(slogger)

	store := account.NewFileStore(filepath.Join(c.DataDir, "registration.json"))
	relay := relayclient.New(c.RelayAddr, logger)

	backupDir, err := filex.EnsureSubdDir(filepath.Join(c.DataDir, "backups"))
	if err != nil {
		return nil, fmt.Errorf("preparing backup directory: %w", err)
	}

	return &App{
		config: c,
		log:    logger,
		store:  store,
		relay:  relay,
		backup: backup.NewFileBackup(backupDir, store, store),
		reader: bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Run(ctx context.Context) {
	a.Root(ctx)
}

// registration returns the stored registration, or nil when this device has
// not joined an account yet.
func (a *App) registration(ctx context.Context) *account.Registration {
	reg, err := a.store.Load(ctx)
	if err != nil {
		return nil
	}
	return reg
}

func (a *App) getStatus(ctx context.Context) string {
	reg := a.registration(ctx)
	if reg == nil {
		return "(unlinked)"
	}
	if reg.DeviceID == 0 {
		return fmt.Sprintf("(%s primary)", reg.Number)
	}
	return fmt.Sprintf("(%s device %d)", reg.Number, reg.DeviceID)
}
