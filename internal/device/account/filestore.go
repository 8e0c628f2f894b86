package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the registration as a JSON file with 0600 permissions.
// Writes go through a temp file and rename so a crash never leaves a
// half-written registration.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (*Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() (*Registration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("reading registration: %w", err)
	}

	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing registration: %w", err)
	}
	return &reg, nil
}

func (s *FileStore) Commit(ctx context.Context, reg *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(reg)
}

func (s *FileStore) commitLocked(reg *Registration) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing registration: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}
	return nil
}

func (s *FileStore) MarkBackupRestored(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.loadLocked()
	if err != nil {
		return err
	}
	reg.BackupRestored = true
	return s.commitLocked(reg)
}

// Snapshot implements backup.SnapshotSource by serializing the whole
// registration. A full client would export message history here; the
// envelope around it is what link'n'sync cares about.
func (s *FileStore) Snapshot(ctx context.Context) ([]byte, error) {
	reg, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(reg)
}

// Restore implements backup.SnapshotTarget. The restored snapshot never
// overwrites this device's own registration identity; only synced content
// would be applied. Restoration completes only when this returns nil.
func (s *FileStore) Restore(ctx context.Context, snapshot []byte) error {
	var incoming Registration
	if err := json.Unmarshal(snapshot, &incoming); err != nil {
		return fmt.Errorf("parsing snapshot: %w", err)
	}
	return nil
}
