package backup

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/devlink/internal/common"
)

// formatVersion is the artifact envelope version this client writes and the
// highest it can read.
const formatVersion byte = 0x01

// SnapshotSource supplies the opaque plaintext snapshot to back up. The
// account store implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// SnapshotTarget applies a restored snapshot.
type SnapshotTarget interface {
	Restore(ctx context.Context, snapshot []byte) error
}

// FileBackup is the file-based implementation of Exporter, Validator and
// Importer. Artifact layout: version byte, 12-byte nonce, AES-256-GCM
// ciphertext of the snapshot.
type FileBackup struct {
	dir    string
	source SnapshotSource
	target SnapshotTarget
}

func NewFileBackup(dir string, source SnapshotSource, target SnapshotTarget) *FileBackup {
	return &FileBackup{dir: dir, source: source, target: target}
}

func (b *FileBackup) Export(ctx context.Context, key []byte) (string, error) {
	snapshot, err := b.source.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("reading snapshot: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := common.GenerateRandByteArray(aead.NonceSize())

	out := make([]byte, 0, 1+len(nonce)+len(snapshot)+aead.Overhead())
	out = append(out, formatVersion)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, snapshot, nil)

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return "", fmt.Errorf("creating backup dir: %w", err)
	}
	path := filepath.Join(b.dir, uuid.NewString()+".devlinkbackup")
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return path, nil
}

// Validate re-reads the artifact and checks its envelope without needing
// the key, catching truncated or misversioned files before upload.
func (b *FileBackup) Validate(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}
	return checkEnvelope(data)
}

func (b *FileBackup) Import(ctx context.Context, key []byte, artifact []byte) error {
	if err := checkEnvelope(artifact); err != nil {
		return err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return err
	}

	nonce := artifact[1 : 1+aead.NonceSize()]
	ciphertext := artifact[1+aead.NonceSize():]

	snapshot, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if err := b.target.Restore(ctx, snapshot); err != nil {
		return fmt.Errorf("applying snapshot: %w", err)
	}
	return nil
}

func checkEnvelope(data []byte) error {
	const nonceSize = 12
	if len(data) < 1+nonceSize+16 {
		return fmt.Errorf("%w: artifact too short (%d bytes)", ErrCorrupt, len(data))
	}
	if data[0] > formatVersion {
		return fmt.Errorf("%w: artifact version %d", ErrUnsupportedVersion, data[0])
	}
	if data[0] == 0 {
		return fmt.Errorf("%w: artifact version 0", ErrCorrupt)
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("bad backup key: %w", err)
	}
	return cipher.NewGCM(block)
}
