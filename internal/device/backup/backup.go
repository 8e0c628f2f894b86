// Package backup defines the opaque backup collaborator used by
// link'n'sync: the primary exports and validates an encrypted artifact, the
// secondary imports one. The artifact's internal schema is outside this
// package's concern; it only guarantees the envelope (format version,
// authenticated encryption under the single-use ephemeral backup key).
package backup

import (
	"context"
	"errors"
)

// Typed failures importers/validators must distinguish. A version error
// means the artifact was produced by a newer client and the app must be
// updated; corruption is not recoverable by retrying.
var (
	ErrUnsupportedVersion = errors.New("backup format version not supported")
	ErrCorrupt            = errors.New("backup artifact corrupt or undecryptable")
)

// Exporter produces an encrypted backup artifact keyed by the ephemeral
// backup key and returns its local path.
type Exporter interface {
	Export(ctx context.Context, key []byte) (path string, err error)
}

// Validator checks an exported artifact before upload.
type Validator interface {
	Validate(ctx context.Context, path string) error
}

// Importer restores local state from a downloaded artifact. Implementations
// must not leave partially imported state observable as restored:
// the restored marker is only set after Import returns nil.
type Importer interface {
	Import(ctx context.Context, key []byte, artifact []byte) error
}
