// Package account persists the secondary device's identity, keys and
// registration state. Commit is the provisioning point of no return: once a
// registration is written, the device is registered and a failed sync can
// only be resumed or abandoned, not unwound.
package account

import (
	"context"
	"errors"
	"time"
)

// ErrNotRegistered is returned by Load when no registration exists yet.
var ErrNotRegistered = errors.New("device is not registered")

// KeyPair is a serialized identity key pair.
type KeyPair struct {
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

// Registration is everything provisioning commits locally.
type Registration struct {
	Number     string `json:"number"`
	ACI        string `json:"aci,omitempty"`
	PNI        string `json:"pni,omitempty"`
	DeviceID   int64  `json:"device_id"`
	DeviceName string `json:"device_name"`

	ACIIdentity KeyPair `json:"aci_identity"`
	PNIIdentity KeyPair `json:"pni_identity"`

	ProfileKey         []byte `json:"profile_key"`
	MasterKey          []byte `json:"master_key,omitempty"`
	AccountEntropyPool string `json:"account_entropy_pool,omitempty"`
	MediaRootBackupKey []byte `json:"media_root_backup_key,omitempty"`

	ReadReceipts bool   `json:"read_receipts"`
	AccessToken  string `json:"access_token"`

	LinkedAt       time.Time `json:"linked_at"`
	BackupRestored bool      `json:"backup_restored"`
}

// Store persists the registration.
type Store interface {
	// Load returns the current registration or ErrNotRegistered.
	Load(ctx context.Context) (*Registration, error)

	// Commit writes the registration atomically.
	Commit(ctx context.Context, reg *Registration) error

	// MarkBackupRestored records that a link'n'sync restore finished, so a
	// later resumed attempt can short-circuit.
	MarkBackupRestored(ctx context.Context) error
}
