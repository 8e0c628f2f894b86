// Package cryptox provides key derivation helpers for the device agent.
package cryptox

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
)

// MakeVerifier returns a hash of the master key suitable for storing and
// later checking a passphrase without keeping the key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// DeriveMasterKey stretches a user passphrase into a 32-byte root key with
// Argon2id. The salt must be stable for the account (the phone number is
// used), so the same passphrase always yields the same key.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	x := argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
	return x
}
