// Package cipher implements the ephemeral envelope cipher used during
// device provisioning. The secondary device generates a fresh key pair per
// attempt, publishes the public key in the provisioning URL, and the primary
// encrypts a provisioning message to it. Key agreement is X25519, key
// derivation is HKDF-SHA256, and the envelope body is AES-256-CBC with an
// HMAC-SHA256 tag over version, IV and ciphertext.
package cipher

import (
	"crypto/aes"
	aescipher "crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion byte = 0x01

	versionLen = 1
	ivLen      = aes.BlockSize
	macLen     = sha256.Size

	// djbKeyType prefixes serialized public keys, a legacy of the original
	// wire format. PublicKey always includes it; Decrypt accepts keys with
	// or without it.
	djbKeyType byte = 0x05

	kdfInfo = "TextSecure Provisioning Message"
)

// ErrInvalidEnvelope is returned for any malformed, truncated or
// unauthenticated envelope. Specific causes are wrapped so they can be
// logged, but callers should branch on this sentinel only.
var ErrInvalidEnvelope = errors.New("invalid provisioning envelope")

// Cipher holds one ephemeral key pair. The private key never leaves the
// process and is not exposed through the API.
type Cipher struct {
	priv []byte
	pub  []byte
}

// Generate creates a fresh ephemeral key pair for a single provisioning
// attempt. Key pairs are never reused across attempts.
func Generate() (*Cipher, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}

	return &Cipher{priv: priv, pub: pub}, nil
}

// PublicKey returns the serialized public key (type byte + 32 key bytes).
func (c *Cipher) PublicKey() []byte {
	out := make([]byte, 0, 1+len(c.pub))
	out = append(out, djbKeyType)
	return append(out, c.pub...)
}

// Decrypt verifies and decrypts an envelope body encrypted to this cipher's
// public key. theirPublicKey is the sender's ephemeral public key delivered
// out of band next to the body.
//
// The body layout is: version byte, 16-byte IV, ciphertext, 32-byte
// HMAC-SHA256 tag. The tag covers everything before it and is compared in
// constant time before any decryption happens.
func (c *Cipher) Decrypt(theirPublicKey, body []byte) ([]byte, error) {
	if len(body) < versionLen+ivLen+macLen+aes.BlockSize {
		return nil, fmt.Errorf("%w: body too short (%d bytes)", ErrInvalidEnvelope, len(body))
	}
	if body[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, body[0])
	}

	cipherKey, macKey, err := c.deriveKeys(theirPublicKey)
	if err != nil {
		return nil, err
	}

	signed := body[:len(body)-macLen]
	theirMAC := body[len(body)-macLen:]

	mac := hmac.New(sha256.New, macKey)
	mac.Write(signed)
	if !hmac.Equal(mac.Sum(nil), theirMAC) {
		return nil, fmt.Errorf("%w: MAC mismatch", ErrInvalidEnvelope)
	}

	iv := body[versionLen : versionLen+ivLen]
	ciphertext := body[versionLen+ivLen : len(body)-macLen]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrInvalidEnvelope)
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	aescipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return unpadded, nil
}

// Encrypt produces an envelope body for theirPublicKey, using this cipher's
// key pair as the sender's ephemeral identity. The primary device uses it to
// seal the provisioning message; the receiver needs c.PublicKey() out of
// band to reverse the operation.
func (c *Cipher) Encrypt(theirPublicKey, plaintext []byte) ([]byte, error) {
	cipherKey, macKey, err := c.deriveKeys(theirPublicKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	aescipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	body := make([]byte, 0, versionLen+ivLen+len(ciphertext)+macLen)
	body = append(body, envelopeVersion)
	body = append(body, iv...)
	body = append(body, ciphertext...)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	return mac.Sum(body), nil
}

// deriveKeys runs the X25519 agreement and splits the HKDF output into the
// AES key and the MAC key.
func (c *Cipher) deriveKeys(theirPublicKey []byte) (cipherKey, macKey []byte, err error) {
	pub := theirPublicKey
	if len(pub) == 1+curve25519.PointSize && pub[0] == djbKeyType {
		pub = pub[1:]
	}
	if len(pub) != curve25519.PointSize {
		return nil, nil, fmt.Errorf("%w: bad public key length %d", ErrInvalidEnvelope, len(theirPublicKey))
	}

	shared, err := curve25519.X25519(c.priv, pub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key agreement failed", ErrInvalidEnvelope)
	}

	keys := make([]byte, 64)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(kdfInfo))
	if _, err := io.ReadFull(kdf, keys); err != nil {
		return nil, nil, fmt.Errorf("deriving envelope keys: %w", err)
	}
	return keys[:32], keys[32:], nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("bad padding")
		}
	}
	return data[:len(data)-n], nil
}
