package provwire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dmitrijs2005/devlink/internal/common"
)

// Message is the decrypted provisioning payload the primary sends to the
// secondary. Field numbers are part of the wire contract and must not be
// renumbered.
type Message struct {
	ACIIdentityKeyPublic  []byte // 1
	ACIIdentityKeyPrivate []byte // 2
	Number                string // 3
	ProvisioningCode      string // 4
	UserAgent             string // 5
	ProfileKey            []byte // 6
	ReadReceipts          bool   // 7
	ProvisioningVersion   uint32 // 8
	PNIIdentityKeyPublic  []byte // 9
	PNIIdentityKeyPrivate []byte // 10
	ACI                   string // 11
	PNI                   string // 12
	MasterKey             []byte // 13
	AccountEntropyPool    string // 14
	MediaRootBackupKey    []byte // 15
	EphemeralBackupKey    []byte // 16
}

// Validation errors. ErrObsoleteVersion means the primary is too old and
// the user must upgrade it before linking can proceed.
var (
	ErrMissingNumber   = errors.New("provisioning message has no phone number")
	ErrMissingRootKey  = errors.New("provisioning message has no root key material")
	ErrObsoleteVersion = errors.New("provisioning version below minimum supported")
)

// LinkAndSyncRequested reports whether the primary asked for a backup
// transfer after linking. The ephemeral backup key is only ever present in
// that case.
func (m *Message) LinkAndSyncRequested() bool {
	return len(m.EphemeralBackupKey) > 0
}

// Validate checks the invariants that must hold before any local state is
// mutated: a phone number, a supported protocol version, and one of the two
// root key representations.
func (m *Message) Validate() error {
	if m.Number == "" {
		return ErrMissingNumber
	}
	if m.ProvisioningVersion < common.MinProvisioningVersion {
		return fmt.Errorf("%w: got %d, need >= %d",
			ErrObsoleteVersion, m.ProvisioningVersion, common.MinProvisioningVersion)
	}
	if len(m.MasterKey) == 0 && m.AccountEntropyPool == "" {
		return ErrMissingRootKey
	}
	return nil
}

// Marshal encodes the message into protobuf wire format. Zero-valued fields
// are omitted, matching proto3 semantics.
func (m *Message) Marshal() []byte {
	var out []byte

	appendBytes := func(num protowire.Number, v []byte) {
		if len(v) == 0 {
			return
		}
		out = protowire.AppendTag(out, num, protowire.BytesType)
		out = protowire.AppendBytes(out, v)
	}
	appendString := func(num protowire.Number, v string) {
		if v == "" {
			return
		}
		out = protowire.AppendTag(out, num, protowire.BytesType)
		out = protowire.AppendString(out, v)
	}

	appendBytes(1, m.ACIIdentityKeyPublic)
	appendBytes(2, m.ACIIdentityKeyPrivate)
	appendString(3, m.Number)
	appendString(4, m.ProvisioningCode)
	appendString(5, m.UserAgent)
	appendBytes(6, m.ProfileKey)
	if m.ReadReceipts {
		out = protowire.AppendTag(out, 7, protowire.VarintType)
		out = protowire.AppendVarint(out, 1)
	}
	if m.ProvisioningVersion != 0 {
		out = protowire.AppendTag(out, 8, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(m.ProvisioningVersion))
	}
	appendBytes(9, m.PNIIdentityKeyPublic)
	appendBytes(10, m.PNIIdentityKeyPrivate)
	appendString(11, m.ACI)
	appendString(12, m.PNI)
	appendBytes(13, m.MasterKey)
	appendString(14, m.AccountEntropyPool)
	appendBytes(15, m.MediaRootBackupKey)
	appendBytes(16, m.EphemeralBackupKey)

	return out
}

// UnmarshalMessage decodes a provisioning message, skipping unknown fields.
// It does not validate; call Validate separately so rejection happens after
// a successful parse, with a precise error.
func UnmarshalMessage(buf []byte) (*Message, error) {
	m := &Message{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrMalformed)
		}
		buf = buf[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrMalformed, num)
			}
			buf = buf[n:]
			switch num {
			case 1:
				m.ACIIdentityKeyPublic = append([]byte(nil), v...)
			case 2:
				m.ACIIdentityKeyPrivate = append([]byte(nil), v...)
			case 3:
				m.Number = string(v)
			case 4:
				m.ProvisioningCode = string(v)
			case 5:
				m.UserAgent = string(v)
			case 6:
				m.ProfileKey = append([]byte(nil), v...)
			case 9:
				m.PNIIdentityKeyPublic = append([]byte(nil), v...)
			case 10:
				m.PNIIdentityKeyPrivate = append([]byte(nil), v...)
			case 11:
				m.ACI = string(v)
			case 12:
				m.PNI = string(v)
			case 13:
				m.MasterKey = append([]byte(nil), v...)
			case 14:
				m.AccountEntropyPool = string(v)
			case 15:
				m.MediaRootBackupKey = append([]byte(nil), v...)
			case 16:
				m.EphemeralBackupKey = append([]byte(nil), v...)
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrMalformed, num)
			}
			buf = buf[n:]
			switch num {
			case 7:
				m.ReadReceipts = v != 0
			case 8:
				m.ProvisioningVersion = uint32(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrMalformed, num)
			}
			buf = buf[n:]
		}
	}
	return m, nil
}
