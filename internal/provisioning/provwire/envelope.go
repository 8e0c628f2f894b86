// Package provwire implements the protobuf wire encoding of the
// provisioning envelope and the provisioning message. The schema is small
// and fixed, so the codec is written against encoding/protowire directly
// instead of generated stubs; unknown fields are skipped so newer senders
// stay compatible.
package provwire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a buffer cannot be parsed as the expected
// wire structure.
var ErrMalformed = errors.New("malformed provisioning payload")

// Envelope is the relay-transported payload: the sender's ephemeral public
// key next to the encrypted body produced by the provisioning cipher.
type Envelope struct {
	PublicKey []byte
	Body      []byte
}

const (
	envelopePublicKeyField = 1
	envelopeBodyField      = 2
)

// Marshal encodes the envelope into protobuf wire format.
func (e *Envelope) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, envelopePublicKeyField, protowire.BytesType)
	out = protowire.AppendBytes(out, e.PublicKey)
	out = protowire.AppendTag(out, envelopeBodyField, protowire.BytesType)
	out = protowire.AppendBytes(out, e.Body)
	return out
}

// UnmarshalEnvelope decodes an envelope, skipping unrecognized fields.
func UnmarshalEnvelope(buf []byte) (*Envelope, error) {
	env := &Envelope{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrMalformed)
		}
		buf = buf[n:]

		switch {
		case num == envelopePublicKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad public key field", ErrMalformed)
			}
			env.PublicKey = append([]byte(nil), v...)
			buf = buf[n:]
		case num == envelopeBodyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad body field", ErrMalformed)
			}
			env.Body = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrMalformed, num)
			}
			buf = buf[n:]
		}
	}

	if len(env.PublicKey) == 0 || len(env.Body) == 0 {
		return nil, fmt.Errorf("%w: envelope missing public key or body", ErrMalformed)
	}
	return env, nil
}
