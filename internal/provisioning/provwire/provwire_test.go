package provwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/devlink/internal/common"
)

func validMessage() *Message {
	return &Message{
		ACIIdentityKeyPublic:  common.GenerateRandByteArray(33),
		ACIIdentityKeyPrivate: common.GenerateRandByteArray(32),
		PNIIdentityKeyPublic:  common.GenerateRandByteArray(33),
		PNIIdentityKeyPrivate: common.GenerateRandByteArray(32),
		Number:                "+15555550100",
		ACI:                   "9d0652a3-dcc3-4d11-975f-74d61598733f",
		PNI:                   "0b72db9a-118b-4fd5-87d3-b2b80ff184be",
		ProfileKey:            common.GenerateRandByteArray(32),
		MasterKey:             common.GenerateRandByteArray(32),
		ReadReceipts:          true,
		ProvisioningVersion:   common.ProvisioningVersion,
		UserAgent:             "devlink-primary/0.3.1",
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := validMessage()
	msg.EphemeralBackupKey = common.GenerateRandByteArray(32)

	got, err := UnmarshalMessage(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, msg, got)
	assert.True(t, got.LinkAndSyncRequested())
}

func TestMessageUnknownFieldsSkipped(t *testing.T) {
	msg := validMessage()
	buf := msg.Marshal()
	// field 200, varint 7: a future extension the codec has never seen
	buf = append(buf, 0xc0, 0x0c, 0x07)

	got, err := UnmarshalMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, msg.Number, got.Number)
}

func TestMessageValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validMessage().Validate())
	})

	t.Run("missing number", func(t *testing.T) {
		msg := validMessage()
		msg.Number = ""
		require.ErrorIs(t, msg.Validate(), ErrMissingNumber)
	})

	t.Run("version below minimum", func(t *testing.T) {
		msg := validMessage()
		msg.ProvisioningVersion = 0
		require.ErrorIs(t, msg.Validate(), ErrObsoleteVersion)
	})

	t.Run("no root key material", func(t *testing.T) {
		msg := validMessage()
		msg.MasterKey = nil
		msg.AccountEntropyPool = ""
		require.ErrorIs(t, msg.Validate(), ErrMissingRootKey)
	})

	t.Run("entropy pool alone is enough", func(t *testing.T) {
		msg := validMessage()
		msg.MasterKey = nil
		msg.AccountEntropyPool = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
		require.NoError(t, msg.Validate())
	})
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		PublicKey: common.GenerateRandByteArray(33),
		Body:      common.GenerateRandByteArray(80),
	}
	got, err := UnmarshalEnvelope(env.Marshal())
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte{0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrMalformed)

	// parses as wire format but has no body
	_, err = UnmarshalEnvelope((&Envelope{PublicKey: []byte{1}, Body: []byte{1}}).Marshal()[:3])
	require.Error(t, err)
}
