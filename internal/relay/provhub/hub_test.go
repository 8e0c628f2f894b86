package provhub

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/provisioning/channel"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provwire"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func startHub(t *testing.T, ttl time.Duration) (*Hub, string) {
	t.Helper()
	hub := NewHub(ttl, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleProvisioning))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func awaitEvent(t *testing.T, events <-chan channel.Event) channel.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return channel.Event{}
	}
}

func TestHub_AssignsChannelID(t *testing.T) {
	hub, wsURL := startHub(t, time.Minute)

	client, err := channel.Dial(context.Background(), wsURL, testLogger())
	require.NoError(t, err)
	defer client.Close()

	ev := awaitEvent(t, client.Events())
	assert.Equal(t, channel.EventIdentifierAssigned, ev.Kind)
	assert.NotEmpty(t, ev.ChannelID)
	assert.True(t, hub.Open(ev.ChannelID))
}

func TestHub_DeliverUnknownChannel(t *testing.T) {
	hub, _ := startHub(t, time.Minute)

	err := hub.Deliver("no-such-channel", []byte{1})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestHub_TTLClosesChannel(t *testing.T) {
	_, wsURL := startHub(t, 50*time.Millisecond)

	client, err := channel.Dial(context.Background(), wsURL, testLogger())
	require.NoError(t, err)
	defer client.Close()

	ev := awaitEvent(t, client.Events())
	require.Equal(t, channel.EventIdentifierAssigned, ev.Kind)

	ev = awaitEvent(t, client.Events())
	assert.Equal(t, channel.EventClosed, ev.Kind)
	assert.NoError(t, ev.Err)
}

func TestHub_PeerCloseUnregisters(t *testing.T) {
	hub, wsURL := startHub(t, time.Minute)

	client, err := channel.Dial(context.Background(), wsURL, testLogger())
	require.NoError(t, err)

	ev := awaitEvent(t, client.Events())
	require.Equal(t, channel.EventIdentifierAssigned, ev.Kind)
	id := ev.ChannelID

	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool { return !hub.Open(id) }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, hub.Deliver(id, []byte{1}), ErrChannelNotFound)
}

func TestHub_SecondDeliveryRejected(t *testing.T) {
	hub, wsURL := startHub(t, time.Minute)

	client, err := channel.Dial(context.Background(), wsURL, testLogger())
	require.NoError(t, err)
	defer client.Close()

	ev := awaitEvent(t, client.Events())
	require.Equal(t, channel.EventIdentifierAssigned, ev.Kind)
	id := ev.ChannelID

	// a parseable envelope so the client side accepts the frame
	env := provwire.Envelope{PublicKey: make([]byte, 32), Body: []byte{1, 2, 3}}
	body := env.Marshal()

	require.NoError(t, hub.Deliver(id, body))
	assert.ErrorIs(t, hub.Deliver(id, body), ErrChannelNotFound)

	ev = awaitEvent(t, client.Events())
	require.Equal(t, channel.EventEnvelopeReceived, ev.Kind)
	require.NotNil(t, ev.Envelope)

	ev = awaitEvent(t, client.Events())
	assert.Equal(t, channel.EventClosed, ev.Kind)
	assert.NoError(t, ev.Err)
}
