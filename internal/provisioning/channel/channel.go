// Package channel maintains the short-lived duplex session a secondary
// device holds open against the relay while waiting for a provisioning
// envelope. The relay assigns a channel identifier, then delivers at most
// one envelope before closing; idle channels are closed server-side after
// 90 seconds.
//
// Events arrive on a single channel in order, so consumers never deal with
// callback re-entrancy: IdentifierAssigned first, then either
// EnvelopeReceived or Closed.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/devlink/internal/logging"
	"github.com/dmitrijs2005/devlink/internal/provisioning/provwire"
)

// EventKind discriminates channel events.
type EventKind int

const (
	// EventIdentifierAssigned carries the relay-assigned channel id.
	EventIdentifierAssigned EventKind = iota
	// EventEnvelopeReceived carries the single provisioning envelope.
	EventEnvelopeReceived
	// EventClosed is terminal; Err is nil for a clean close.
	EventClosed
)

// Event is one ordered occurrence on a provisioning channel.
type Event struct {
	Kind      EventKind
	ChannelID string
	Envelope  *provwire.Envelope
	Err       error
}

// Frame types of the relay's provisioning websocket protocol.
const (
	frameTypeUUID     = "uuid"
	frameTypeEnvelope = "envelope"
)

type frame struct {
	Type     string `json:"type"`
	UUID     string `json:"uuid,omitempty"`
	Envelope []byte `json:"envelope,omitempty"`
}

// Client is one open provisioning channel. It is not reusable: once closed,
// open a new one (with a new cipher) for the next attempt.
type Client struct {
	conn   *websocket.Conn
	log    logging.Logger
	events chan Event

	closeOnce sync.Once
}

// dialer is a seam for tests.
var dialer = websocket.DefaultDialer

// Dial opens the provisioning websocket against the relay and starts the
// read loop. The returned client delivers events via Events.
func Dial(ctx context.Context, wsURL string, log logging.Logger) (*Client, error) {
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing provisioning channel: %w", err)
	}

	c := &Client{
		conn:   conn,
		log:    log.With("module", "provisioning_channel"),
		events: make(chan Event, 4),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the ordered event stream. The channel is closed after a
// terminal event.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close tears the session down. Safe to call multiple times and
// concurrently with the read loop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
		err = c.conn.Close()
	})
	return err
}

func deadline() time.Time {
	return time.Now().Add(5 * time.Second)
}

func (c *Client) readLoop() {
	defer close(c.events)
	ctx := context.Background()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.events <- Event{Kind: EventClosed}
			} else {
				c.events <- Event{Kind: EventClosed, Err: err}
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn(ctx, "dropping unparseable frame", "error", err)
			continue
		}

		switch f.Type {
		case frameTypeUUID:
			c.events <- Event{Kind: EventIdentifierAssigned, ChannelID: f.UUID}
		case frameTypeEnvelope:
			env, err := provwire.UnmarshalEnvelope(f.Envelope)
			if err != nil {
				c.events <- Event{Kind: EventClosed, Err: err}
				return
			}
			c.events <- Event{Kind: EventEnvelopeReceived, Envelope: env}
		default:
			c.log.Warn(ctx, "dropping frame of unknown type", "type", f.Type)
		}
	}
}
