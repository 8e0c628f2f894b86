// Package provhub runs the relay side of the provisioning websocket: each
// connection gets a fresh channel id, holds the socket open for at most one
// envelope, and is force-closed after the channel TTL.
package provhub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/devlink/internal/logging"
)

// ErrChannelNotFound means no open channel matches the id: it never
// existed, already received its envelope, or timed out.
var ErrChannelNotFound = errors.New("provisioning channel not found")

const (
	frameTypeUUID     = "uuid"
	frameTypeEnvelope = "envelope"
)

type frame struct {
	Type     string `json:"type"`
	UUID     string `json:"uuid,omitempty"`
	Envelope []byte `json:"envelope,omitempty"`
}

type session struct {
	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

func (s *session) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) closeNormal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(5*time.Second))
	_ = s.conn.Close()
}

// Hub tracks open provisioning channels by id.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session

	ttl      time.Duration
	upgrader websocket.Upgrader
	log      logging.Logger
}

func NewHub(ttl time.Duration, log logging.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		ttl:      ttl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With("module", "provhub"),
	}
}

// HandleProvisioning upgrades the request, assigns a channel id and keeps
// the socket open until an envelope is delivered, the peer disconnects or
// the TTL elapses. It blocks for the lifetime of the channel.
func (h *Hub) HandleProvisioning(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	s := &session{conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	defer h.drop(id)

	if err := s.writeJSON(frame{Type: frameTypeUUID, UUID: id}); err != nil {
		h.log.Warn(ctx, "sending channel id failed", "error", err)
		s.closeNormal()
		return
	}
	h.log.Info(ctx, "provisioning channel opened", "channel_id", id)

	// the read pump only detects peer disconnects; clients never send
	go func() {
		defer close(s.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-s.done:
		h.log.Info(ctx, "provisioning channel closed by peer", "channel_id", id)
	case <-time.After(h.ttl):
		h.log.Info(ctx, "provisioning channel expired", "channel_id", id)
		s.closeNormal()
		<-s.done
	case <-ctx.Done():
		s.closeNormal()
		<-s.done
	}
}

// Deliver pushes one envelope into the channel and closes it. A channel
// accepts at most one envelope.
func (h *Hub) Deliver(channelID string, envelope []byte) error {
	h.mu.Lock()
	s, ok := h.sessions[channelID]
	if ok {
		delete(h.sessions, channelID)
	}
	h.mu.Unlock()

	if !ok {
		return ErrChannelNotFound
	}

	if err := s.writeJSON(frame{Type: frameTypeEnvelope, Envelope: envelope}); err != nil {
		s.closeNormal()
		return err
	}
	s.closeNormal()
	h.log.Info(context.Background(), "envelope delivered", "channel_id", channelID)
	return nil
}

// Open reports whether a channel with the given id is currently connected.
func (h *Hub) Open(channelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[channelID]
	return ok
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}
