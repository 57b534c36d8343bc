package signaling

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Session owns the signaling connection for one participation and can
// rebuild it after loss. Callers read events from the current Handler;
// after a redial the Handler is replaced, so events must always be taken
// from Handler() rather than a stored reference.
type Session struct {
	endpoint string

	mu      sync.Mutex
	client  *Client
	handler *Handler
}

func NewSession(endpoint string) *Session {
	return &Session{endpoint: endpoint}
}

// Connect dials the endpoint and starts dispatching. On a redial the
// previous connection is released after the replacement is installed.
func (s *Session) Connect() error {
	client := NewClient(s.endpoint)
	if err := client.Connect(); err != nil {
		return err
	}
	handler := NewHandler(client)
	go handler.Start()

	s.mu.Lock()
	old := s.client
	s.client, s.handler = client, handler
	s.mu.Unlock()

	if old != nil {
		old.Close()
		log.Info().Str("module", "signaling").Msg("session redialed")
	}
	return nil
}

// Handler returns the dispatcher for the current connection.
func (s *Session) Handler() *Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// SendRelay forwards an opaque negotiation payload over the current
// connection. Session satisfies the sender seam of the peer manager, so
// negotiation keeps working across a redial.
func (s *Session) SendRelay(roomID string, data json.RawMessage, target string) {
	s.Handler().SendRelay(roomID, data, target)
}

// Rejoin re-enters the room after a suspected loss. With the channel
// still up it releases the old membership first, so the join is accepted
// and peers renegotiate from scratch; with the channel gone it redials
// before joining. The ack wait is bounded by ctx either way.
func (s *Session) Rejoin(ctx context.Context, roomID, password, displayName string) error {
	h := s.Handler()
	select {
	case <-h.Done():
		if err := s.Connect(); err != nil {
			return err
		}
		h = s.Handler()
	default:
		h.Leave()
	}
	return h.Join(ctx, roomID, password, displayName)
}

// Close releases the current connection.
func (s *Session) Close() {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		client.Close()
	}
}
