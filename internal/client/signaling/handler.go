package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrAuthFailed marks a join rejected for credentials. It is terminal:
// automatic reconnection must never retry after it.
var ErrAuthFailed = errors.New("invalid room/password")

// ErrConnectionClosed reports the signaling channel went away while an
// operation was waiting on it.
var ErrConnectionClosed = errors.New("signaling connection closed")

// authFailedText is the exact server message for merged auth/not-found
// rejections; anything else is treated as transient.
const authFailedText = "Invalid room/password"

// RelayEvent is an opaque negotiation payload from a peer.
type RelayEvent struct {
	From string
	Data json.RawMessage
}

// ChatEvent is a relayed chat message.
type ChatEvent struct {
	From    string
	Name    string
	Message string
	Time    int64
}

// Handler routes incoming signaling messages to appropriate channels.
type Handler struct {
	client      *Client
	JoinAck     chan *Message
	ChatAck     chan *Message
	PeerJoined  chan string
	PeerLeft    chan string
	Relay       chan *RelayEvent
	Chat        chan *ChatEvent
	ServerError chan string
	done        chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:      client,
		JoinAck:     make(chan *Message, 1),
		ChatAck:     make(chan *Message, 1),
		PeerJoined:  make(chan string, 8),
		PeerLeft:    make(chan string, 8),
		Relay:       make(chan *RelayEvent, 32),
		Chat:        make(chan *ChatEvent, 32),
		ServerError: make(chan string, 4),
		done:        make(chan struct{}),
	}
}

// Done is closed when the underlying connection has gone away and no
// further messages will be dispatched.
func (h *Handler) Done() <-chan struct{} { return h.done }

// Start begins listening to incoming messages and routing them. It
// returns when the connection closes.
func (h *Handler) Start() {
	for msg := range h.client.Incoming() {
		switch msg.Type {

		case MessageTypeJoinAck:
			select {
			case h.JoinAck <- msg:
			default:
			}

		case MessageTypeChatAck:
			select {
			case h.ChatAck <- msg:
			default:
			}

		case MessageTypePeerJoined:
			h.PeerJoined <- msg.PeerID

		case MessageTypePeerLeft:
			h.PeerLeft <- msg.PeerID

		case MessageTypeRelay:
			h.Relay <- &RelayEvent{From: msg.From, Data: msg.Data}

		case MessageTypeChat:
			h.Chat <- &ChatEvent{From: msg.From, Name: msg.Name, Message: msg.Message, Time: msg.Time}

		case MessageTypeServerError:
			select {
			case h.ServerError <- msg.Message:
			default:
			}

		case MessageTypePong, MessageTypeLeft:

		default:
		}
	}
	// Unblock any waiter: a closed ack channel reads as a dead connection.
	close(h.JoinAck)
	close(h.ChatAck)
	close(h.done)
}

// Join requests admission to a room and waits for the explicit ack. It
// always resolves within ctx's deadline: success, a typed failure, or a
// closed-connection error.
func (h *Handler) Join(ctx context.Context, roomID, password, displayName string) error {
	// Drop a stale ack from a previous attempt.
	select {
	case <-h.JoinAck:
	default:
	}

	h.client.SendMessage(&Message{
		Type:     MessageTypeJoin,
		Room:     roomID,
		Password: password,
		Display:  displayName,
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ack, ok := <-h.JoinAck:
		if !ok {
			return ErrConnectionClosed
		}
		if ack.OK {
			return nil
		}
		if ack.Error == authFailedText {
			return ErrAuthFailed
		}
		return fmt.Errorf("join rejected: %s", ack.Error)
	}
}

// SendRelay forwards an opaque negotiation payload, optionally targeted
// at a single peer.
func (h *Handler) SendRelay(roomID string, data json.RawMessage, target string) {
	h.client.SendMessage(&Message{
		Type:   MessageTypeRelay,
		Room:   roomID,
		Data:   data,
		Target: target,
	})
}

// SendChat sends a chat message; delivery outcome arrives on ChatAck.
func (h *Handler) SendChat(roomID, text, target string) {
	h.client.SendMessage(&Message{
		Type:    MessageTypeChat,
		Room:    roomID,
		Message: text,
		Target:  target,
	})
}

// Leave exits the current room without dropping the connection.
func (h *Handler) Leave() {
	h.client.SendMessage(&Message{Type: MessageTypeLeave})
}
