package signaling

import "encoding/json"

// Message covers all frames exchanged with the signaling server. Fields
// are a union across kinds; Type discriminates. "message" carries chat
// text in both directions and the text of a server-error note.
type Message struct {
	Type     string          `json:"type"`
	Room     string          `json:"roomId,omitempty"`
	Password string          `json:"password,omitempty"`
	Display  string          `json:"displayName,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Target   string          `json:"target,omitempty"`
	Message  string          `json:"message,omitempty"`

	From    string `json:"from,omitempty"`
	Name    string `json:"name,omitempty"`
	PeerID  string `json:"peerId,omitempty"`
	OK      bool   `json:"ok,omitempty"`
	Private bool   `json:"private,omitempty"`
	Error   string `json:"error,omitempty"`
	Time    int64  `json:"time,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoin  = "join"
	MessageTypeRelay = "relay"
	MessageTypeChat  = "chat"
	MessageTypeLeave = "leave"
	MessageTypePing  = "ping"

	MessageTypeJoinAck     = "join-ack"
	MessageTypeChatAck     = "chat-ack"
	MessageTypePeerJoined  = "peer-joined"
	MessageTypePeerLeft    = "peer-left"
	MessageTypeServerError = "server-error"
	MessageTypePong        = "pong"
	MessageTypeLeft        = "left"
)
