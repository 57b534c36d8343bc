package signal

import (
	"encoding/json"

	"github.com/mkravets/Beam/internal/domain"
)

// Wire message kinds inside an authenticated session.
const (
	KindJoin  = "join"
	KindRelay = "relay"
	KindChat  = "chat"
	KindLeave = "leave"
	KindPing  = "ping"
)

type joinPayload struct {
	Type     string `json:"type"`
	Room     string `json:"roomId"`
	Password string `json:"password"`
	Name     string `json:"displayName,omitempty"`
}

type relayPayload struct {
	Type   string          `json:"type"`
	Room   string          `json:"roomId"`
	Data   json.RawMessage `json:"data"`
	Target string          `json:"target,omitempty"`
}

type chatPayload struct {
	Type    string `json:"type"`
	Room    string `json:"roomId"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

type joinAck struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Room  string `json:"roomId,omitempty"`
	Error string `json:"error,omitempty"`
}

type chatAck struct {
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Private bool   `json:"private,omitempty"`
	Error   string `json:"error,omitempty"`
}

type relayNote struct {
	Type string          `json:"type"`
	From domain.ConnID   `json:"from"`
	Data json.RawMessage `json:"data"`
}

type chatNote struct {
	Type    string        `json:"type"`
	From    domain.ConnID `json:"from"`
	Name    string        `json:"name"`
	Message string        `json:"message"`
	Time    int64         `json:"time"`
}

func peerJoinedNote(peer domain.ConnID) any {
	return struct {
		Type string        `json:"type"`
		Peer domain.ConnID `json:"peerId"`
	}{"peer-joined", peer}
}

func peerLeftNote(peer domain.ConnID) any {
	return struct {
		Type string        `json:"type"`
		Peer domain.ConnID `json:"peerId"`
	}{"peer-left", peer}
}

func serverErrorNote(msg string) any {
	return struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{"server-error", msg}
}
