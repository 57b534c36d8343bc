package signal

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/domain"
	"github.com/mkravets/Beam/internal/sanitize"
)

// handleChat relays a sanitized text message, policed by the
// per-connection rate window. Broadcasts include the sender so its UI
// reflects the canonical sanitized text.
func (ctl *Controller) handleChat(
	sid domain.ConnID,
	conn *wsSignalConn,
	data []byte,
) {
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		ctl.sendJSON(conn, chatAck{Type: "chat-ack", OK: false, Error: "Invalid request"})
		return
	}
	roomID := domain.RoomID(p.Room)

	if !ctl.Reg.IsMember(roomID, sid) {
		msg := domain.ExternalMessage(domain.ErrNotInRoom)
		ctl.sendJSON(conn, chatAck{Type: "chat-ack", OK: false, Error: msg})
		ctl.sendJSON(conn, serverErrorNote(msg))
		return
	}

	if !ctl.Limiter.Allow(chatKey(sid), ctl.Cfg.ChatWindow, ctl.Cfg.ChatMax) {
		msg := "Too many messages, slow down"
		ctl.sendJSON(conn, chatAck{Type: "chat-ack", OK: false, Error: msg})
		ctl.sendJSON(conn, serverErrorNote(msg))
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("chat rate limited")
		return
	}

	clean := sanitize.Message(p.Message)
	if clean == "" {
		ctl.sendJSON(conn, chatAck{Type: "chat-ack", OK: false, Error: "Empty or invalid message"})
		return
	}

	note := chatNote{
		Type:    "chat",
		From:    sid,
		Name:    ctl.Reg.MemberName(roomID, sid),
		Message: clean,
		Time:    time.Now().UnixMilli(),
	}

	target := domain.ConnID(p.Target)
	if p.Target != "" && ctl.Reg.IsMember(roomID, target) {
		ctl.deliver(target, note)
		ctl.sendJSON(conn, chatAck{Type: "chat-ack", OK: true, Private: true})
		return
	}

	// Broadcast to everyone in the room, sender included.
	ctl.broadcast(roomID, sid, note)
	ctl.deliver(sid, note)
	ctl.sendJSON(conn, chatAck{Type: "chat-ack", OK: true, Private: false})
}
