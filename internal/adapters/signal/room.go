package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/domain"
)

const closeGrace = 250 * time.Millisecond

func (ctl *Controller) handleJoin(
	sid domain.ConnID,
	ip string,
	conn *wsSignalConn,
	data []byte,
) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(conn, joinAck{Type: "join-ack", OK: false, Error: domain.ExternalMessage(domain.ErrValidation)})
		return
	}
	roomID := domain.RoomID(p.Room)

	// A connection holds one membership at a time; joining releases the
	// previous one first. This also makes a rejoin to the same room a
	// refresh: peers see peer-left then peer-joined and renegotiate,
	// which is how a client recovers a degraded media link without
	// dropping its channel.
	if prev, ok := ctl.Reg.RoomOf(sid); ok {
		ctl.Reg.Leave(prev, sid)
		ctl.broadcast(prev, sid, peerLeftNote(sid))
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("released previous membership on join")
	}

	_, err := ctl.Reg.Join(roomID, p.Password, ip, sid, p.Name)
	if err != nil {
		msg := domain.ExternalMessage(err)
		ctl.sendJSON(conn, joinAck{Type: "join-ack", OK: false, Error: msg})
		ctl.sendJSON(conn, serverErrorNote(msg))
		// A failed password check is terminal for this session; drop the
		// connection so the client cannot keep guessing on it. The short
		// delay lets the write pump flush the rejection first.
		if errors.Is(err, domain.ErrInvalidCredentials) || errors.Is(err, domain.ErrCapacity) {
			go func() {
				time.Sleep(closeGrace)
				conn.Close()
			}()
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.Room).Str("reason", msg).Msg("join rejected")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.Room).Msg("join")
	ctl.sendJSON(conn, joinAck{Type: "join-ack", OK: true, Room: p.Room})
	ctl.broadcast(roomID, sid, peerJoinedNote(sid))
}

// handleLeave removes the member from its room without dropping the
// connection.
func (ctl *Controller) handleLeave(
	sid domain.ConnID,
	conn *wsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	roomID, ok := ctl.Reg.RoomOf(sid)
	if ok {
		ctl.Reg.Leave(roomID, sid)
		ctl.broadcast(roomID, sid, peerLeftNote(sid))
	}
	ctl.sendJSON(conn, map[string]any{"type": "left"})
}
