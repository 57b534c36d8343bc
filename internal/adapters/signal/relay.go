package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/domain"
)

// handleRelay forwards an opaque negotiation payload. A valid target gets
// it alone; otherwise every other room member does. The payload is never
// interpreted.
func (ctl *Controller) handleRelay(
	sid domain.ConnID,
	conn *wsSignalConn,
	data []byte,
) {
	var p relayPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad relay payload")
		return
	}
	roomID := domain.RoomID(p.Room)

	if !ctl.Reg.IsMember(roomID, sid) {
		ctl.sendJSON(conn, serverErrorNote(domain.ExternalMessage(domain.ErrNotInRoom)))
		return
	}

	note := relayNote{Type: "relay", From: sid, Data: p.Data}
	target := domain.ConnID(p.Target)
	if p.Target != "" && ctl.Reg.IsMember(roomID, target) {
		ctl.deliver(target, note)
		return
	}
	ctl.broadcast(roomID, sid, note)
}
