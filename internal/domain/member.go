package domain

import "time"

// Member represents one connection's participation meta inside a room.
// It holds only the connection identity, never a pointer back to the room;
// "which room is this connection in" is answered by the registry index.
type Member struct {
	Conn     ConnID
	IP       string
	Name     string
	JoinedAt time.Time
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(conn ConnID, ip, name string, joinedAt time.Time) Member {
	return Member{Conn: conn, IP: ip, Name: name, JoinedAt: joinedAt}
}
