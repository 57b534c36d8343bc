package registry

import (
	"sync"
	"time"

	"github.com/mkravets/Beam/internal/domain"
)

// room is an independently lockable unit: membership and lifecycle state
// of one room mutate under its own mutex, so slow work on one room (a
// bcrypt verify, a sweep check) never stalls the others.
type room struct {
	mu        sync.Mutex
	id        domain.RoomID
	hash      string
	createdAt time.Time
	// destroyAt is armed while the room is empty and cleared on join.
	destroyAt time.Time
	members   map[domain.ConnID]domain.Member
	// gone marks a room evicted from the registry map while a caller
	// still holds a pointer to it; such callers must treat it as absent.
	gone bool
}

func newRoom(id domain.RoomID, hash string, now, destroyAt time.Time) *room {
	return &room{
		id:        id,
		hash:      hash,
		createdAt: now,
		destroyAt: destroyAt,
		members:   make(map[domain.ConnID]domain.Member),
	}
}

// ipCount counts current memberships held by ip. Caller holds r.mu.
func (r *room) ipCount(ip string) int {
	n := 0
	for _, m := range r.members {
		if m.IP == ip {
			n++
		}
	}
	return n
}

// expired reports whether the room may be destroyed. Caller holds r.mu.
func (r *room) expired(now time.Time) bool {
	return len(r.members) == 0 && !r.destroyAt.IsZero() && !now.Before(r.destroyAt)
}
