// Package registry owns the set of active rooms, their membership and
// their lifecycle timers. Rooms are admitted through a password gate and
// destroyed only after a grace period of emptiness, so a brief reconnect
// gap does not tear a session down.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/auth"
	"github.com/mkravets/Beam/internal/domain"
	"github.com/mkravets/Beam/internal/sanitize"
)

type Config struct {
	// IPCap limits concurrent memberships per source IP inside one room.
	IPCap int
	// GracePeriod is how long an empty room survives before destruction.
	GracePeriod time.Duration
	// SweepEvery is the interval of the background destruction sweep.
	SweepEvery time.Duration
}

func DefaultConfig() Config {
	return Config{
		IPCap:       5,
		GracePeriod: 2 * time.Minute,
		SweepEvery:  5 * time.Minute,
	}
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
	// index resolves a connection to its room without scanning; it is
	// maintained on join/leave under the registry mutex.
	index map[domain.ConnID]domain.RoomID
	gate  *auth.Gate
	cfg   Config
	now   func() time.Time
}

func New(gate *auth.Gate, cfg Config) *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*room),
		index: make(map[domain.ConnID]domain.RoomID),
		gate:  gate,
		cfg:   cfg,
		now:   time.Now,
	}
}

// NewAt builds a registry with an injected time source so grace-period
// and sweep behavior is testable without sleeping.
func NewAt(gate *auth.Gate, cfg Config, now func() time.Time) *Registry {
	r := New(gate, cfg)
	r.now = now
	return r
}

// Create installs a new room under id with the given password. An
// existing identity is evicted and replaced only when the old room is
// fully empty and its destruction deadline has been reached; a live or
// grace-period room keeps its claim on the identity.
func (g *Registry) Create(id domain.RoomID, password string) error {
	if id == "" || len(id) > domain.MaxRoomIDLen {
		return domain.ErrValidation
	}
	if password == "" {
		return domain.ErrValidation
	}

	// Hashing is slow; keep it outside any lock.
	hash, err := g.gate.Hash(password)
	if err != nil {
		log.Error().Err(err).Str("module", "registry").Str("room", string(id)).Msg("hash failed")
		return domain.ErrInternal
	}

	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.rooms[id]; ok {
		old.mu.Lock()
		if !old.expired(now) {
			old.mu.Unlock()
			return domain.ErrRoomExists
		}
		old.gone = true
		old.mu.Unlock()
		log.Info().Str("module", "registry").Str("room", string(id)).Msg("stale room evicted on recreate")
	}

	// A never-joined room holds its identity only for the grace period.
	g.rooms[id] = newRoom(id, hash, now, now.Add(g.cfg.GracePeriod))
	log.Info().Str("module", "registry").Str("room", string(id)).Msg("room created")
	return nil
}

// Join admits conn into room id after password verification. An absent
// room and a wrong password return the same error so callers cannot probe
// which rooms exist. Verification runs under the room's own lock: it
// serializes with concurrent operations on the same room but never blocks
// other rooms.
func (g *Registry) Join(id domain.RoomID, password, ip string, conn domain.ConnID, displayName string) (domain.Member, error) {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return domain.Member{}, domain.ErrInvalidCredentials
	}

	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return domain.Member{}, domain.ErrInvalidCredentials
	}
	if _, dup := r.members[conn]; dup {
		r.mu.Unlock()
		return domain.Member{}, domain.ErrAlreadyJoined
	}
	if !g.gate.Verify(password, r.hash) {
		r.mu.Unlock()
		return domain.Member{}, domain.ErrInvalidCredentials
	}
	if r.ipCount(ip) >= g.cfg.IPCap {
		r.mu.Unlock()
		return domain.Member{}, domain.ErrCapacity
	}

	name := sanitize.DisplayName(displayName)
	if name == "" {
		name = fallbackName(conn)
	}

	m := domain.NewMember(conn, ip, name, g.now())
	r.members[conn] = m
	r.destroyAt = time.Time{}
	r.mu.Unlock()

	// Index update takes the registry lock on its own; the ordering rule
	// is registry mutex before room mutex, never while holding one.
	g.mu.Lock()
	g.index[conn] = id
	g.mu.Unlock()

	log.Info().Str("module", "registry").Str("room", string(id)).Str("conn", string(conn)).Msg("member joined")
	return m, nil
}

// Leave removes conn's membership. When the room becomes empty its
// destruction deadline is armed rather than destroying immediately.
func (g *Registry) Leave(id domain.RoomID, conn domain.ConnID) {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	if _, ok := r.members[conn]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, conn)
	empty := len(r.members) == 0
	if empty {
		r.destroyAt = g.now().Add(g.cfg.GracePeriod)
	}
	r.mu.Unlock()

	g.mu.Lock()
	if g.index[conn] == id {
		delete(g.index, conn)
	}
	g.mu.Unlock()

	log.Info().Str("module", "registry").Str("room", string(id)).Str("conn", string(conn)).Msg("member left")
	if empty {
		log.Info().Str("module", "registry").Str("room", string(id)).Msg("room empty, grace armed")
	}
}

// RoomOf resolves which room conn is currently a member of via the
// membership index; connections never hold a pointer back to their room.
func (g *Registry) RoomOf(conn domain.ConnID) (domain.RoomID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.index[conn]
	return id, ok
}

// IsMember reports whether conn currently belongs to room id.
func (g *Registry) IsMember(id domain.RoomID, conn domain.ConnID) bool {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok = r.members[conn]
	return ok
}

// Peers lists current members of room id excluding except.
func (g *Registry) Peers(id domain.RoomID, except domain.ConnID) []domain.ConnID {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ConnID, 0, len(r.members))
	for c := range r.members {
		if c == except {
			continue
		}
		out = append(out, c)
	}
	return out
}

// MemberName returns the sanitized display name registered for conn.
func (g *Registry) MemberName(id domain.RoomID, conn domain.ConnID) string {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return string(conn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[conn]; ok {
		return m.Name
	}
	return string(conn)
}

// MemberCount returns the current membership size of room id.
func (g *Registry) MemberCount(id domain.RoomID) int {
	g.mu.RLock()
	r, ok := g.rooms[id]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Sweep destroys rooms that are empty and past their deadline. It is a
// safety net independent of the per-leave deadline, covering leaks where
// no leave event ever fired. Emptiness and expiry are observed under the
// room lock at sweep time, so a concurrent join either lands before the
// observation or sees the room as gone.
func (g *Registry) Sweep() int {
	now := g.now()
	removed := 0

	g.mu.Lock()
	defer g.mu.Unlock()
	for id, r := range g.rooms {
		r.mu.Lock()
		if r.expired(now) {
			r.gone = true
			delete(g.rooms, id)
			removed++
			log.Info().Str("module", "registry").Str("room", string(id)).Msg("room swept")
		}
		r.mu.Unlock()
	}
	return removed
}

// Run loops Sweep on the configured interval until ctx is done.
func (g *Registry) Run(ctx context.Context) {
	t := time.NewTicker(g.cfg.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "registry").Msg("sweep loop stopped")
			return
		case <-t.C:
			g.Sweep()
		}
	}
}

// fallbackName derives a display name from the connection identity,
// capped by rune count so a multi-byte identity is never cut mid-rune.
func fallbackName(conn domain.ConnID) string {
	runes := []rune(string(conn))
	if len(runes) > sanitize.MaxNameLen {
		runes = runes[:sanitize.MaxNameLen]
	}
	return string(runes)
}
