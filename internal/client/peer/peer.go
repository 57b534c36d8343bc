// Package peer keeps one negotiation record per remote peer identity,
// multiplexing many simultaneous links on the client. The host role
// always initiates toward each newly joined peer; the viewer role only
// ever responds, which removes simultaneous-offer races outright.
package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type Role int

const (
	RoleViewer Role = iota
	RoleHost
)

// Description is a connection-negotiation description (offer or answer).
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// envelope is the wire shape of the opaque relay payload: either a
// description or a connectivity candidate.
type envelope struct {
	SDP       *Description    `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// MediaLink is the per-peer media connection the manager drives. The
// pion-backed implementation lives in this package; tests substitute
// fakes.
type MediaLink interface {
	// CreateOffer produces and locally applies an offer.
	CreateOffer() (Description, error)
	// AcceptOffer applies a remote offer and produces a locally applied
	// answer.
	AcceptOffer(Description) (Description, error)
	// AcceptAnswer applies a remote answer.
	AcceptAnswer(Description) error
	// AddCandidate applies one connectivity hint.
	AddCandidate(json.RawMessage) error
	// ReplaceTrack swaps the outgoing media track without renegotiation.
	ReplaceTrack(track any) error
	Close() error
}

// Hooks are callbacks a link raises back into the manager.
type Hooks struct {
	// OnCandidate fires for each locally gathered connectivity hint.
	OnCandidate func(candidate json.RawMessage)
	// OnDown fires when the link degrades to disconnected/failed/closed.
	OnDown func()
}

// Factory builds a MediaLink for one remote peer.
type Factory func(peerID string, hooks Hooks) (MediaLink, error)

// RelaySender forwards opaque payloads through the signaling channel.
type RelaySender interface {
	SendRelay(roomID string, data json.RawMessage, target string)
}

type Manager struct {
	mu      sync.Mutex
	role    Role
	roomID  string
	links   map[string]*link
	factory Factory
	sender  RelaySender
	// onDown is invoked once per degraded link; the reconnect supervisor
	// hangs off it on the viewer side.
	onDown func(peerID string)
}

func NewManager(role Role, roomID string, factory Factory, sender RelaySender) *Manager {
	return &Manager{
		role:    role,
		roomID:  roomID,
		links:   make(map[string]*link),
		factory: factory,
		sender:  sender,
	}
}

// OnLinkDown registers a callback for link degradation events.
func (m *Manager) OnLinkDown(fn func(peerID string)) {
	m.mu.Lock()
	m.onDown = fn
	m.mu.Unlock()
}

// HandlePeerJoined reacts to a new-peer notification. Only the host
// initiates; a duplicate notification fully releases the prior link
// before building the replacement.
func (m *Manager) HandlePeerJoined(peerID string) error {
	if m.role != RoleHost {
		return nil
	}

	m.mu.Lock()
	if old, ok := m.links[peerID]; ok {
		old.close()
		delete(m.links, peerID)
		log.Info().Str("module", "peer").Str("peer", peerID).Msg("replaced existing link")
	}
	l, err := m.newLinkLocked(peerID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	offer, err := l.createOffer()
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", peerID, err)
	}
	m.sendDescription(peerID, offer)
	return nil
}

// HandleRelay consumes one routed setup payload from a peer.
func (m *Manager) HandleRelay(from string, data json.RawMessage) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("bad relay payload from %s: %w", from, err)
	}

	m.mu.Lock()
	l, ok := m.links[from]
	if !ok {
		// The viewer's first contact is the host's offer; create the
		// link on demand.
		var err error
		l, err = m.newLinkLocked(from)
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	switch {
	case env.SDP != nil:
		return m.handleDescription(l, from, *env.SDP)
	case env.Candidate != nil:
		l.enqueueOrApply(env.Candidate)
		return nil
	default:
		log.Warn().Str("module", "peer").Str("peer", from).Msg("relay payload without sdp or candidate")
		return nil
	}
}

func (m *Manager) handleDescription(l *link, from string, desc Description) error {
	switch desc.Type {
	case "offer":
		answer, err := l.acceptOffer(desc)
		if err != nil {
			return fmt.Errorf("accept offer from %s: %w", from, err)
		}
		m.sendDescription(from, answer)
	case "answer":
		if err := l.acceptAnswer(desc); err != nil {
			return fmt.Errorf("accept answer from %s: %w", from, err)
		}
	default:
		return fmt.Errorf("unknown description type %q from %s", desc.Type, from)
	}
	return nil
}

// HandlePeerLeft closes and discards the peer's link immediately; queued
// candidates go with it.
func (m *Manager) HandlePeerLeft(peerID string) {
	m.mu.Lock()
	l, ok := m.links[peerID]
	if ok {
		delete(m.links, peerID)
	}
	m.mu.Unlock()
	if ok {
		l.close()
		log.Info().Str("module", "peer").Str("peer", peerID).Msg("link discarded on peer-left")
	}
}

// ReplaceTrack propagates a local media-track change to every existing
// link. Per-link failures are logged and skipped so one bad link does not
// stall the rest.
func (m *Manager) ReplaceTrack(track any) {
	for id, l := range m.snapshot() {
		if err := l.ml.ReplaceTrack(track); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("peer", id).Msg("replace track")
		}
	}
}

// Close releases every link.
func (m *Manager) Close() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*link)
	m.mu.Unlock()
	for _, l := range links {
		l.close()
	}
}

// LinkState reports the negotiation state for a peer, StateClosed if no
// link exists.
func (m *Manager) LinkState(peerID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[peerID]; ok {
		return l.state()
	}
	return StateClosed
}

func (m *Manager) newLinkLocked(peerID string) (*link, error) {
	hooks := Hooks{
		OnCandidate: func(cand json.RawMessage) {
			m.sendCandidate(peerID, cand)
		},
		OnDown: func() {
			m.mu.Lock()
			fn := m.onDown
			m.mu.Unlock()
			if fn != nil {
				fn(peerID)
			}
		},
	}
	ml, err := m.factory(peerID, hooks)
	if err != nil {
		return nil, fmt.Errorf("media link for %s: %w", peerID, err)
	}
	l := newLink(peerID, ml)
	m.links[peerID] = l
	return l, nil
}

func (m *Manager) sendDescription(peerID string, desc Description) {
	b, err := json.Marshal(envelope{SDP: &desc})
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("peer", peerID).Msg("marshal description")
		return
	}
	m.sender.SendRelay(m.roomID, b, peerID)
}

func (m *Manager) sendCandidate(peerID string, cand json.RawMessage) {
	b, err := json.Marshal(envelope{Candidate: cand})
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("peer", peerID).Msg("marshal candidate")
		return
	}
	m.sender.SendRelay(m.roomID, b, peerID)
}

func (m *Manager) snapshot() map[string]*link {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*link, len(m.links))
	for id, l := range m.links {
		out[id] = l
	}
	return out
}
