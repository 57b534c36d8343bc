package peer

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// State of one link's negotiation.
type State int

const (
	StateIdle State = iota
	StateAwaitingRemoteDescription
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRemoteDescription:
		return "awaiting-remote-description"
	case StateStable:
		return "stable"
	default:
		return "closed"
	}
}

// link is the bookkeeping record for one remote peer: negotiation state
// plus a FIFO of candidates that arrived before the remote description.
type link struct {
	peerID string
	ml     MediaLink

	mu        sync.Mutex
	st        State
	remoteSet bool
	pending   []json.RawMessage
}

func newLink(peerID string, ml MediaLink) *link {
	return &link{peerID: peerID, ml: ml, st: StateIdle}
}

func (l *link) state() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st
}

func (l *link) createOffer() (Description, error) {
	offer, err := l.ml.CreateOffer()
	if err != nil {
		return Description{}, err
	}
	l.mu.Lock()
	l.st = StateAwaitingRemoteDescription
	l.mu.Unlock()
	return offer, nil
}

// acceptOffer applies the remote offer, flushes queued candidates and
// returns the locally applied answer.
func (l *link) acceptOffer(offer Description) (Description, error) {
	answer, err := l.ml.AcceptOffer(offer)
	if err != nil {
		return Description{}, err
	}
	l.remoteReady(StateStable)
	return answer, nil
}

// acceptAnswer applies the remote answer and flushes queued candidates.
func (l *link) acceptAnswer(answer Description) error {
	if err := l.ml.AcceptAnswer(answer); err != nil {
		return err
	}
	l.remoteReady(StateStable)
	return nil
}

// remoteReady marks the remote description set and drains the candidate
// queue in original arrival order, each exactly once. Individual failures
// are logged and skipped; a later renegotiation may supersede them.
func (l *link) remoteReady(next State) {
	l.mu.Lock()
	l.remoteSet = true
	l.st = next
	queued := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, cand := range queued {
		if err := l.ml.AddCandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("peer", l.peerID).Msg("queued candidate skipped")
		}
	}
}

// enqueueOrApply buffers the candidate until the remote description is
// set, then applies directly.
func (l *link) enqueueOrApply(cand json.RawMessage) {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, cand)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.ml.AddCandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("peer", l.peerID).Msg("candidate skipped")
	}
}

func (l *link) close() {
	l.mu.Lock()
	if l.st == StateClosed {
		l.mu.Unlock()
		return
	}
	l.st = StateClosed
	l.pending = nil
	l.mu.Unlock()

	if err := l.ml.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("peer", l.peerID).Msg("close link")
	}
}
