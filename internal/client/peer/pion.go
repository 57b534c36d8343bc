package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DefaultICEURLs is used when config supplies none.
var DefaultICEURLs = []string{"stun:stun.l.google.com:19302"}

// NewPionFactory builds MediaLinks backed by pion PeerConnections. track
// may be nil for a receive-only participant (the viewer).
func NewPionFactory(iceURLs []string, track webrtc.TrackLocal) Factory {
	if len(iceURLs) == 0 {
		iceURLs = DefaultICEURLs
	}
	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceURLs}},
	}

	return func(peerID string, hooks Hooks) (MediaLink, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}

		if track != nil {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add local track: %w", err)
			}
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || hooks.OnCandidate == nil {
				return
			}
			b, err := json.Marshal(c.ToJSON())
			if err != nil {
				log.Error().Err(err).Str("module", "peer.rtc").Str("peer", peerID).Msg("marshal candidate")
				return
			}
			hooks.OnCandidate(b)
		})

		pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
			log.Info().Str("module", "peer.rtc").Str("peer", peerID).Str("ice_state", s.String()).Msg("ICE state")
			if s == webrtc.ICEConnectionStateDisconnected ||
				s == webrtc.ICEConnectionStateFailed ||
				s == webrtc.ICEConnectionStateClosed {
				if hooks.OnDown != nil {
					hooks.OnDown()
				}
			}
		})

		return &pionLink{pc: pc, peerID: peerID}, nil
	}
}

type pionLink struct {
	pc     *webrtc.PeerConnection
	peerID string
}

func (p *pionLink) CreateOffer() (Description, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return Description{}, err
	}
	return Description{Type: "offer", SDP: offer.SDP}, nil
}

func (p *pionLink) AcceptOffer(offer Description) (Description, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return Description{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return Description{}, err
	}
	return Description{Type: "answer", SDP: answer.SDP}, nil
}

func (p *pionLink) AcceptAnswer(answer Description) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
}

func (p *pionLink) AddCandidate(cand json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &ci); err != nil {
		return fmt.Errorf("bad candidate: %w", err)
	}
	return p.pc.AddICECandidate(ci)
}

// ReplaceTrack swaps the outgoing track in place on the matching sender,
// falling back to remove-and-re-add. Neither path touches description
// state.
func (p *pionLink) ReplaceTrack(track any) error {
	t, ok := track.(webrtc.TrackLocal)
	if !ok {
		return fmt.Errorf("unsupported track %T", track)
	}

	for _, sender := range p.pc.GetSenders() {
		cur := sender.Track()
		if cur == nil || cur.Kind() != t.Kind() {
			continue
		}
		if err := sender.ReplaceTrack(t); err == nil {
			return nil
		}
		if err := p.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("remove track: %w", err)
		}
		if _, err := p.pc.AddTrack(t); err != nil {
			return fmt.Errorf("re-add track: %w", err)
		}
		return nil
	}

	_, err := p.pc.AddTrack(t)
	return err
}

func (p *pionLink) Close() error {
	return p.pc.Close()
}
