package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/client/peer"
	"github.com/mkravets/Beam/internal/client/reconnect"
	"github.com/mkravets/Beam/internal/client/signaling"
)

const joinTimeout = 10 * time.Second

// createRoom installs the room over the request/response channel before
// the host enters it.
func createRoom(server, roomID, password string) error {
	body, _ := json.Marshal(map[string]string{"password": password})
	resp, err := http.Post(
		fmt.Sprintf("%s/create/%s", server, url.PathEscape(roomID)),
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return fmt.Errorf("create room: status %d", resp.StatusCode)
	}
	return errors.New(e.Error)
}

// wsURL derives the session endpoint from the HTTP base URL.
func wsURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/ws/signal"
	return u.String(), nil
}

// runSession drives one participation: connect, join, then pump peer and
// chat events until interrupted. Events always come from the session's
// current handler, which changes when a lost connection is redialed.
func runSession(role peer.Role, factory peer.Factory) error {
	if flagRoom == "" || flagPassword == "" {
		return errors.New("room and password are required")
	}

	endpoint, err := wsURL(flagServer)
	if err != nil {
		return err
	}

	sess := signaling.NewSession(endpoint)
	if err := sess.Connect(); err != nil {
		return err
	}
	defer sess.Close()

	joinCtx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	err = sess.Handler().Join(joinCtx, flagRoom, flagPassword, flagName)
	cancel()
	if err != nil {
		return err
	}
	log.Info().Str("room", flagRoom).Msg("joined")

	mgr := peer.NewManager(role, flagRoom, factory, sess)
	defer mgr.Close()

	// Only the viewer recovers automatically; the host owns the room and
	// restarts deliberately.
	var sup *reconnect.Supervisor
	if role == peer.RoleViewer {
		sup = reconnect.NewSupervisor(func(ctx context.Context) error {
			return sess.Rejoin(ctx, flagRoom, flagPassword, flagName)
		}, reconnect.DefaultConfig())
		mgr.OnLinkDown(func(peerID string) {
			log.Warn().Str("peer", peerID).Msg("media link down")
			// Drop the stale link now; the host re-offers after the
			// rejoin and the fresh offer must land on a clean slate.
			mgr.HandlePeerLeft(peerID)
			sup.Trigger()
		})
	}

	lines := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		h := sess.Handler()
		select {
		case <-h.Done():
			if sup == nil {
				return errors.New("signaling connection lost")
			}
			// No link survives the connection; discard them all and wait
			// out the recovery rather than spinning on the closed channel.
			mgr.Close()
			sup.Trigger()
			if err := outcomeErr(<-sup.Outcomes()); err != nil {
				return err
			}
			log.Info().Msg("session recovered")

		case peerID := <-h.PeerJoined:
			log.Info().Str("peer", peerID).Msg("peer joined")
			if err := mgr.HandlePeerJoined(peerID); err != nil {
				log.Error().Err(err).Str("peer", peerID).Msg("initiate link")
			}

		case peerID := <-h.PeerLeft:
			log.Info().Str("peer", peerID).Msg("peer left")
			mgr.HandlePeerLeft(peerID)

		case ev := <-h.Relay:
			if err := mgr.HandleRelay(ev.From, ev.Data); err != nil {
				log.Error().Err(err).Str("peer", ev.From).Msg("relay")
			}

		case ev := <-h.Chat:
			fmt.Printf("[%s] %s\n", ev.Name, ev.Message)

		case msg := <-h.ServerError:
			log.Warn().Str("message", msg).Msg("server error")

		case out := <-outcomes(sup):
			if err := outcomeErr(out); err != nil {
				return err
			}
			log.Info().Msg("session recovered")

		case line, ok := <-lines:
			if !ok {
				sess.Handler().Leave()
				return nil
			}
			if line != "" {
				sess.Handler().SendChat(flagRoom, line, "")
			}
		}
	}
}

func outcomeErr(out reconnect.Outcome) error {
	switch out {
	case reconnect.OutcomeAuthFailed:
		return signaling.ErrAuthFailed
	case reconnect.OutcomeExhausted:
		return errors.New("reconnect attempts exhausted")
	}
	return nil
}

// outcomes tolerates a nil supervisor (host role) in the select.
func outcomes(s *reconnect.Supervisor) <-chan reconnect.Outcome {
	if s == nil {
		return nil
	}
	return s.Outcomes()
}
