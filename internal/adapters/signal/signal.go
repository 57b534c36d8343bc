// Package signal routes session messages (join, relay, chat) between
// room members over WebSocket. Relay payloads are opaque: the router
// checks sender membership and target validity, never the contents.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mkravets/Beam/internal/config"
	"github.com/mkravets/Beam/internal/domain"
	"github.com/mkravets/Beam/internal/ratelimit"
	"github.com/mkravets/Beam/internal/registry"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Reg     *registry.Registry
	Limiter *ratelimit.Limiter
	Cfg     *config.Config

	mu    sync.RWMutex
	conns map[domain.ConnID]*wsSignalConn
}

func NewController(reg *registry.Registry, limiter *ratelimit.Limiter, cfg *config.Config) *Controller {
	return &Controller{
		Reg:     reg,
		Limiter: limiter,
		Cfg:     cfg,
		conns:   make(map[domain.ConnID]*wsSignalConn),
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.ConnID(c.GetString("client_token"))
	ip := c.ClientIP()
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("ip", ip).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctl.mu.Lock()
	if old, ok := ctl.conns[sid]; ok {
		old.Close()
	}
	ctl.conns[sid] = conn
	ctl.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, sid, ip, conn)
		cancel()
		ctl.disconnect(sid, conn)
	}()
}

// disconnect removes the member from its room, notifies the remaining
// members and drops per-connection limiter state. A superseded
// connection's teardown touches none of that: the replacement registered
// under the same identity owns the membership and limiter state now.
func (ctl *Controller) disconnect(sid domain.ConnID, conn *wsSignalConn) {
	ctl.mu.Lock()
	current := ctl.conns[sid] == conn
	if current {
		delete(ctl.conns, sid)
	}
	ctl.mu.Unlock()
	if !current {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("superseded connection torn down")
		return
	}

	ctl.Limiter.Forget(chatKey(sid))

	roomID, ok := ctl.Reg.RoomOf(sid)
	if !ok {
		return
	}
	ctl.Reg.Leave(roomID, sid)
	ctl.broadcast(roomID, sid, peerLeftNote(sid))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("disconnected from room")
}

// deliver sends v to a single member, if it still has a live connection.
func (ctl *Controller) deliver(to domain.ConnID, v any) {
	ctl.mu.RLock()
	conn, ok := ctl.conns[to]
	ctl.mu.RUnlock()
	if !ok {
		return
	}
	ctl.sendJSON(conn, v)
}

// broadcast sends v to every member of roomID except from.
func (ctl *Controller) broadcast(roomID domain.RoomID, from domain.ConnID, v any) {
	for _, peer := range ctl.Reg.Peers(roomID, from) {
		ctl.deliver(peer, v)
	}
}

func chatKey(sid domain.ConnID) string { return "chat:" + string(sid) }
