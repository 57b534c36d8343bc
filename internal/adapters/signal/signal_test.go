package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkravets/Beam/internal/auth"
	"github.com/mkravets/Beam/internal/client/signaling"
	"github.com/mkravets/Beam/internal/config"
	"github.com/mkravets/Beam/internal/ratelimit"
	"github.com/mkravets/Beam/internal/registry"
)

// frame is a superset of every server-to-client message shape, so a
// single decode works for acks and notes alike.
type frame struct {
	Type    string          `json:"type"`
	OK      bool            `json:"ok"`
	Room    string          `json:"roomId"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	From    string          `json:"from"`
	Name    string          `json:"name"`
	Peer    string          `json:"peerId"`
	Private bool            `json:"private"`
	Data    json.RawMessage `json:"data"`
	Time    int64           `json:"time"`
}

type harness struct {
	srv *httptest.Server
	reg *registry.Registry
	ctl *Controller
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate := auth.NewGate(bcrypt.MinCost)
	reg := registry.New(gate, registry.Config{
		IPCap:       cfg.RoomIPCap,
		GracePeriod: cfg.GracePeriod,
		SweepEvery:  cfg.SweepEvery,
	})
	ctl := NewController(reg, ratelimit.NewLimiter(), cfg)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("sid"))
		ctl.HandleSignal(context.Background(), c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, reg: reg, ctl: ctl}
}

func testConfig() *config.Config {
	return &config.Config{
		ReadLimit:   32768,
		RoomIPCap:   5,
		GracePeriod: time.Minute,
		SweepEvery:  time.Hour,
		ChatWindow:  10 * time.Second,
		ChatMax:     10,
	}
}

func (h *harness) dial(t *testing.T, sid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?sid=" + sid
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// readUntil reads frames until one of the wanted type arrives, skipping
// anything else still queued from earlier steps.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))
	for {
		var f frame
		require.NoError(t, ws.ReadJSON(&f), "waiting for %q", typ)
		if f.Type == typ {
			return f
		}
	}
}

// expectSilence asserts no frame arrives within a short window. Drain
// the connection first so earlier traffic cannot trip it.
func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var f frame
	err := ws.ReadJSON(&f)
	require.Error(t, err, "unexpected frame %+v", f)
	assert.True(t, strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "deadline"))
}

func join(t *testing.T, ws *websocket.Conn, room, password, name string) frame {
	t.Helper()
	send(t, ws, map[string]string{"type": "join", "roomId": room, "password": password, "displayName": name})
	return readUntil(t, ws, "join-ack")
}

func TestJoinAcknowledgedAndPeersNotified(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	ack := join(t, alice, "demo", "pw", "Alice")
	assert.True(t, ack.OK)
	assert.Equal(t, "demo", ack.Room)

	bob := h.dial(t, "bob")
	ack = join(t, bob, "demo", "pw", "Bob")
	assert.True(t, ack.OK)

	note := readUntil(t, alice, "peer-joined")
	assert.Equal(t, "bob", note.Peer)
	// The joiner learns about peers through negotiation, not a replayed
	// notification.
	expectSilence(t, bob)
}

func TestJoinRejectedWrongPassword(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	require.True(t, join(t, alice, "demo", "pw", "").OK)

	mallory := h.dial(t, "mallory")
	ack := join(t, mallory, "demo", "nope", "")
	assert.False(t, ack.OK)
	assert.Equal(t, "Invalid room/password", ack.Error)
	assert.Equal(t, "Invalid room/password", readUntil(t, mallory, "server-error").Message)

	// Rejection drops the connection shortly after the ack flushes.
	require.NoError(t, mallory.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	assert.Error(t, mallory.ReadJSON(&f))

	// The room never saw the failed attempt.
	expectSilence(t, alice)
	assert.Equal(t, 1, h.reg.MemberCount("demo"))
}

func TestJoinAbsentRoomSameRejection(t *testing.T) {
	h := newHarness(t, testConfig())

	ws := h.dial(t, "alice")
	ack := join(t, ws, "no-such-room", "pw", "")
	assert.False(t, ack.OK)
	assert.Equal(t, "Invalid room/password", ack.Error)
}

func TestRelayTargetedDelivery(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	carol := h.dial(t, "carol")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	require.True(t, join(t, carol, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")
	readUntil(t, alice, "peer-joined")
	readUntil(t, bob, "peer-joined")

	send(t, alice, map[string]any{
		"type": "relay", "roomId": "demo",
		"data": map[string]string{"sdp": "offer"}, "target": "bob",
	})

	note := readUntil(t, bob, "relay")
	assert.Equal(t, "alice", note.From)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(note.Data))
	expectSilence(t, carol)
	expectSilence(t, alice)
}

func TestRelayBroadcastExcludesSender(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	carol := h.dial(t, "carol")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	require.True(t, join(t, carol, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")
	readUntil(t, alice, "peer-joined")
	readUntil(t, bob, "peer-joined")

	send(t, alice, map[string]any{
		"type": "relay", "roomId": "demo", "data": map[string]string{"k": "v"},
	})

	assert.Equal(t, "alice", readUntil(t, bob, "relay").From)
	assert.Equal(t, "alice", readUntil(t, carol, "relay").From)
	expectSilence(t, alice)
}

func TestRelayRequiresMembership(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	ws := h.dial(t, "outsider")
	send(t, ws, map[string]any{
		"type": "relay", "roomId": "demo", "data": map[string]string{"k": "v"},
	})
	assert.Equal(t, "Not in room", readUntil(t, ws, "server-error").Message)
}

func TestChatBroadcastSanitizedWithSenderEcho(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	require.True(t, join(t, alice, "demo", "pw", "Alice").OK)
	require.True(t, join(t, bob, "demo", "pw", "Bob").OK)
	readUntil(t, alice, "peer-joined")

	send(t, alice, map[string]string{"type": "chat", "roomId": "demo", "message": "hi <b>there</b>"})

	got := readUntil(t, bob, "chat")
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "hi &lt;b&gt;there&lt;&#x2F;b&gt;", got.Message)
	assert.NotZero(t, got.Time)

	// Sender sees the same canonical text it was relayed as.
	echo := readUntil(t, alice, "chat")
	assert.Equal(t, got.Message, echo.Message)

	ack := readUntil(t, alice, "chat-ack")
	assert.True(t, ack.OK)
	assert.False(t, ack.Private)
}

func TestChatPrivateDelivery(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	carol := h.dial(t, "carol")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	require.True(t, join(t, carol, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")
	readUntil(t, alice, "peer-joined")
	readUntil(t, bob, "peer-joined")

	send(t, alice, map[string]string{"type": "chat", "roomId": "demo", "message": "psst", "target": "bob"})

	assert.Equal(t, "psst", readUntil(t, bob, "chat").Message)
	ack := readUntil(t, alice, "chat-ack")
	assert.True(t, ack.OK)
	assert.True(t, ack.Private)
	expectSilence(t, carol)
}

func TestChatRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.ChatMax = 2
	h := newHarness(t, cfg)
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	require.True(t, join(t, alice, "demo", "pw", "").OK)

	for i := 0; i < 2; i++ {
		send(t, alice, map[string]string{"type": "chat", "roomId": "demo", "message": "m"})
		require.True(t, readUntil(t, alice, "chat-ack").OK)
	}

	send(t, alice, map[string]string{"type": "chat", "roomId": "demo", "message": "m"})
	ack := readUntil(t, alice, "chat-ack")
	assert.False(t, ack.OK)
	assert.Equal(t, "Too many messages, slow down", ack.Error)
	assert.Equal(t, "Too many messages, slow down", readUntil(t, alice, "server-error").Message)
}

func TestChatEmptyAfterSanitizeRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	require.True(t, join(t, alice, "demo", "pw", "").OK)

	send(t, alice, map[string]string{"type": "chat", "roomId": "demo", "message": "   \x07  "})
	ack := readUntil(t, alice, "chat-ack")
	assert.False(t, ack.OK)
	assert.Equal(t, "Empty or invalid message", ack.Error)
}

func TestChatRequiresMembership(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	ws := h.dial(t, "outsider")
	send(t, ws, map[string]string{"type": "chat", "roomId": "demo", "message": "hi"})
	ack := readUntil(t, ws, "chat-ack")
	assert.False(t, ack.OK)
	assert.Equal(t, "Not in room", ack.Error)
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")

	bob.Close()

	note := readUntil(t, alice, "peer-left")
	assert.Equal(t, "bob", note.Peer)
	require.Eventually(t, func() bool {
		return h.reg.MemberCount("demo") == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLeaveKeepsConnectionOpen(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")

	send(t, bob, map[string]string{"type": "leave"})
	readUntil(t, bob, "left")
	assert.Equal(t, "bob", readUntil(t, alice, "peer-left").Peer)

	// Same connection can come back.
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	assert.Equal(t, "bob", readUntil(t, alice, "peer-joined").Peer)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t, testConfig())
	ws := h.dial(t, "alice")
	send(t, ws, map[string]string{"type": "ping"})
	readUntil(t, ws, "pong")
}

func TestUnknownTypeIgnored(t *testing.T) {
	h := newHarness(t, testConfig())
	ws := h.dial(t, "alice")
	send(t, ws, map[string]string{"type": "bogus"})
	expectSilence(t, ws)

	// Connection still serviceable afterwards.
	send(t, ws, map[string]string{"type": "ping"})
	readUntil(t, ws, "pong")
}

func TestRejoinSameConnectionRefreshes(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")

	// A second join from the same connection re-enters the room instead
	// of being rejected, so peers tear down and renegotiate.
	ack := join(t, bob, "demo", "pw", "")
	assert.True(t, ack.OK)

	assert.Equal(t, "bob", readUntil(t, alice, "peer-left").Peer)
	assert.Equal(t, "bob", readUntil(t, alice, "peer-joined").Peer)
	assert.Equal(t, 2, h.reg.MemberCount("demo"))
}

func TestSupersededTeardownKeepsMembership(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	require.True(t, join(t, alice, "demo", "pw", "").OK)

	// A predecessor connection under the same identity finishes tearing
	// down after the live one registered; the membership must survive.
	stale := &wsSignalConn{send: make(chan []byte, 1)}
	h.ctl.disconnect("alice", stale)

	assert.True(t, h.reg.IsMember("demo", "alice"))
	send(t, alice, map[string]string{"type": "chat", "roomId": "demo", "message": "still here"})
	assert.True(t, readUntil(t, alice, "chat-ack").OK)
}

func TestViewerReentryAfterDrop(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	host := h.dial(t, "host")
	require.True(t, join(t, host, "demo", "pw", "Host").OK)

	sess := signaling.NewSession("ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?sid=viewer")
	require.NoError(t, sess.Connect())
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.Handler().Join(ctx, "demo", "pw", "Viewer"))
	assert.Equal(t, "viewer", readUntil(t, host, "peer-joined").Peer)

	// Media-only degradation: the channel survives; re-entry releases
	// and retakes the membership so the host renegotiates.
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.Rejoin(ctx, "demo", "pw", "Viewer"))
	assert.Equal(t, "viewer", readUntil(t, host, "peer-left").Peer)
	assert.Equal(t, "viewer", readUntil(t, host, "peer-joined").Peer)
	assert.True(t, h.reg.IsMember("demo", "viewer"))

	// Full connection loss: the server drops the link; re-entry must
	// redial before joining.
	h.ctl.mu.Lock()
	conn := h.ctl.conns["viewer"]
	h.ctl.mu.Unlock()
	require.NotNil(t, conn)
	conn.Close()

	select {
	case <-sess.Handler().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client never noticed the drop")
	}

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.Rejoin(ctx, "demo", "pw", "Viewer"))
	assert.Equal(t, "viewer", readUntil(t, host, "peer-left").Peer)
	assert.Equal(t, "viewer", readUntil(t, host, "peer-joined").Peer)
	assert.True(t, h.reg.IsMember("demo", "viewer"))
}

func TestRelayUnknownTargetBroadcasts(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	carol := h.dial(t, "carol")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	require.True(t, join(t, carol, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")
	readUntil(t, alice, "peer-joined")
	readUntil(t, bob, "peer-joined")

	send(t, alice, map[string]any{
		"type": "relay", "roomId": "demo",
		"data": map[string]string{"k": "v"}, "target": "ghost",
	})

	assert.Equal(t, "alice", readUntil(t, bob, "relay").From)
	assert.Equal(t, "alice", readUntil(t, carol, "relay").From)
	expectSilence(t, alice)
}

func TestChatUnknownTargetBroadcasts(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.reg.Create("demo", "pw"))

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	require.True(t, join(t, alice, "demo", "pw", "").OK)
	require.True(t, join(t, bob, "demo", "pw", "").OK)
	readUntil(t, alice, "peer-joined")

	send(t, alice, map[string]string{"type": "chat", "roomId": "demo", "message": "hi", "target": "ghost"})

	assert.Equal(t, "hi", readUntil(t, bob, "chat").Message)
	assert.Equal(t, "hi", readUntil(t, alice, "chat").Message)
	ack := readUntil(t, alice, "chat-ack")
	assert.True(t, ack.OK)
	assert.False(t, ack.Private)
}
