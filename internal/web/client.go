package web

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/theman001/KakaoWebTalk/internal/gateway"
	"github.com/theman001/KakaoWebTalk/internal/util"
)

// browserClient is one connected browser. It owns the WebSocket, serializes
// outgoing events behind a mutex, and translates inbound commands into
// gateway operations. Its id is the browser identity the gateway's registry
// is keyed by.
type browserClient struct {
	id   string
	conn *websocket.Conn
	gw   *gateway.Gateway

	mu sync.Mutex // guards conn writes
}

func newBrowserClient(conn *websocket.Conn, gw *gateway.Gateway) *browserClient {
	return &browserClient{
		id:   uuid.NewString(),
		conn: conn,
		gw:   gw,
	}
}

// Emit writes one event to the browser, guarded by a mutex. Emit is called
// from both the command loop and the gateway's dispatch goroutine. A write
// failure is logged only; the read loop notices the dead socket and tears
// the session down.
func (c *browserClient) Emit(ev gateway.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(ev); err != nil {
		util.LogDebug("browser %s write failed: %v", c.id, err)
	}
}

// run is the command loop. Commands are handled in arrival order, one at a
// time per browser; unrelated browsers run their own loops. It returns when
// the WebSocket dies, after releasing the browser's gateway session.
func (c *browserClient) run(ctx context.Context) {
	defer c.gw.HandleDisconnect(c.id)
	defer c.conn.Close()

	util.LogDebug("browser connected: %s", c.id)

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			util.LogDebug("browser %s disconnected: %v", c.id, err)
			return
		}

		switch cmd.Type {
		case CmdRestore:
			c.gw.RestoreSession(ctx, c.id, cmd.SessionID, c)
		case CmdLogin:
			c.gw.Login(ctx, c.id, cmd.Email, cmd.Password, c)
		case CmdSend:
			c.gw.SendMessage(c.id, cmd.ChatID, cmd.Text, c)
		default:
			util.LogWarning("browser %s sent unknown command %q", c.id, cmd.Type)
		}
	}
}
