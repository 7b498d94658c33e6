package fanout

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// subscribers are read-only dashboards; origin enforcement happens at the
	// reverse proxy in front of the API
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// WSConn adapts a gorilla websocket connection to the hub's Conn interface.
// Hub serializes Write/Alive calls on its single loop; closed guards the
// handle against the reader goroutine racing a detach.
type WSConn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// Upgrade performs the websocket handshake and wraps the connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WSConn{ws: ws}, nil
}

func (c *WSConn) Write(frame []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Alive probes the transport with a ping frame.
func (c *WSConn) Alive(deadline time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.PingMessage, nil) == nil
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// ReadLoop discards inbound frames until the peer goes away, then detaches
// from the hub. Subscribers never send payload; the read pump exists to
// notice closes promptly and to answer control frames.
func (c *WSConn) ReadLoop(h *Hub) {
	c.ws.SetReadLimit(512)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			h.Detach(c)
			return
		}
	}
}
