package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla websocket connection to the registry's Conn
// interface. Gorilla connections do not allow concurrent writers, so every
// write goes through one mutex shared with the handler's reply path.
type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// Ready implements Conn.
func (c *wsConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send implements Conn.
func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// markClosed flips the connection to non-ready. Further Sends are skipped by
// broadcast and error out if raced.
func (c *wsConn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
