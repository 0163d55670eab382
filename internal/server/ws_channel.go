package server

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/tevino/abool"
)

const (
	wsWriteWait = 10 * time.Second

	// wsReadLimit bounds a single WebSocket message. It is well above the
	// relay's read buffer, so a large message reaches the relay in pieces the
	// same way a large TLS write does.
	wsReadLimit = 64 << 10
)

// wsChannel presents a WebSocket connection as a secure channel. Each
// WebSocket message is delivered by one or more Reads; a message larger than
// the caller's buffer is returned across consecutive Reads. A message over
// wsReadLimit fails the Read and ends the connection.
//
// gorilla/websocket allows a single concurrent writer, so Write serializes
// callers itself.
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending []byte
	closed  *abool.AtomicBool
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	conn.SetReadLimit(wsReadLimit)
	return &wsChannel{
		conn:   conn,
		closed: abool.New(),
	}
}

func (c *wsChannel) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.pending = data
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *wsChannel) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return 0, err
	}

	messageType := websocket.BinaryMessage
	if utf8.Valid(p) {
		messageType = websocket.TextMessage
	}
	if err := c.conn.WriteMessage(messageType, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal-closure frame and closes the connection. Calls after
// the first are no-ops.
func (c *wsChannel) Close() error {
	if !c.closed.SetToIf(false, true) {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
