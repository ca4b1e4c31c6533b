// Package websocket adapts gorilla/websocket connections to im.Transport.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"imhub/internal/im"
)

const ( // ping pong(2-way heartbeat) keeps intermediaries from dropping idle sockets
	WriteWait  = 10 * time.Second    // max time to write a message to the peer
	PongWait   = 60 * time.Second    // no pong within this window = dead peer
	PingPeriod = (PongWait * 9) / 10 // must be shorter than PongWait
)

// Conn is one WebSocket connection. Each text or binary message is one frame.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	stop      chan struct{}
}

var _ im.Transport = (*Conn)(nil)

// NewConn wraps ws and starts its ping loop. maxMessageSize <= 0 leaves the
// read limit unset.
func NewConn(ws *websocket.Conn, maxMessageSize int64) *Conn {
	c := &Conn{ws: ws, stop: make(chan struct{})}
	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(PongWait))
	})
	go c.pingLoop()
	return c
}

// Receive blocks until the next message. It is unblocked by Close.
func (c *Conn) Receive(_ context.Context) ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	// any inbound traffic proves the peer is alive
	c.ws.SetReadDeadline(time.Now().Add(PongWait))
	return data, nil
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait)); err != nil {
				return
			}
		}
	}
}
