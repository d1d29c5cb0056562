package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 16 * 1024
	sendBufferSize = 64
)

var errConnClosed = errors.New("connection closed")

// Conn wraps a websocket and serialises outbound writes through a buffered
// channel. It is safe for concurrent use.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewConn wraps ws and starts its write loop.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writeLoop()
	return c
}

// Write enqueues a frame. A client that falls a full buffer behind is
// disconnected.
func (c *Conn) Write(out Outbound) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return errConnClosed
	case c.send <- payload:
		return nil
	default:
		c.closeWith(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Read blocks for the next inbound frame.
func (c *Conn) Read() (Inbound, error) {
	var in Inbound
	err := c.ws.ReadJSON(&in)
	return in, err
}

// Notice pushes a system notice.
func (c *Conn) Notice(text string) error {
	return c.Write(Outbound{Type: FrameNotice, Message: text})
}

// Close terminates the connection.
func (c *Conn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}
