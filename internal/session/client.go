package session

import (
	"sync"

	"github.com/gorilla/websocket"

	"codesync/internal/protocol"
)

// sendQueueSize bounds the per-connection outbound queue. A peer that
// falls this far behind the broadcast stream gets disconnected instead
// of stalling the session.
const sendQueueSize = 256

// Client is one websocket connection bound to a single session and a
// single identity for its whole lifetime.
type Client struct {
	Identity string

	conn *websocket.Conn
	send chan protocol.Message
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	hook func(protocol.Message)
}

func NewClient(conn *websocket.Conn, identity string) *Client {
	return &Client{
		Identity: identity,
		conn:     conn,
		send:     make(chan protocol.Message, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// SetSendHook replaces the default WebSocket sender (used in tests).
func (c *Client) SetSendHook(fn func(protocol.Message)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send queues a frame for delivery without blocking the caller. An
// overflowing queue closes the connection; the reader loop then runs
// the normal detach path.
func (c *Client) Send(msg protocol.Message) {
	c.mu.Lock()
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook(msg)
		return
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.Close()
	}
}

// WritePump drains the outbound queue onto the socket. Run on its own
// goroutine; exits on Close or the first failed write.
func (c *Client) WritePump() {
	for {
		select {
		case msg := <-c.send:
			data, err := protocol.Encode(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close is safe to call from both the reader and writer side; only the
// first call tears the connection down.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
