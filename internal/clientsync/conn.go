package clientsync

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codesync/internal/protocol"
)

// Conn binds a Synchronizer to a live websocket. It owns the single
// reader goroutine and serializes writes; the UI consumes Notices and
// calls the Edit/Chat/Language methods.
type Conn struct {
	Sync *Synchronizer

	ws       *websocket.Conn
	writeMu  sync.Mutex
	leaving  bool
	notices  chan Notice
	readDone chan struct{}
	once     sync.Once
}

// Dial connects to a gateway's editor endpoint. baseURL is the http(s)
// server address; credential, session id, and identity travel as query
// parameters, same as the browser client.
func Dial(ctx context.Context, baseURL, token, sessionID, identity string) (*Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http")
	u := fmt.Sprintf("%s/ws/editor?token=%s&sessionId=%s&username=%s",
		wsURL, url.QueryEscape(token), url.QueryEscape(sessionID), url.QueryEscape(identity))

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial editor session: %w", err)
	}

	c := &Conn{
		Sync:     New(sessionID, identity),
		ws:       ws,
		notices:  make(chan Notice, 64),
		readDone: make(chan struct{}),
	}
	c.Sync.HandleOpen()
	go c.readLoop()
	return c, nil
}

// Notices delivers UI events in arrival order. The channel closes after
// the terminal disconnect notice.
func (c *Conn) Notices() <-chan Notice { return c.notices }

// readLoop is the only goroutine that sends on or closes notices, so a
// concurrent Leave can never race a delivery against the channel close.
func (c *Conn) readLoop() {
	defer close(c.readDone)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			c.writeMu.Lock()
			leaving := c.leaving
			c.writeMu.Unlock()
			if leaving {
				code = websocket.CloseNormalClosure
			}
			c.close(code)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// Unknown or malformed frames are dropped, never fatal.
			continue
		}
		for _, n := range c.Sync.Apply(msg) {
			c.notices <- n
		}
	}
}

func (c *Conn) close(code int) {
	c.once.Do(func() {
		c.notices <- c.Sync.HandleClose(code)
		close(c.notices)
		_ = c.ws.Close()
	})
}

func (c *Conn) write(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// EditorChanged reports a local editor content event. Suppressed events
// (the editor reacting to an applied remote update) send nothing.
func (c *Conn) EditorChanged(content string) error {
	msg, ok := c.Sync.LocalEdit(content)
	if !ok {
		return nil
	}
	return c.write(msg)
}

// ChangeLanguage switches the session language.
func (c *Conn) ChangeLanguage(language string) error {
	msg, ok := c.Sync.ChangeLanguage(language)
	if !ok {
		return nil
	}
	return c.write(msg)
}

// SendChat sends a chat line; it is rendered locally right away and
// the hub echo is deduplicated.
func (c *Conn) SendChat(text string) error {
	msg, ok := c.Sync.ComposeChat(text)
	if !ok {
		return nil
	}
	return c.write(msg)
}

// Leave disconnects gracefully: it sends a close frame and waits for
// the reader to drain the peer's acknowledgement, forcing the socket
// shut if that takes too long. The reader delivers the disconnect
// notice, reported as user-initiated, and closes Notices.
func (c *Conn) Leave() error {
	c.writeMu.Lock()
	c.leaving = true
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "user left the session"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	if err != nil {
		_ = c.ws.Close()
		return err
	}
	select {
	case <-c.readDone:
	case <-time.After(time.Second):
		_ = c.ws.Close()
	}
	return nil
}
