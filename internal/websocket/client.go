package websocket

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// How long the reader waits for the peer's close reply after we close.
	closeGracePeriod = time.Second
)

var ErrClientClosed = errors.New("websocket client closed")

// Client adapts a websocket connection to the relay's Sink. Written bytes are
// buffered and sent as one text frame per Flush.
type Client struct {
	Conn *websocket.Conn

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	done   chan struct{}
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{Conn: conn, done: make(chan struct{})}
}

func (c *Client) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClientClosed
	}
	return c.buf.Write(p)
}

func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.buf.Len() == 0 {
		return nil
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.Conn.WriteMessage(websocket.TextMessage, c.buf.Bytes())
	c.buf.Reset()
	return err
}

// Close sends a normal closure frame and bounds the reader to
// closeGracePeriod so it returns even if the peer never answers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	c.Conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// WriteJSON sends a single JSON frame; used for short-circuit replies.
func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// extendReadDeadline pushes the read deadline out by pongWait unless Close
// already shortened it.
func (c *Client) extendReadDeadline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// readPump reads until the peer goes away and then calls onGone. Incoming
// frames of any size are drained and ignored; the stream is one-way.
func (c *Client) readPump(onGone func()) {
	defer onGone()
	c.extendReadDeadline()
	c.Conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, r, err := c.Conn.NextReader()
		if err != nil {
			return
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			return
		}
	}
}

// pingPump keeps idle connections alive while the upstream is thinking.
func (c *Client) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
