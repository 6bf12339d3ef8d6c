package sockets

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("closed connection")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn is a server side websocket streaming JSON messages to one client.
type Conn struct {
	ws           *websocket.Conn
	pingInterval time.Duration
	writeTimeout time.Duration
	onError      func(err error)

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// Accept upgrades the request. Incoming messages are discarded; the connection is
// closed once the client goes away.
func Accept(w http.ResponseWriter, r *http.Request, opts ...func(*Conn)) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ws:           ws,
		writeTimeout: 10 * time.Second,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	go c.readLoop()
	c.setupPing()
	return c, nil
}

// Send writes v as a JSON text message.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Done is closed when the connection is.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.close()
	return nil
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.closed = true
		_ = c.ws.Close()
		close(c.done)
	})
}

// fail must be called with mu held.
func (c *Conn) fail(err error) {
	c.close()
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Conn) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.mu.Lock()
			if !c.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.fail(err)
			} else {
				c.close()
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Conn) setupPing() {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
			}
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			if err != nil {
				c.fail(err)
			}
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
}
