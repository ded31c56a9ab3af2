package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classhub-backend/internal/call"
)

const (
	clientWriteTimeout = 5 * time.Second
	clientPingInterval = 30 * time.Second
	clientPongWait     = 60 * time.Second
)

// Client is the agent-side websocket connection to the relay endpoint.
// It satisfies call.Signaler.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  []chan call.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay websocket endpoint and starts reading.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Send writes one envelope to the relay.
func (c *Client) Send(env call.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.conn.WriteJSON(env)
}

// Subscribe returns a channel of inbound envelopes. cancel unregisters it.
func (c *Client) Subscribe() (<-chan call.Envelope, func()) {
	ch := make(chan call.Envelope, 64)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s == ch {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

// Done closes when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close shuts the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Relay] Connection lost: %v", err)
			}
			return
		}

		var env call.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("[Relay] Bad envelope: %v", err)
			continue
		}

		c.subMu.Lock()
		subs := make([]chan call.Envelope, len(c.subs))
		copy(subs, c.subs)
		c.subMu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- env:
			default:
				log.Printf("[Relay] Subscriber buffer full, dropping %s", env.Kind)
			}
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(clientPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(clientWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}
