package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devnation593/chupistica/pkg/server"
)

// Client is one WebSocket connection. The read pump parses request
// envelopes, dispatches them, and queues the response; a per-session bus
// subscription feeds events into the same outbound queue so the client sees
// responses and events interleaved in a single ordered stream.
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte

	mu      sync.Mutex
	sub     *server.Subscription
	subCode string

	quit     sync.Once
	quitChan chan struct{}
}

// readPump reads request envelopes until the connection dies. It runs in its
// own goroutine; there is at most one reader per connection.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gateway.log.Debugf("read error: %v", err)
			}
			return
		}

		var req server.RequestEnvelope
		if err := json.Unmarshal(data, &req); err != nil {
			c.enqueue(server.ResponseEnvelope{
				OK:   false,
				Type: "unknown",
				Error: &server.ErrorBody{
					Kind:    "InvalidCommand",
					Message: "malformed request envelope",
				},
			})
			continue
		}

		resp := c.gateway.dispatcher.Dispatch(context.Background(), req)
		c.enqueue(resp)

		if resp.OK {
			if code := resolveSessionCode(req, resp); code != "" {
				c.ensureSubscribed(code)
			}
		}
	}
}

// enqueue queues a frame for the write pump, dropping the connection if the
// client cannot keep up.
func (c *Client) enqueue(v interface{}) {
	data, ok := c.gateway.marshalFrame(v)
	if !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		c.gateway.log.Warnf("outbound queue full, closing connection")
		c.close()
	}
}

// ensureSubscribed binds the connection to a session's event feed. Switching
// sessions drops the previous subscription.
func (c *Client) ensureSubscribed(code string) {
	c.mu.Lock()
	if c.subCode == code {
		c.mu.Unlock()
		return
	}
	old := c.sub
	oldCode := c.subCode
	c.sub = nil
	c.subCode = ""
	c.mu.Unlock()

	if old != nil {
		if actor, err := c.gateway.dispatcher.Registry().Lookup(oldCode); err == nil {
			actor.Bus().Unsubscribe(old.ID)
		}
	}

	actor, err := c.gateway.dispatcher.Registry().Lookup(code)
	if err != nil {
		return
	}
	sub := actor.Bus().Subscribe()

	c.mu.Lock()
	c.sub = sub
	c.subCode = code
	c.mu.Unlock()

	go c.forwardEvents(sub)
}

// forwardEvents pushes bus events into the outbound queue. When the bus
// sheds this subscriber for falling behind, the client is told to reconnect
// and resync from a snapshot.
func (c *Client) forwardEvents(sub *server.Subscription) {
	for ev := range sub.C {
		c.enqueue(ev)
	}

	select {
	case <-sub.Dropped():
		c.mu.Lock()
		code := c.subCode
		c.mu.Unlock()
		c.gateway.log.Warnf("subscriber shed on %s, signalling reconnect", code)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "event backlog overflow; reconnect")
		c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.close()
	default:
	}
}

// writePump owns all writes to the connection: queued frames plus periodic
// pings. There is at most one writer per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.quitChan:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears the connection down once: the subscription is released and the
// write pump told to finish.
func (c *Client) close() {
	c.quit.Do(func() {
		c.mu.Lock()
		sub := c.sub
		code := c.subCode
		c.sub = nil
		c.subCode = ""
		c.mu.Unlock()

		if sub != nil {
			if actor, err := c.gateway.dispatcher.Registry().Lookup(code); err == nil {
				actor.Bus().Unsubscribe(sub.ID)
			}
		}
		close(c.quitChan)
	})
}
