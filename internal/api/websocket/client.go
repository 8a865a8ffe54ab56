package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512

	// sendBuffer bounds the per-connection outbound queue. Overflow means
	// the client is not draining and the hub drops it.
	sendBuffer = 16
)

// Client is one authenticated websocket connection. The read pump feeds
// frames to the gateway dispatcher; the write pump owns all writes.
type Client struct {
	id       uuid.UUID
	userID   uuid.UUID
	username string

	conn    *websocket.Conn
	gateway *Gateway
	hub     *Hub

	sendMu sync.Mutex
	closed bool
	send   chan []byte

	// rooms is owned by the hub and guarded by its lock.
	rooms map[uuid.UUID]bool
}

func newClient(gw *Gateway, conn *websocket.Conn, userID uuid.UUID, username string) *Client {
	return &Client{
		id:       uuid.New(),
		userID:   userID,
		username: username,
		conn:     conn,
		gateway:  gw,
		hub:      gw.hub,
		send:     make(chan []byte, sendBuffer),
		rooms:    make(map[uuid.UUID]bool),
	}
}

// enqueue hands a frame to the write pump without blocking. Returns false
// when the buffer is full or the connection is already closing; callers
// treat both as a slow or gone client.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound queue. Serialized against enqueue so a late
// unicast reply cannot hit a closed channel.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump pumps frames from the connection into the gateway dispatcher.
// One per connection; it owns all reads.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Warn("websocket read failed",
					zap.String("client_id", c.id.String()),
					zap.Error(err),
				)
			}
			return
		}
		c.gateway.handleFrame(c, message)
	}
}

// writePump pumps frames from the send queue to the connection and keeps it
// alive with pings. One per connection; it owns all writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
