package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// How often every connected client receives a SERVER_TIME frame for clock
// resync. The connect-time frame is sent separately by the gateway.
const defaultTimeSyncPeriod = 30 * time.Second

// Hub tracks connected clients and their per-auction rooms and fans frames
// out to them. All membership changes flow through the Run goroutine; the
// lock exists so gauges and tests can read counts from outside.
type Hub struct {
	logger *zap.Logger

	clientsLock sync.RWMutex
	clients     map[*Client]bool
	rooms       map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	membership chan membershipChange
	broadcast  chan roomFrame

	done     chan struct{}
	stopOnce sync.Once

	timeSyncPeriod time.Duration
	now            func() time.Time
}

type membershipChange struct {
	client    *Client
	auctionID uuid.UUID
	join      bool
}

type roomFrame struct {
	auctionID uuid.UUID
	data      []byte
}

// NewHub creates a hub. Call Run before registering clients.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:         logger,
		clients:        make(map[*Client]bool),
		rooms:          make(map[uuid.UUID]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		membership:     make(chan membershipChange),
		broadcast:      make(chan roomFrame, 256),
		done:           make(chan struct{}),
		timeSyncPeriod: defaultTimeSyncPeriod,
		now:            time.Now,
	}
}

// Run owns all membership state. It exits when ctx is cancelled or Stop is
// called, closing every connection on the way out.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.timeSyncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Stop()
			h.shutdown()
			return
		case <-h.done:
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case change := <-h.membership:
			if change.join {
				h.joinRoom(change.client, change.auctionID)
			} else {
				h.leaveRoom(change.client, change.auctionID)
			}
		case frame := <-h.broadcast:
			h.broadcastRoom(frame.auctionID, frame.data)
		case <-ticker.C:
			h.broadcastServerTime()
		}
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a connection to the hub. After shutdown the connection is
// closed instead.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.conn.Close()
	}
}

// Unregister drops a connection and all its room memberships.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Join subscribes the connection to an auction's room.
func (h *Hub) Join(c *Client, auctionID uuid.UUID) {
	select {
	case h.membership <- membershipChange{client: c, auctionID: auctionID, join: true}:
	case <-h.done:
	}
}

// Leave removes the connection from an auction's room.
func (h *Hub) Leave(c *Client, auctionID uuid.UUID) {
	select {
	case h.membership <- membershipChange{client: c, auctionID: auctionID, join: false}:
	case <-h.done:
	}
}

// BroadcastToRoom fans a frame out to every connection watching the auction.
// Never blocks the caller: when the hub's buffer is full the frame is
// dropped, matching the fire-and-forget bus contract. Watchers resync from
// durable state, so a dropped frame costs at most one repaint.
func (h *Hub) BroadcastToRoom(auctionID uuid.UUID, data []byte) {
	select {
	case h.broadcast <- roomFrame{auctionID: auctionID, data: data}:
	case <-h.done:
	default:
		h.logger.Warn("hub broadcast buffer full, dropping frame",
			zap.String("auction_id", auctionID.String()),
		)
	}
}

// ConnectionCount reports connected clients.
func (h *Hub) ConnectionCount() int {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	return len(h.clients)
}

// RoomCount reports rooms with at least one watcher.
func (h *Hub) RoomCount() int {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	return len(h.rooms)
}

// RoomSize reports the number of watchers in one auction's room.
func (h *Hub) RoomSize(auctionID uuid.UUID) int {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()
	return len(h.rooms[auctionID])
}

func (h *Hub) addClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[c] = true
	h.logger.Info("websocket client connected",
		zap.String("client_id", c.id.String()),
		zap.String("user_id", c.userID.String()),
		zap.String("username", c.username),
	)
}

func (h *Hub) removeClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for auctionID := range c.rooms {
		h.dropFromRoom(c, auctionID)
	}
	c.closeSend()
	h.logger.Info("websocket client disconnected",
		zap.String("client_id", c.id.String()),
	)
}

func (h *Hub) joinRoom(c *Client, auctionID uuid.UUID) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	room := h.rooms[auctionID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[auctionID] = room
	}
	room[c] = true
	c.rooms[auctionID] = true
}

func (h *Hub) leaveRoom(c *Client, auctionID uuid.UUID) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	delete(c.rooms, auctionID)
	h.dropFromRoom(c, auctionID)
}

// dropFromRoom runs under clientsLock.
func (h *Hub) dropFromRoom(c *Client, auctionID uuid.UUID) {
	room := h.rooms[auctionID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, auctionID)
	}
}

func (h *Hub) broadcastRoom(auctionID uuid.UUID, data []byte) {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for c := range h.rooms[auctionID] {
		if !c.enqueue(data) {
			h.dropSlowClient(c)
		}
	}
}

func (h *Hub) broadcastServerTime() {
	frame, err := encodeFrame(MsgServerTime, serverTimePayload{ServerTime: h.now().UnixMilli()})
	if err != nil {
		h.logger.Error("encode server_time failed", zap.Error(err))
		return
	}

	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for c := range h.clients {
		if !c.enqueue(frame) {
			h.dropSlowClient(c)
		}
	}
}

// dropSlowClient removes a client whose send buffer overflowed. A client
// that cannot keep up with room traffic would otherwise stall the fan-out;
// it reconnects and resyncs instead.
func (h *Hub) dropSlowClient(c *Client) {
	h.logger.Warn("client send buffer full, dropping connection",
		zap.String("client_id", c.id.String()),
	)
	go h.Unregister(c)
}

func (h *Hub) shutdown() {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	for c := range h.clients {
		c.closeSend()
		c.conn.Close()
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[uuid.UUID]map[*Client]bool)
}
