package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// wsPipe returns both ends of a real websocket connection, so hub tests can
// drive a server-side conn without a gateway in the way.
func wsPipe(t *testing.T) (serverConn, clientConn *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	clientConn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	select {
	case serverConn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server side of websocket pipe never arrived")
	}
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return serverConn, clientConn
}

func newHubClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{
		id:       uuid.New(),
		userID:   uuid.New(),
		username: "tester",
		conn:     conn,
		send:     make(chan []byte, buffer),
		rooms:    make(map[uuid.UUID]bool),
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	serverConn, _ := wsPipe(t)

	// No write pump drains this client, so the one-slot buffer overflows on
	// the second frame.
	c := newHubClient(serverConn, 1)
	hub.Register(c)

	auctionID := uuid.New()
	hub.Join(c, auctionID)
	require.Eventually(t, func() bool { return hub.RoomSize(auctionID) == 1 },
		2*time.Second, 10*time.Millisecond)

	frame := []byte(`{"type":"UPDATE_BID","payload":{}}`)
	hub.BroadcastToRoom(auctionID, frame)
	hub.BroadcastToRoom(auctionID, frame)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 0 && hub.RoomSize(auctionID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsServerTime(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	hub.timeSyncPeriod = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	serverConn, _ := wsPipe(t)
	c := newHubClient(serverConn, 4)
	hub.Register(c)

	select {
	case raw := <-c.send:
		var frame Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, MsgServerTime, frame.Type)

		var payload serverTimePayload
		require.NoError(t, json.Unmarshal(frame.Payload, &payload))
		assert.Less(t, time.Since(time.UnixMilli(payload.ServerTime)).Abs(), 5*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("no periodic server time frame")
	}
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	serverConn, clientConn := wsPipe(t)
	c := newHubClient(serverConn, 4)
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	hub.Stop()

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := clientConn.ReadMessage()
	assert.Error(t, err)

	// Late registrations after shutdown are turned away, not leaked.
	lateServer, lateClient := wsPipe(t)
	hub.Register(newHubClient(lateServer, 1))
	lateClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = lateClient.ReadMessage()
	assert.Error(t, err)
}
