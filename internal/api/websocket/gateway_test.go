package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
	"github.com/openlot/live-auction-backend/internal/domain/values"
	"github.com/openlot/live-auction-backend/internal/infrastructure/auth"
	"github.com/openlot/live-auction-backend/internal/infrastructure/config"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/service/admission"
)

type gatewayFixture struct {
	hub  *Hub
	gw   *Gateway
	srv  *httptest.Server
	auth *auth.Service
	adm  *stubAdmission
	hot  *stubHot
	cold *stubCold
}

func setupGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	hub := NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	authSvc, err := auth.NewService(&config.AuthConfig{
		JWTSecret:   "gateway-test-secret",
		TokenExpiry: time.Hour,
		Issuer:      "openlot-test",
	})
	require.NoError(t, err)

	f := &gatewayFixture{
		hub:  hub,
		auth: authSvc,
		adm:  &stubAdmission{},
		hot:  &stubHot{states: make(map[uuid.UUID]*hotstore.AuctionState)},
		cold: &stubCold{rows: make(map[uuid.UUID]*auction.Auction)},
	}
	f.gw = NewGateway(hub, authSvc, f.adm, f.hot, f.cold, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", f.gw.HandleWS)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *gatewayFixture) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (f *gatewayFixture) dial(t *testing.T, userID uuid.UUID, username string) *websocket.Conn {
	t.Helper()

	token, err := f.auth.GenerateToken(userID, username)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(token), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

// readFrameOfType skips frames of other types (a periodic SERVER_TIME can
// interleave with anything) until the wanted one arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, frameType string) Frame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return Frame{}
}

func assertNoFrameOfType(t *testing.T, conn *websocket.Conn, frameType string, wait time.Duration) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(wait))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if json.Unmarshal(raw, &frame) == nil && frame.Type == frameType {
			t.Fatalf("unexpected %s frame: %s", frameType, raw)
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(Frame{Type: frameType, Payload: body})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func decodeInto(t *testing.T, frame Frame, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(frame.Payload, dst))
}

func TestConnectHandshake(t *testing.T) {
	f := setupGateway(t)

	t.Run("sends server time on connect", func(t *testing.T) {
		conn := f.dial(t, uuid.New(), "alice")

		frame := readFrameOfType(t, conn, MsgServerTime)
		var payload serverTimePayload
		decodeInto(t, frame, &payload)

		drift := time.Since(time.UnixMilli(payload.ServerTime))
		assert.Less(t, drift.Abs(), 5*time.Second)
	})

	t.Run("accepts the authorization header", func(t *testing.T) {
		token, err := f.auth.GenerateToken(uuid.New(), "bob")
		require.NoError(t, err)

		header := http.Header{"Authorization": {"Bearer " + token}}
		conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), header)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		defer conn.Close()

		readFrameOfType(t, conn, MsgServerTime)
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL("not-a-jwt"), nil)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		defer conn.Close()

		frame := readFrame(t, conn)
		require.Equal(t, MsgError, frame.Type)
		var wire wireError
		decodeInto(t, frame, &wire)
		assert.Equal(t, "AUTH_ERROR", wire.Code)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	})

	t.Run("rejects a missing token", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		defer conn.Close()

		frame := readFrame(t, conn)
		require.Equal(t, MsgError, frame.Type)
		var wire wireError
		decodeInto(t, frame, &wire)
		assert.Equal(t, "AUTH_ERROR", wire.Code)
	})
}

func TestRoomMembership(t *testing.T) {
	f := setupGateway(t)

	hotID := uuid.New()
	f.hot.put(&hotstore.AuctionState{ID: hotID, Status: "active", EndTime: time.Now().Add(time.Hour)})

	coldID := uuid.New()
	f.cold.put(&auction.Auction{ID: coldID})

	t.Run("join and leave a live auction", func(t *testing.T) {
		conn := f.dial(t, uuid.New(), "alice")

		sendFrame(t, conn, MsgAuctionJoin, joinPayload{AuctionID: hotID})
		frame := readFrameOfType(t, conn, MsgAuctionJoined)
		var joined joinPayload
		decodeInto(t, frame, &joined)
		assert.Equal(t, hotID, joined.AuctionID)

		require.Eventually(t, func() bool { return f.hub.RoomSize(hotID) == 1 },
			2*time.Second, 10*time.Millisecond)

		sendFrame(t, conn, MsgAuctionLeave, joinPayload{AuctionID: hotID})
		require.Eventually(t, func() bool { return f.hub.RoomSize(hotID) == 0 },
			2*time.Second, 10*time.Millisecond)
	})

	t.Run("join falls back to the durable row", func(t *testing.T) {
		conn := f.dial(t, uuid.New(), "bob")

		sendFrame(t, conn, MsgAuctionJoin, joinPayload{AuctionID: coldID})
		frame := readFrameOfType(t, conn, MsgAuctionJoined)
		var joined joinPayload
		decodeInto(t, frame, &joined)
		assert.Equal(t, coldID, joined.AuctionID)
	})

	t.Run("unknown auction is refused", func(t *testing.T) {
		conn := f.dial(t, uuid.New(), "carol")

		sendFrame(t, conn, MsgAuctionJoin, joinPayload{AuctionID: uuid.New()})
		frame := readFrameOfType(t, conn, MsgError)
		var wire wireError
		decodeInto(t, frame, &wire)
		assert.Equal(t, "AUCTION_NOT_FOUND", wire.Code)
	})

	t.Run("disconnect leaves all rooms", func(t *testing.T) {
		conn := f.dial(t, uuid.New(), "dave")

		sendFrame(t, conn, MsgAuctionJoin, joinPayload{AuctionID: hotID})
		readFrameOfType(t, conn, MsgAuctionJoined)
		require.Eventually(t, func() bool { return f.hub.RoomSize(hotID) == 1 },
			2*time.Second, 10*time.Millisecond)

		conn.Close()
		require.Eventually(t, func() bool { return f.hub.RoomSize(hotID) == 0 },
			2*time.Second, 10*time.Millisecond)
	})
}

func TestBidPlacement(t *testing.T) {
	auctionID := uuid.New()
	bidderID := uuid.New()

	t.Run("accepted bid is unicast back with the receipt", func(t *testing.T) {
		f := setupGateway(t)
		now := time.Now()
		f.adm.setReceipt(&admission.Receipt{
			BidID:      uuid.New(),
			Amount:     values.MustNewMoneyFromString("105.00", "USD"),
			TotalBids:  2,
			EndTime:    now.Add(5 * time.Minute),
			ServerTime: now,
		})

		conn := f.dial(t, bidderID, "alice")

		// Amount as a JSON number must survive digit-exact.
		raw := fmt.Sprintf(`{"type":"BID_PLACED","payload":{"auctionId":%q,"amount":105.00}}`, auctionID)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))

		frame := readFrameOfType(t, conn, MsgBidAccepted)
		var accepted bidPayload
		decodeInto(t, frame, &accepted)
		assert.Equal(t, auctionID, accepted.AuctionID)
		assert.Equal(t, "105.00", accepted.Bid.Amount)
		assert.Equal(t, bidderID, accepted.Bid.BidderID)
		assert.Equal(t, "alice", accepted.Bid.BidderUsername)
		assert.EqualValues(t, 2, accepted.Bid.TotalBids)

		req := f.adm.last()
		require.NotNil(t, req)
		assert.Equal(t, auctionID, req.AuctionID)
		assert.Equal(t, bidderID, req.BidderID)
		assert.Equal(t, "alice", req.BidderName)
		assert.Equal(t, "105.00", req.Amount)
		assert.Equal(t, "USD", req.Currency)
	})

	t.Run("rejection carries the correction details", func(t *testing.T) {
		f := setupGateway(t)
		f.adm.setError(appErrors.NewBidTooLow("105.00", "110.00", "105.00", false))

		conn := f.dial(t, bidderID, "bob")
		sendFrame(t, conn, MsgBidPlaced, placeBidPayload{AuctionID: auctionID, Amount: "105.00"})

		frame := readFrameOfType(t, conn, MsgBidRejected)
		var rejected bidRejectedPayload
		decodeInto(t, frame, &rejected)
		assert.Equal(t, auctionID, rejected.AuctionID)
		assert.Equal(t, "BID_TOO_LOW", rejected.Error.Code)
		assert.NotEmpty(t, rejected.Error.Message)
		assert.Equal(t, "110.00", rejected.Error.Details["minimum_bid"])
		assert.Equal(t, "105.00", rejected.Error.Details["your_bid"])
	})

	t.Run("malformed bid frame is refused", func(t *testing.T) {
		f := setupGateway(t)
		conn := f.dial(t, bidderID, "carol")

		raw := `{"type":"BID_PLACED","payload":{"auctionId":"not-a-uuid","amount":"1.00"}}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))

		frame := readFrameOfType(t, conn, MsgError)
		var wire wireError
		decodeInto(t, frame, &wire)
		assert.Equal(t, "INVALID_INPUT", wire.Code)
		assert.Nil(t, f.adm.last())
	})

	t.Run("unknown frame type is refused", func(t *testing.T) {
		f := setupGateway(t)
		conn := f.dial(t, bidderID, "dave")

		sendFrame(t, conn, "shrug", joinPayload{AuctionID: auctionID})
		frame := readFrameOfType(t, conn, MsgError)
		var wire wireError
		decodeInto(t, frame, &wire)
		assert.Equal(t, "INVALID_INPUT", wire.Code)
	})
}

func TestBroadcasts(t *testing.T) {
	f := setupGateway(t)
	logger := zaptest.NewLogger(t)
	bridge := NewBridge(f.hub, logger)
	ctx := context.Background()

	watched := uuid.New()
	other := uuid.New()
	f.hot.put(&hotstore.AuctionState{ID: watched, Status: "active", EndTime: time.Now().Add(time.Hour)})
	f.hot.put(&hotstore.AuctionState{ID: other, Status: "active", EndTime: time.Now().Add(time.Hour)})

	bobID := uuid.New()
	alice := f.dial(t, uuid.New(), "alice")
	bob := f.dial(t, bobID, "bob")
	carol := f.dial(t, uuid.New(), "carol")

	joinRoom := func(conn *websocket.Conn, id uuid.UUID) {
		sendFrame(t, conn, MsgAuctionJoin, joinPayload{AuctionID: id})
		readFrameOfType(t, conn, MsgAuctionJoined)
	}
	joinRoom(alice, watched)
	joinRoom(bob, watched)
	joinRoom(carol, other)

	require.Eventually(t, func() bool { return f.hub.RoomSize(watched) == 2 && f.hub.RoomSize(other) == 1 },
		2*time.Second, 10*time.Millisecond)

	serverTime := time.Now().UnixMilli()

	t.Run("accepted bid reaches every watcher, bidder included", func(t *testing.T) {
		bridge.HandleBidPlaced(ctx, auction.BidPlacedEvent{
			AuctionID:  watched,
			BidID:      uuid.New(),
			BidderID:   bobID,
			BidderName: "bob",
			Amount:     "112.00",
			TotalBids:  3,
			EndTime:    serverTime + int64(time.Hour/time.Millisecond),
			ServerTime: serverTime,
		})

		for _, conn := range []*websocket.Conn{alice, bob} {
			frame := readFrameOfType(t, conn, MsgUpdateBid)
			var update bidPayload
			decodeInto(t, frame, &update)
			assert.Equal(t, watched, update.AuctionID)
			assert.Equal(t, "112.00", update.Bid.Amount)
			assert.Equal(t, bobID, update.Bid.BidderID)
			assert.Equal(t, "bob", update.Bid.BidderUsername)
			assert.EqualValues(t, 3, update.Bid.TotalBids)
			assert.True(t, update.Bid.Timestamp.Equal(time.UnixMilli(serverTime)))
		}
	})

	t.Run("extension is announced with old and new deadlines", func(t *testing.T) {
		oldEnd := serverTime + 20_000
		newEnd := oldEnd + 30_000
		bridge.HandleAuctionExtended(ctx, auction.AuctionExtendedEvent{
			AuctionID:  watched,
			OldEndTime: oldEnd,
			NewEndTime: newEnd,
			ServerTime: serverTime,
		})

		frame := readFrameOfType(t, alice, MsgAuctionExtended)
		var extended auctionExtendedPayload
		decodeInto(t, frame, &extended)
		assert.Equal(t, watched, extended.AuctionID)
		assert.True(t, extended.OldEndTime.Equal(time.UnixMilli(oldEnd)))
		assert.True(t, extended.NewEndTime.Equal(time.UnixMilli(newEnd)))
		assert.EqualValues(t, 30, extended.ExtendedBy)
	})

	t.Run("closing announcement names the winner", func(t *testing.T) {
		bridge.HandleAuctionEnded(ctx, auction.AuctionEndedEvent{
			AuctionID:  watched,
			WinnerID:   bobID.String(),
			WinnerName: "bob",
			WinningBid: "112.00",
			TotalBids:  3,
			EndedAt:    serverTime,
			Reason:     auction.EndReasonCompleted,
		})

		frame := readFrameOfType(t, bob, MsgAuctionEnded)
		var ended auctionEndedPayload
		decodeInto(t, frame, &ended)
		assert.Equal(t, watched, ended.AuctionID)
		require.NotNil(t, ended.WinnerID)
		assert.Equal(t, bobID, *ended.WinnerID)
		require.NotNil(t, ended.WinningBid)
		assert.Equal(t, "112.00", *ended.WinningBid)
		assert.EqualValues(t, 3, ended.TotalBids)
	})

	t.Run("no-bid close carries null winner fields", func(t *testing.T) {
		bridge.HandleAuctionEnded(ctx, auction.AuctionEndedEvent{
			AuctionID: other,
			TotalBids: 0,
			EndedAt:   serverTime,
			Reason:    auction.EndReasonCompleted,
		})

		frame := readFrameOfType(t, carol, MsgAuctionEnded)
		var ended auctionEndedPayload
		decodeInto(t, frame, &ended)
		assert.Nil(t, ended.WinnerID)
		assert.Nil(t, ended.WinningBid)
		assert.EqualValues(t, 0, ended.TotalBids)
	})

	t.Run("other rooms stay quiet", func(t *testing.T) {
		bridge.HandleBidPlaced(ctx, auction.BidPlacedEvent{
			AuctionID:  watched,
			BidID:      uuid.New(),
			BidderID:   bobID,
			BidderName: "bob",
			Amount:     "115.00",
			TotalBids:  4,
			ServerTime: serverTime,
		})
		assertNoFrameOfType(t, carol, MsgUpdateBid, 300*time.Millisecond)
	})
}

// stubAdmission satisfies admission.Service without a hot store.
type stubAdmission struct {
	mu      sync.Mutex
	receipt *admission.Receipt
	err     error
	lastReq *admission.PlaceBidRequest
}

func (s *stubAdmission) setReceipt(r *admission.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipt = r
}

func (s *stubAdmission) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubAdmission) last() *admission.PlaceBidRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

func (s *stubAdmission) PlaceBid(ctx context.Context, req *admission.PlaceBidRequest) (*admission.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	receipt := *s.receipt
	receipt.AuctionID = req.AuctionID
	return &receipt, nil
}

type stubHot struct {
	mu     sync.Mutex
	states map[uuid.UUID]*hotstore.AuctionState
}

func (s *stubHot) put(state *hotstore.AuctionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state
}

func (s *stubHot) GetAuction(ctx context.Context, auctionID uuid.UUID) (*hotstore.AuctionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[auctionID]
	if !ok {
		return nil, hotstore.ErrAuctionNotInHotStore
	}
	return state, nil
}

type stubCold struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*auction.Auction
}

func (s *stubCold) put(a *auction.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.ID] = a
}

func (s *stubCold) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.rows[id]
	if !ok {
		return nil, appErrors.ErrAuctionNotFound
	}
	return a, nil
}
