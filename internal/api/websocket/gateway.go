package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
	"github.com/openlot/live-auction-backend/internal/domain/values"
	"github.com/openlot/live-auction-backend/internal/infrastructure/auth"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/service/admission"
)

// opTimeout bounds service calls made on behalf of a single inbound frame.
const opTimeout = 5 * time.Second

// TokenValidator checks the bearer credential presented on connect.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// HotReader is the hot-store slice the gateway uses to validate room joins.
type HotReader interface {
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*hotstore.AuctionState, error)
}

// AuctionReader resolves auctions the hot store no longer holds, so watchers
// can join rooms for ended or not-yet-hydrated auctions.
type AuctionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
}

// Gateway upgrades websocket connections, authenticates them and routes
// frames between clients, the admission pipeline and the fan-out bus.
type Gateway struct {
	logger    *zap.Logger
	hub       *Hub
	tokens    TokenValidator
	admission admission.Service
	hot       HotReader
	auctions  AuctionReader
	upgrader  websocket.Upgrader
	now       func() time.Time
}

func NewGateway(
	hub *Hub,
	tokens TokenValidator,
	adm admission.Service,
	hot HotReader,
	auctions AuctionReader,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		logger:    logger,
		hub:       hub,
		tokens:    tokens,
		admission: adm,
		hot:       hot,
		auctions:  auctions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is not checked; clients authenticate with the bearer
			// token instead and the surface carries no cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Start runs the hub until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	go g.hub.Run(ctx)
}

// Stop closes every connection and shuts the hub down.
func (g *Gateway) Stop() {
	g.hub.Stop()
}

// Hub exposes the room state for gauges.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// HandleWS serves GET /ws. The credential travels in the token query
// parameter or an Authorization bearer header. The connection is upgraded
// before validation so browser clients can read the AUTH_ERROR frame; a
// rejected handshake status is opaque to the browser websocket API.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		return
	}

	claims, err := g.tokens.ValidateToken(bearerToken(r))
	if err != nil {
		g.rejectUnauthenticated(conn, r, err)
		return
	}

	client := newClient(g, conn, claims.UserID, claims.Username)
	g.hub.Register(client)

	go client.writePump()
	go client.readPump()

	g.sendServerTime(client)
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (g *Gateway) rejectUnauthenticated(conn *websocket.Conn, r *http.Request, cause error) {
	frame, err := encodeFrame(MsgError, wireError{
		Code:    appErrors.ErrAuthError.Code,
		Message: appErrors.ErrAuthError.Message,
	})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, frame)
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, appErrors.ErrAuthError.Code),
		time.Now().Add(writeWait),
	)
	conn.Close()

	g.logger.Warn("websocket auth rejected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Error(cause),
	)
}

// handleFrame dispatches one inbound frame. It runs on the connection's read
// goroutine, so every service call is deadline-bounded.
func (g *Gateway) handleFrame(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.sendError(c, appErrors.ErrInvalidInput.Code, "malformed frame")
		return
	}

	switch frame.Type {
	case MsgAuctionJoin:
		g.handleJoin(c, frame.Payload)
	case MsgAuctionLeave:
		g.handleLeave(c, frame.Payload)
	case MsgBidPlaced:
		g.handleBid(c, frame.Payload)
	default:
		g.sendError(c, appErrors.ErrInvalidInput.Code, fmt.Sprintf("unknown message type %q", frame.Type))
	}
}

func (g *Gateway) handleJoin(c *Client, payload json.RawMessage) {
	var req joinPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.AuctionID == uuid.Nil {
		g.sendError(c, appErrors.ErrInvalidInput.Code, "auction:join requires an auctionId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := g.auctionExists(ctx, req.AuctionID); err != nil {
		g.sendErrorFor(c, err)
		return
	}

	g.hub.Join(c, req.AuctionID)

	frame, err := encodeFrame(MsgAuctionJoined, joinPayload{AuctionID: req.AuctionID})
	if err != nil {
		g.logger.Error("encode auction:joined failed", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

// auctionExists resolves the auction hot-first. Watchers may join rooms for
// ended auctions, so the cold row is enough.
func (g *Gateway) auctionExists(ctx context.Context, auctionID uuid.UUID) error {
	_, err := g.hot.GetAuction(ctx, auctionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, hotstore.ErrAuctionNotInHotStore) {
		return appErrors.WrapInternal(err, "hot store read failed")
	}
	if _, err := g.auctions.GetByID(ctx, auctionID); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) handleLeave(c *Client, payload json.RawMessage) {
	var req joinPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.AuctionID == uuid.Nil {
		g.sendError(c, appErrors.ErrInvalidInput.Code, "auction:leave requires an auctionId")
		return
	}
	g.hub.Leave(c, req.AuctionID)
}

func (g *Gateway) handleBid(c *Client, payload json.RawMessage) {
	var req placeBidPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.AuctionID == uuid.Nil {
		g.sendError(c, appErrors.ErrInvalidInput.Code, "BID_PLACED requires an auctionId and amount")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	receipt, err := g.admission.PlaceBid(ctx, &admission.PlaceBidRequest{
		AuctionID:  req.AuctionID,
		BidderID:   c.userID,
		BidderName: c.username,
		Amount:     string(req.Amount),
		Currency:   values.DefaultCurrency,
	})
	if err != nil {
		g.sendBidRejected(c, req.AuctionID, err)
		return
	}
	g.sendBidAccepted(c, receipt)
}

// sendBidAccepted unicasts the receipt to the bidder. The room sees the same
// bid through the bus broadcast, originator included.
func (g *Gateway) sendBidAccepted(c *Client, receipt *admission.Receipt) {
	frame, err := encodeFrame(MsgBidAccepted, bidPayload{
		AuctionID: receipt.AuctionID,
		Bid: wireBid{
			Amount:         receipt.Amount.AmountString(),
			BidderID:       c.userID,
			BidderUsername: c.username,
			Timestamp:      receipt.ServerTime.UTC(),
			TotalBids:      receipt.TotalBids,
		},
	})
	if err != nil {
		g.logger.Error("encode BID_ACCEPTED failed", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (g *Gateway) sendBidRejected(c *Client, auctionID uuid.UUID, cause error) {
	wire := wireError{
		Code:    appErrors.Code(cause),
		Message: "bid could not be processed",
	}
	var appErr *appErrors.AppError
	if errors.As(cause, &appErr) {
		wire.Message = appErr.Message
		wire.Details = appErr.Details
	} else {
		g.logger.Error("bid admission failed",
			zap.String("auction_id", auctionID.String()),
			zap.Error(cause),
		)
	}

	frame, err := encodeFrame(MsgBidRejected, bidRejectedPayload{AuctionID: auctionID, Error: wire})
	if err != nil {
		g.logger.Error("encode BID_REJECTED failed", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (g *Gateway) sendServerTime(c *Client) {
	frame, err := encodeFrame(MsgServerTime, serverTimePayload{ServerTime: g.now().UnixMilli()})
	if err != nil {
		g.logger.Error("encode server_time failed", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (g *Gateway) sendError(c *Client, code, message string) {
	frame, err := encodeFrame(MsgError, wireError{Code: code, Message: message})
	if err != nil {
		g.logger.Error("encode error frame failed", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (g *Gateway) sendErrorFor(c *Client, cause error) {
	var appErr *appErrors.AppError
	if errors.As(cause, &appErr) {
		g.sendError(c, appErr.Code, appErr.Message)
		return
	}
	g.logger.Error("gateway operation failed", zap.Error(cause))
	g.sendError(c, "INTERNAL_ERROR", "something went wrong, try again")
}
