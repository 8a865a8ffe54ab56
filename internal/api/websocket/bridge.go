package websocket

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
)

// Bridge converts bus events into room broadcasts. It is this process's
// single bus subscription: every frame a watcher sees beyond its own unicast
// receipts flows through here, including events that originated on other
// instances.
type Bridge struct {
	hub    *Hub
	logger *zap.Logger
}

func NewBridge(hub *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{hub: hub, logger: logger}
}

// HandleBidPlaced fans an accepted bid out to the auction's room. When the
// bid also extended the deadline, the extension follows as its own event in
// publish order.
func (b *Bridge) HandleBidPlaced(ctx context.Context, ev auction.BidPlacedEvent) {
	frame, err := encodeFrame(MsgUpdateBid, bidPayload{
		AuctionID: ev.AuctionID,
		Bid: wireBid{
			Amount:         ev.Amount,
			BidderID:       ev.BidderID,
			BidderUsername: ev.BidderName,
			Timestamp:      time.UnixMilli(ev.ServerTime).UTC(),
			TotalBids:      ev.TotalBids,
		},
	})
	if err != nil {
		b.logger.Error("encode UPDATE_BID failed", zap.Error(err))
		return
	}
	b.hub.BroadcastToRoom(ev.AuctionID, frame)
}

func (b *Bridge) HandleAuctionExtended(ctx context.Context, ev auction.AuctionExtendedEvent) {
	oldEnd := time.UnixMilli(ev.OldEndTime).UTC()
	newEnd := time.UnixMilli(ev.NewEndTime).UTC()

	frame, err := encodeFrame(MsgAuctionExtended, auctionExtendedPayload{
		AuctionID:  ev.AuctionID,
		OldEndTime: oldEnd,
		NewEndTime: newEnd,
		ExtendedBy: int64(newEnd.Sub(oldEnd) / time.Second),
	})
	if err != nil {
		b.logger.Error("encode AUCTION_EXTENDED failed", zap.Error(err))
		return
	}
	b.hub.BroadcastToRoom(ev.AuctionID, frame)
}

func (b *Bridge) HandleAuctionEnded(ctx context.Context, ev auction.AuctionEndedEvent) {
	payload := auctionEndedPayload{
		AuctionID: ev.AuctionID,
		TotalBids: ev.TotalBids,
		EndTime:   time.UnixMilli(ev.EndedAt).UTC(),
	}
	if winnerID, err := uuid.Parse(ev.WinnerID); err == nil && winnerID != uuid.Nil {
		payload.WinnerID = &winnerID
	}
	if ev.WinningBid != "" {
		bid := ev.WinningBid
		payload.WinningBid = &bid
	}

	frame, err := encodeFrame(MsgAuctionEnded, payload)
	if err != nil {
		b.logger.Error("encode AUCTION_ENDED failed", zap.Error(err))
		return
	}
	b.hub.BroadcastToRoom(ev.AuctionID, frame)
}
