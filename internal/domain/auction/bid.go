package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/values"
)

// Bid is an immutable accepted-bid fact. Rejected bids are never recorded.
// ServerTime is the authoritative wall-clock of acceptance assigned by the
// admission service; bid history is ordered by it.
type Bid struct {
	ID          uuid.UUID     `json:"id"`
	AuctionID   uuid.UUID     `json:"auction_id"`
	BidderID    uuid.UUID     `json:"bidder_id"`
	BidderName  string        `json:"bidder_name"`
	Amount      values.Money  `json:"amount"`
	PreviousBid *values.Money `json:"previous_bid,omitempty"`
	ServerTime  time.Time     `json:"server_time"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewBid builds the durable record for a bid the hot store already accepted.
// The id is minted by admission before the atomic accept, so the hot-store
// history entry and the durable row agree on it.
func NewBid(id, auctionID, bidderID uuid.UUID, bidderName string, amount values.Money, previousBid *values.Money, serverTime time.Time) *Bid {
	return &Bid{
		ID:          id,
		AuctionID:   auctionID,
		BidderID:    bidderID,
		BidderName:  bidderName,
		Amount:      amount,
		PreviousBid: previousBid,
		ServerTime:  serverTime.UTC().Truncate(time.Millisecond),
		CreatedAt:   time.Now().UTC(),
	}
}
