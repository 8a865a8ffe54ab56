package auction

import (
	"github.com/google/uuid"
)

// Event type discriminators carried in fan-out envelopes.
const (
	EventTypeBidPlaced = "bid_placed"
	EventTypeExtended  = "auction_extended"
	EventTypeEnded     = "auction_ended"
)

// Reasons carried on AuctionEndedEvent.
const (
	EndReasonCompleted = "completed"
	EndReasonCancelled = "cancelled"
)

// BidPlacedEvent fans out after every accepted bid. When the bid also
// triggered an anti-snipe extension the new deadline piggybacks on the same
// event so watchers never observe the price move before the deadline move.
// Amounts are decimal strings; times are epoch milliseconds.
type BidPlacedEvent struct {
	AuctionID   uuid.UUID `json:"auction_id"`
	BidID       uuid.UUID `json:"bid_id"`
	BidderID    uuid.UUID `json:"bidder_id"`
	BidderName  string    `json:"bidder_name"`
	Amount      string    `json:"amount"`
	PreviousBid string    `json:"previous_bid,omitempty"`
	TotalBids   int64     `json:"total_bids"`
	EndTime     int64     `json:"end_time"`
	ServerTime  int64     `json:"server_time"`
	Extended    bool      `json:"extended"`
	OldEndTime  int64     `json:"old_end_time,omitempty"`
	NewEndTime  int64     `json:"new_end_time,omitempty"`
}

// AuctionExtendedEvent fans out when the deadline moves.
type AuctionExtendedEvent struct {
	AuctionID  uuid.UUID `json:"auction_id"`
	OldEndTime int64     `json:"old_end_time"`
	NewEndTime int64     `json:"new_end_time"`
	ServerTime int64     `json:"server_time"`
}

// AuctionEndedEvent fans out exactly once per auction, on the finalizing
// transition. WinnerID is empty for auctions that ended without bids.
type AuctionEndedEvent struct {
	AuctionID  uuid.UUID `json:"auction_id"`
	WinnerID   string    `json:"winner_id,omitempty"`
	WinnerName string    `json:"winner_name,omitempty"`
	WinningBid string    `json:"winning_bid,omitempty"`
	TotalBids  int64     `json:"total_bids"`
	EndedAt    int64     `json:"ended_at"`
	Reason     string    `json:"reason"`
}
