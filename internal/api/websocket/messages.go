package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frame types received from clients.
const (
	MsgAuctionJoin  = "auction:join"
	MsgAuctionLeave = "auction:leave"
	MsgBidPlaced    = "BID_PLACED"
)

// Frame types sent to clients.
const (
	MsgServerTime      = "SERVER_TIME"
	MsgAuctionJoined   = "auction:joined"
	MsgBidAccepted     = "BID_ACCEPTED"
	MsgBidRejected     = "BID_REJECTED"
	MsgUpdateBid       = "UPDATE_BID"
	MsgAuctionExtended = "AUCTION_EXTENDED"
	MsgAuctionEnded    = "AUCTION_ENDED"
	MsgError           = "error"
)

// Frame is the envelope for every message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeFrame(frameType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload failed: %w", frameType, err)
	}
	return json.Marshal(Frame{Type: frameType, Payload: body})
}

// Decimal accepts a JSON number or string and keeps the exact digits the
// client sent, so "105.00" reaches the money parser without a float detour.
type Decimal string

func (d *Decimal) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty amount")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Decimal(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Decimal(n.String())
	return nil
}

type joinPayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
}

type placeBidPayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
	Amount    Decimal   `json:"amount"`
}

type serverTimePayload struct {
	ServerTime int64 `json:"serverTime"`
}

// wireBid is the bid object embedded in BID_ACCEPTED and UPDATE_BID. Amount
// is a decimal string; Timestamp is ISO-8601 UTC.
type wireBid struct {
	Amount         string    `json:"amount"`
	BidderID       uuid.UUID `json:"bidderId"`
	BidderUsername string    `json:"bidderUsername"`
	Timestamp      time.Time `json:"timestamp"`
	TotalBids      int64     `json:"totalBids"`
}

// bidPayload carries BID_ACCEPTED and UPDATE_BID, which share a shape.
type bidPayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
	Bid       wireBid   `json:"bid"`
}

type wireError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type bidRejectedPayload struct {
	AuctionID uuid.UUID `json:"auctionId"`
	Error     wireError `json:"error"`
}

type auctionExtendedPayload struct {
	AuctionID  uuid.UUID `json:"auctionId"`
	OldEndTime time.Time `json:"oldEndTime"`
	NewEndTime time.Time `json:"newEndTime"`
	ExtendedBy int64     `json:"extendedBy"`
}

// auctionEndedPayload announces the closing result to a room. WinnerID and
// WinningBid are null when the auction closed without bids.
type auctionEndedPayload struct {
	AuctionID  uuid.UUID  `json:"auctionId"`
	WinnerID   *uuid.UUID `json:"winnerId"`
	WinningBid *string    `json:"winningBid"`
	TotalBids  int64      `json:"totalBids"`
	EndTime    time.Time  `json:"endTime"`
}
