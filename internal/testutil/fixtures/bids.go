package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/domain/values"
)

// BidBuilder builds accepted-bid facts.
type BidBuilder struct {
	id          uuid.UUID
	auctionID   uuid.UUID
	bidderID    uuid.UUID
	bidderName  string
	amount      values.Money
	previousBid *values.Money
	serverTime  time.Time
}

func NewBidBuilder(t *testing.T, auctionID uuid.UUID) *BidBuilder {
	t.Helper()
	return &BidBuilder{
		id:         uuid.New(),
		auctionID:  auctionID,
		bidderID:   uuid.New(),
		bidderName: "Test Bidder",
		amount:     values.MustNewMoneyFromString("10.00", values.DefaultCurrency),
		serverTime: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (b *BidBuilder) WithID(id uuid.UUID) *BidBuilder {
	b.id = id
	return b
}

func (b *BidBuilder) WithBidder(id uuid.UUID, name string) *BidBuilder {
	b.bidderID = id
	b.bidderName = name
	return b
}

func (b *BidBuilder) WithAmount(amount string) *BidBuilder {
	b.amount = values.MustNewMoneyFromString(amount, values.DefaultCurrency)
	return b
}

func (b *BidBuilder) WithPreviousBid(amount string) *BidBuilder {
	m := values.MustNewMoneyFromString(amount, values.DefaultCurrency)
	b.previousBid = &m
	return b
}

func (b *BidBuilder) WithServerTime(at time.Time) *BidBuilder {
	b.serverTime = at.UTC().Truncate(time.Millisecond)
	return b
}

func (b *BidBuilder) Build() *auction.Bid {
	return &auction.Bid{
		ID:          b.id,
		AuctionID:   b.auctionID,
		BidderID:    b.bidderID,
		BidderName:  b.bidderName,
		Amount:      b.amount,
		PreviousBid: b.previousBid,
		ServerTime:  b.serverTime,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}
