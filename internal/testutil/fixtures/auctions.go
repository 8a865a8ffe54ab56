package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/domain/values"
)

// AuctionBuilder builds test auctions. Defaults to an active auction that
// started a minute ago, ends in ten minutes, opens at $10.00 with a $1.00
// increment and no reserve.
type AuctionBuilder struct {
	id            uuid.UUID
	sellerID      uuid.UUID
	title         string
	description   string
	category      string
	startingPrice values.Money
	bidIncrement  values.Money
	reservePrice  *values.Money
	currentBid    *values.Money
	highestBidder *uuid.UUID
	bidderName    string
	totalBids     int64
	startTime     time.Time
	endTime       time.Time
	status        auction.Status
}

func NewAuctionBuilder(t *testing.T) *AuctionBuilder {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &AuctionBuilder{
		id:            uuid.New(),
		sellerID:      uuid.New(),
		title:         "Mid-century armchair",
		description:   "Teak frame, reupholstered.",
		category:      "furniture",
		startingPrice: values.MustNewMoneyFromString("10.00", values.DefaultCurrency),
		bidIncrement:  values.MustNewMoneyFromString("1.00", values.DefaultCurrency),
		startTime:     now.Add(-time.Minute),
		endTime:       now.Add(10 * time.Minute),
		status:        auction.StatusActive,
	}
}

func (b *AuctionBuilder) WithID(id uuid.UUID) *AuctionBuilder {
	b.id = id
	return b
}

func (b *AuctionBuilder) WithSeller(sellerID uuid.UUID) *AuctionBuilder {
	b.sellerID = sellerID
	return b
}

func (b *AuctionBuilder) WithTitle(title string) *AuctionBuilder {
	b.title = title
	return b
}

func (b *AuctionBuilder) WithCategory(category string) *AuctionBuilder {
	b.category = category
	return b
}

func (b *AuctionBuilder) WithPrices(starting, increment string) *AuctionBuilder {
	b.startingPrice = values.MustNewMoneyFromString(starting, values.DefaultCurrency)
	b.bidIncrement = values.MustNewMoneyFromString(increment, values.DefaultCurrency)
	return b
}

func (b *AuctionBuilder) WithReserve(reserve string) *AuctionBuilder {
	m := values.MustNewMoneyFromString(reserve, values.DefaultCurrency)
	b.reservePrice = &m
	return b
}

// WithLeadingBid puts the auction in a mid-bidding state.
func (b *AuctionBuilder) WithLeadingBid(amount string, bidderID uuid.UUID, bidderName string, totalBids int64) *AuctionBuilder {
	m := values.MustNewMoneyFromString(amount, values.DefaultCurrency)
	b.currentBid = &m
	b.highestBidder = &bidderID
	b.bidderName = bidderName
	b.totalBids = totalBids
	return b
}

func (b *AuctionBuilder) WithTimes(start, end time.Time) *AuctionBuilder {
	b.startTime = start.UTC().Truncate(time.Millisecond)
	b.endTime = end.UTC().Truncate(time.Millisecond)
	return b
}

func (b *AuctionBuilder) WithStatus(status auction.Status) *AuctionBuilder {
	b.status = status
	return b
}

func (b *AuctionBuilder) EndingIn(d time.Duration) *AuctionBuilder {
	b.endTime = time.Now().UTC().Add(d).Truncate(time.Millisecond)
	return b
}

func (b *AuctionBuilder) Build() *auction.Auction {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &auction.Auction{
		ID:              b.id,
		SellerID:        b.sellerID,
		Title:           b.title,
		Description:     b.description,
		Category:        b.category,
		StartingPrice:   b.startingPrice,
		BidIncrement:    b.bidIncrement,
		ReservePrice:    b.reservePrice,
		CurrentBid:      b.currentBid,
		HighestBidderID: b.highestBidder,
		HighestBidder:   b.bidderName,
		TotalBids:       b.totalBids,
		StartTime:       b.startTime,
		EndTime:         b.endTime,
		OriginalEndTime: b.endTime,
		Status:          b.status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
