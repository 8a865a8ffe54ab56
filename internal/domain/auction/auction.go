package auction

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/values"
)

// Auction is a time-boxed English-auction listing. Live bidding state
// (CurrentBid, HighestBidderID, TotalBids, EndTime) is owned by the hot store
// while the auction is running; the cold store mirror may lag behind it.
type Auction struct {
	ID              uuid.UUID     `json:"id"`
	SellerID        uuid.UUID     `json:"seller_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Category        string        `json:"category,omitempty"`
	StartingPrice   values.Money  `json:"starting_price"`
	BidIncrement    values.Money  `json:"bid_increment"`
	ReservePrice    *values.Money `json:"reserve_price,omitempty"`
	CurrentBid      *values.Money `json:"current_bid,omitempty"`
	HighestBidderID *uuid.UUID    `json:"highest_bidder_id,omitempty"`
	HighestBidder   string        `json:"highest_bidder,omitempty"`
	TotalBids       int64         `json:"total_bids"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	OriginalEndTime time.Time     `json:"original_end_time"`
	Status          Status        `json:"status"`
	WinnerID        *uuid.UUID    `json:"winner_id,omitempty"`
	WinningBid      *values.Money `json:"winning_bid,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type Status int

const (
	StatusDraft Status = iota
	StatusScheduled
	StatusActive
	StatusEnded
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusScheduled:
		return "scheduled"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus parses the lowercase wire/database form.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "draft":
		return StatusDraft, nil
	case "scheduled":
		return StatusScheduled, nil
	case "active":
		return StatusActive, nil
	case "ended":
		return StatusEnded, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusDraft, fmt.Errorf("unknown auction status: %q", s)
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsFinal reports whether no further state transitions are allowed.
func (s Status) IsFinal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// NewAuction builds a draft listing. Times are normalized to UTC and
// truncated to millisecond precision, the resolution used on the wire and in
// the hot store.
func NewAuction(sellerID uuid.UUID, title, description, category string, startingPrice, bidIncrement values.Money, reservePrice *values.Money, startTime, endTime time.Time) (*Auction, error) {
	if sellerID == uuid.Nil {
		return nil, fmt.Errorf("seller id is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if !startingPrice.IsPositive() {
		return nil, fmt.Errorf("starting price must be positive")
	}
	if !bidIncrement.IsPositive() {
		return nil, fmt.Errorf("bid increment must be positive")
	}
	if startingPrice.Currency() != bidIncrement.Currency() {
		return nil, fmt.Errorf("starting price and bid increment currencies differ")
	}
	if reservePrice != nil && reservePrice.Currency() != startingPrice.Currency() {
		return nil, fmt.Errorf("reserve price currency differs")
	}
	start := startTime.UTC().Truncate(time.Millisecond)
	end := endTime.UTC().Truncate(time.Millisecond)
	if !end.After(start) {
		return nil, fmt.Errorf("end time must be after start time")
	}

	now := time.Now().UTC()
	return &Auction{
		ID:              uuid.New(),
		SellerID:        sellerID,
		Title:           strings.TrimSpace(title),
		Description:     description,
		Category:        strings.TrimSpace(category),
		StartingPrice:   startingPrice,
		BidIncrement:    bidIncrement,
		ReservePrice:    reservePrice,
		StartTime:       start,
		EndTime:         end,
		OriginalEndTime: end,
		Status:          StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Schedule moves a draft to scheduled.
func (a *Auction) Schedule() error {
	if a.Status != StatusDraft {
		return fmt.Errorf("cannot schedule auction in status %s", a.Status)
	}
	a.Status = StatusScheduled
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Activate opens the auction for bidding.
func (a *Auction) Activate() error {
	if a.Status != StatusDraft && a.Status != StatusScheduled {
		return fmt.Errorf("cannot activate auction in status %s", a.Status)
	}
	a.Status = StatusActive
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// End closes the auction with the winning state. Idempotent callers must
// check Status first; calling End twice is a programming error.
func (a *Auction) End(winnerID *uuid.UUID, winningBid *values.Money, endedAt time.Time) error {
	if a.Status != StatusActive {
		return fmt.Errorf("cannot end auction in status %s", a.Status)
	}
	a.Status = StatusEnded
	a.WinnerID = winnerID
	a.WinningBid = winningBid
	a.EndTime = endedAt.UTC().Truncate(time.Millisecond)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel administratively withdraws the listing.
func (a *Auction) Cancel() error {
	if a.Status.IsFinal() {
		return fmt.Errorf("cannot cancel auction in status %s", a.Status)
	}
	a.Status = StatusCancelled
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// MinimumNextBid is the lowest admissible bid: the starting price while the
// auction has no bids, the current bid plus one increment after that. Ties
// with the current bid are below the minimum and therefore rejected.
func (a *Auction) MinimumNextBid() values.Money {
	if a.TotalBids == 0 || a.CurrentBid == nil {
		return a.StartingPrice
	}
	next, err := a.CurrentBid.Add(a.BidIncrement)
	if err != nil {
		// Currencies are validated at construction; mixed currency here is a bug.
		return a.StartingPrice
	}
	return next
}

// IsOpenAt reports whether bids are admissible at t.
func (a *Auction) IsOpenAt(t time.Time) bool {
	return a.Status == StatusActive && t.Before(a.EndTime)
}

// WasExtended reports whether anti-sniping moved the deadline.
func (a *Auction) WasExtended() bool {
	return a.EndTime.After(a.OriginalEndTime)
}

// ReserveMet reports whether the current bid covers the reserve price.
// Auctions without a reserve always satisfy it.
func (a *Auction) ReserveMet() bool {
	if a.ReservePrice == nil {
		return true
	}
	if a.CurrentBid == nil {
		return false
	}
	return a.CurrentBid.GreaterThanOrEqual(*a.ReservePrice)
}
