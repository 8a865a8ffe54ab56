package hotstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/domain/values"
)

// AuctionState is the flat, hot-store shape of an auction: integer cents,
// millisecond times, string status. Conversions at this boundary keep the
// domain entity free of Redis encoding concerns.
type AuctionState struct {
	ID                uuid.UUID
	SellerID          uuid.UUID
	Title             string
	Currency          string
	StartingPrice     int64
	BidIncrement      int64
	ReservePrice      int64 // 0 means no reserve
	CurrentBid        int64 // meaningful only when TotalBids > 0
	HighestBidderID   string
	HighestBidderName string
	TotalBids         int64
	StartTime         time.Time
	EndTime           time.Time
	OriginalEndTime   time.Time
	Status            string
}

// StateFromAuction flattens a domain auction for installation.
func StateFromAuction(a *auction.Auction) *AuctionState {
	state := &AuctionState{
		ID:              a.ID,
		SellerID:        a.SellerID,
		Title:           a.Title,
		Currency:        a.StartingPrice.Currency(),
		StartingPrice:   a.StartingPrice.ToCents(),
		BidIncrement:    a.BidIncrement.ToCents(),
		TotalBids:       a.TotalBids,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		OriginalEndTime: a.OriginalEndTime,
		Status:          a.Status.String(),
	}
	if a.ReservePrice != nil {
		state.ReservePrice = a.ReservePrice.ToCents()
	}
	if a.CurrentBid != nil {
		state.CurrentBid = a.CurrentBid.ToCents()
	}
	if a.HighestBidderID != nil {
		state.HighestBidderID = a.HighestBidderID.String()
	}
	state.HighestBidderName = a.HighestBidder
	return state
}

// ToAuction rebuilds the domain entity from hot state. The cold store owns
// CreatedAt/UpdatedAt, so those stay zero here.
func (s *AuctionState) ToAuction() (*auction.Auction, error) {
	status, err := auction.ParseStatus(s.Status)
	if err != nil {
		return nil, err
	}

	starting, err := values.NewMoneyFromCents(s.StartingPrice, s.Currency)
	if err != nil {
		return nil, fmt.Errorf("bad starting price: %w", err)
	}
	increment, err := values.NewMoneyFromCents(s.BidIncrement, s.Currency)
	if err != nil {
		return nil, fmt.Errorf("bad bid increment: %w", err)
	}

	a := &auction.Auction{
		ID:              s.ID,
		SellerID:        s.SellerID,
		Title:           s.Title,
		StartingPrice:   starting,
		BidIncrement:    increment,
		HighestBidder:   s.HighestBidderName,
		TotalBids:       s.TotalBids,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		OriginalEndTime: s.OriginalEndTime,
		Status:          status,
	}

	if s.ReservePrice > 0 {
		reserve, err := values.NewMoneyFromCents(s.ReservePrice, s.Currency)
		if err != nil {
			return nil, fmt.Errorf("bad reserve price: %w", err)
		}
		a.ReservePrice = &reserve
	}
	if s.TotalBids > 0 {
		current, err := values.NewMoneyFromCents(s.CurrentBid, s.Currency)
		if err != nil {
			return nil, fmt.Errorf("bad current bid: %w", err)
		}
		a.CurrentBid = &current
	}
	if s.HighestBidderID != "" {
		id, err := uuid.Parse(s.HighestBidderID)
		if err != nil {
			return nil, fmt.Errorf("bad highest bidder id: %w", err)
		}
		a.HighestBidderID = &id
	}

	return a, nil
}

func auctionStateFromHash(id uuid.UUID, fields map[string]string) (*AuctionState, error) {
	sellerID, err := uuid.Parse(fields["seller_id"])
	if err != nil {
		return nil, fmt.Errorf("bad seller_id: %w", err)
	}

	state := &AuctionState{
		ID:                id,
		SellerID:          sellerID,
		Title:             fields["title"],
		Currency:          fields["currency"],
		HighestBidderID:   fields["highest_bidder_id"],
		HighestBidderName: fields["highest_bidder_name"],
		Status:            fields["status"],
	}

	numeric := []struct {
		field string
		dst   *int64
	}{
		{"starting_price", &state.StartingPrice},
		{"bid_increment", &state.BidIncrement},
		{"reserve_price", &state.ReservePrice},
		{"current_bid", &state.CurrentBid},
		{"total_bids", &state.TotalBids},
	}
	for _, n := range numeric {
		raw := fields[n.field]
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s %q: %w", n.field, raw, err)
		}
		*n.dst = v
	}

	times := []struct {
		field string
		dst   *time.Time
	}{
		{"start_time", &state.StartTime},
		{"end_time", &state.EndTime},
		{"original_end_time", &state.OriginalEndTime},
	}
	for _, tf := range times {
		raw := fields[tf.field]
		if raw == "" {
			return nil, fmt.Errorf("missing %s", tf.field)
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s %q: %w", tf.field, raw, err)
		}
		*tf.dst = time.UnixMilli(ms).UTC()
	}

	return state, nil
}

// BidEntry is one bid-history record as stored in the per-auction zset.
type BidEntry struct {
	BidID       uuid.UUID
	BidderID    uuid.UUID
	BidderName  string
	Amount      int64
	PreviousBid *int64
	ServerTime  time.Time
}

// bidEntryWire matches the cjson encoding written by the place-bid script.
// Numbers decode as float64 because Lua has a single number type; cents and
// epoch millis stay well inside float64's exact-integer range.
type bidEntryWire struct {
	BidID       string   `json:"bid_id"`
	BidderID    string   `json:"bidder_id"`
	BidderName  string   `json:"bidder_name"`
	Amount      float64  `json:"amount"`
	PreviousBid *float64 `json:"previous_bid"`
	ServerTime  float64  `json:"server_time"`
}

func (w bidEntryWire) toBidEntry() (BidEntry, error) {
	bidID, err := uuid.Parse(w.BidID)
	if err != nil {
		return BidEntry{}, fmt.Errorf("bad bid_id: %w", err)
	}
	bidderID, err := uuid.Parse(w.BidderID)
	if err != nil {
		return BidEntry{}, fmt.Errorf("bad bidder_id: %w", err)
	}
	entry := BidEntry{
		BidID:      bidID,
		BidderID:   bidderID,
		BidderName: w.BidderName,
		Amount:     int64(w.Amount),
		ServerTime: time.UnixMilli(int64(w.ServerTime)).UTC(),
	}
	if w.PreviousBid != nil {
		prev := int64(*w.PreviousBid)
		entry.PreviousBid = &prev
	}
	return entry, nil
}
