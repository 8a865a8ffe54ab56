package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/domain/values"
)

func nullMoney(m *values.Money) interface{} {
	if m == nil {
		return nil
	}
	return *m
}

func nullUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func parseMoney(amount, currency string) (values.Money, error) {
	return values.NewMoneyFromString(amount, currency)
}

// statusArray renders a Postgres array literal. Enum labels contain no
// characters that need quoting.
func statusArray(names []string) string {
	return "{" + strings.Join(names, ",") + "}"
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAuction reads one row in auctionColumns order. Prices come back as
// NUMERIC text and are rebuilt against the row's own currency.
func scanAuction(row rowScanner) (*auction.Auction, error) {
	var a auction.Auction
	var currency, statusStr string
	var startingStr, incrementStr string
	var reserveStr, currentStr, winningStr sql.NullString
	var highestBidderID, winnerID sql.NullString

	err := row.Scan(
		&a.ID, &a.SellerID, &a.Title, &a.Description, &a.Category, &currency,
		&startingStr, &incrementStr, &reserveStr,
		&currentStr, &highestBidderID, &a.HighestBidder, &a.TotalBids,
		&a.StartTime, &a.EndTime, &a.OriginalEndTime, &statusStr,
		&winnerID, &winningStr, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.StartingPrice, err = parseMoney(startingStr, currency)
	if err != nil {
		return nil, fmt.Errorf("bad starting_price: %w", err)
	}
	a.BidIncrement, err = parseMoney(incrementStr, currency)
	if err != nil {
		return nil, fmt.Errorf("bad bid_increment: %w", err)
	}
	if reserveStr.Valid {
		m, err := parseMoney(reserveStr.String, currency)
		if err != nil {
			return nil, fmt.Errorf("bad reserve_price: %w", err)
		}
		a.ReservePrice = &m
	}
	if currentStr.Valid {
		m, err := parseMoney(currentStr.String, currency)
		if err != nil {
			return nil, fmt.Errorf("bad current_bid: %w", err)
		}
		a.CurrentBid = &m
	}
	if winningStr.Valid {
		m, err := parseMoney(winningStr.String, currency)
		if err != nil {
			return nil, fmt.Errorf("bad winning_bid: %w", err)
		}
		a.WinningBid = &m
	}
	if highestBidderID.Valid {
		id, err := uuid.Parse(highestBidderID.String)
		if err != nil {
			return nil, fmt.Errorf("bad highest_bidder_id: %w", err)
		}
		a.HighestBidderID = &id
	}
	if winnerID.Valid {
		id, err := uuid.Parse(winnerID.String)
		if err != nil {
			return nil, fmt.Errorf("bad winner_id: %w", err)
		}
		a.WinnerID = &id
	}

	a.Status, err = auction.ParseStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("bad status: %w", err)
	}

	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	a.OriginalEndTime = a.OriginalEndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	return &a, nil
}
