package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
)

// BidRepository persists accepted bids. The table is append-only: bids are
// immutable facts, and the persist job may deliver the same fact more than
// once, so inserts are keyed on the bid id and duplicates are swallowed.
type BidRepository struct {
	db dbtx
}

func NewBidRepository(db *sql.DB) *BidRepository {
	return &BidRepository{db: db}
}

// Create appends one accepted bid. Replays of the same bid id are no-ops.
func (r *BidRepository) Create(ctx context.Context, b *auction.Bid) error {
	if b.ID == uuid.Nil {
		return errors.New("bid id cannot be nil")
	}
	if b.AuctionID == uuid.Nil {
		return errors.New("auction_id cannot be nil")
	}
	if b.BidderID == uuid.Nil {
		return errors.New("bidder_id cannot be nil")
	}

	query := `
		INSERT INTO bids (
			id, auction_id, bidder_id, bidder_name,
			amount, previous_bid, server_time, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.BidderName,
		b.Amount, nullMoney(b.PreviousBid), b.ServerTime, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bid: %w", err)
	}
	return nil
}

// ListByAuction returns an auction's bids, highest first. Amounts are
// strictly increasing per auction so this is also newest first.
func (r *BidRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auction.Bid, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT b.id, b.auction_id, b.bidder_id, b.bidder_name,
			b.amount, b.previous_bid, b.server_time, b.created_at,
			a.currency
		FROM bids b
		JOIN auctions a ON a.id = b.auction_id
		WHERE b.auction_id = $1
		ORDER BY b.amount DESC, b.created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []*auction.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}
	return bids, nil
}

// CountByAuction reports how many bids the durable log holds for an auction.
func (r *BidRepository) CountByAuction(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return count, nil
}

func scanBid(row rowScanner) (*auction.Bid, error) {
	var b auction.Bid
	var amountStr string
	var previousStr sql.NullString
	var currency string

	err := row.Scan(
		&b.ID, &b.AuctionID, &b.BidderID, &b.BidderName,
		&amountStr, &previousStr, &b.ServerTime, &b.CreatedAt,
		&currency,
	)
	if err != nil {
		return nil, err
	}

	b.Amount, err = parseMoney(amountStr, currency)
	if err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	if previousStr.Valid {
		m, err := parseMoney(previousStr.String, currency)
		if err != nil {
			return nil, fmt.Errorf("bad previous_bid: %w", err)
		}
		b.PreviousBid = &m
	}

	b.ServerTime = b.ServerTime.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}
