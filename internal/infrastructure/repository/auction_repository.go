package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
	"github.com/openlot/live-auction-backend/internal/domain/values"
)

// dbtx is the slice of database/sql both *sql.DB and *sql.Tx satisfy.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// AuctionRepository persists auctions in Postgres. Rows here are the durable
// record; while an auction runs, the bid-mutable columns are a mirror of hot
// state and every mirror write is guarded so replayed or reordered jobs
// cannot walk the row backwards.
type AuctionRepository struct {
	db dbtx
}

func NewAuctionRepository(db *sql.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

const auctionColumns = `
	id, seller_id, title, description, category, currency,
	starting_price, bid_increment, reserve_price,
	current_bid, highest_bidder_id, highest_bidder_name, total_bids,
	start_time, end_time, original_end_time, status,
	winner_id, winning_bid, created_at, updated_at
`

// Create inserts a new auction row.
func (r *AuctionRepository) Create(ctx context.Context, a *auction.Auction) error {
	if a.ID == uuid.Nil {
		return errors.New("auction id cannot be nil")
	}
	if a.SellerID == uuid.Nil {
		return errors.New("seller_id cannot be nil")
	}

	query := `
		INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.SellerID, a.Title, a.Description, a.Category, a.StartingPrice.Currency(),
		a.StartingPrice, a.BidIncrement, nullMoney(a.ReservePrice),
		nullMoney(a.CurrentBid), nullUUID(a.HighestBidderID), a.HighestBidder, a.TotalBids,
		a.StartTime, a.EndTime, a.OriginalEndTime, a.Status.String(),
		nullUUID(a.WinnerID), nullMoney(a.WinningBid), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

// GetByID retrieves one auction.
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	a, err := scanAuction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

// ListFilter narrows List. Zero values mean "no filter".
type ListFilter struct {
	Status   *auction.Status
	Category string
	Limit    int
	Offset   int
}

// List returns auctions matching the filter, ordered by deadline so "ending
// soonest" comes first.
func (r *AuctionRepository) List(ctx context.Context, filter ListFilter) ([]*auction.Auction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var conds []string
	var args []interface{}
	if filter.Status != nil {
		args = append(args, filter.Status.String())
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY end_time ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auctions: %w", err)
	}
	return auctions, nil
}

// ListByStatuses returns every auction in any of the given states, used by
// boot resync to find rows that claim to be running.
func (r *AuctionRepository) ListByStatuses(ctx context.Context, statuses ...auction.Status) ([]*auction.Auction, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = s.String()
	}

	// pq.Array would also serve here, but ANY($1::auction_status[]) keeps
	// the driver surface identical between lib/pq and pgx stdlib.
	query := `SELECT ` + auctionColumns + `
		FROM auctions WHERE status = ANY($1::auction_status[])
		ORDER BY end_time ASC`

	rows, err := r.db.QueryContext(ctx, query, statusArray(names))
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions by status: %w", err)
	}
	defer rows.Close()

	var auctions []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auctions: %w", err)
	}
	return auctions, nil
}

// Update rewrites the mutable descriptive and lifecycle columns. Used by the
// catalog for schedule/activate transitions, not by the bid path.
func (r *AuctionRepository) Update(ctx context.Context, a *auction.Auction) error {
	query := `
		UPDATE auctions SET
			title = $2,
			description = $3,
			category = $4,
			reserve_price = $5,
			start_time = $6,
			end_time = $7,
			original_end_time = $8,
			status = $9,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, a.Title, a.Description, a.Category, nullMoney(a.ReservePrice),
		a.StartTime, a.EndTime, a.OriginalEndTime, a.Status.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrAuctionNotFound
	}
	return nil
}

// ApplyBidMirror copies an accepted bid's aggregate effect onto the auction
// row. The total_bids guard makes replays and out-of-order applies no-ops:
// only a strictly newer aggregate can land.
func (r *AuctionRepository) ApplyBidMirror(ctx context.Context, id uuid.UUID, currentBid values.Money, bidderID uuid.UUID, bidderName string, totalBids int64) (bool, error) {
	query := `
		UPDATE auctions SET
			current_bid = $2,
			highest_bidder_id = $3,
			highest_bidder_name = $4,
			total_bids = $5,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND total_bids < $5
	`

	result, err := r.db.ExecContext(ctx, query, id, currentBid, bidderID, bidderName, totalBids)
	if err != nil {
		return false, fmt.Errorf("failed to mirror bid: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ApplyDeadlineMirror copies an extension onto the auction row. Deadlines
// only move forward, so the end_time guard is the replay protection.
func (r *AuctionRepository) ApplyDeadlineMirror(ctx context.Context, id uuid.UUID, newEnd time.Time) (bool, error) {
	query := `
		UPDATE auctions SET
			end_time = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND end_time < $2
	`

	result, err := r.db.ExecContext(ctx, query, id, newEnd)
	if err != nil {
		return false, fmt.Errorf("failed to mirror deadline: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkEnded writes the hot store's settlement onto the row. Returns whether
// this call made the transition; an already-final row is left untouched.
func (r *AuctionRepository) MarkEnded(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, winnerName string, winningBid *values.Money, totalBids int64, endTime time.Time) (bool, error) {
	query := `
		UPDATE auctions SET
			status = 'ended',
			winner_id = $2,
			winning_bid = $3,
			current_bid = COALESCE($3, current_bid),
			highest_bidder_id = COALESCE($2, highest_bidder_id),
			highest_bidder_name = CASE WHEN $4 = '' THEN highest_bidder_name ELSE $4 END,
			total_bids = GREATEST(total_bids, $5),
			end_time = $6,
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('ended', 'cancelled')
	`

	result, err := r.db.ExecContext(ctx, query,
		id, nullUUID(winnerID), nullMoney(winningBid), winnerName, totalBids, endTime,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark auction ended: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkCancelled flips the row to cancelled unless it already settled.
func (r *AuctionRepository) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE auctions SET
			status = 'cancelled',
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('ended', 'cancelled')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark auction cancelled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ColdSettlement is the outcome computed from durable bids when an auction
// must be settled without its hot record.
type ColdSettlement struct {
	WinnerID   uuid.UUID // Nil when the auction closed without bids
	WinnerName string
	WinningBid *values.Money
	TotalBids  int64
	EndTime    time.Time
}

// FinalizeFromCold settles an auction from the durable bid log. This is the
// fallback for auctions whose hot record was evicted before finalization: the
// highest recorded bid wins, ties (which the admission rules forbid anyway)
// break to the earliest. The status guard keeps the transition unique; the
// second return reports whether this call made it.
func (r *AuctionRepository) FinalizeFromCold(ctx context.Context, id uuid.UUID) (*ColdSettlement, bool, error) {
	query := `
		UPDATE auctions a SET
			status = 'ended',
			winner_id = top.bidder_id,
			winning_bid = top.amount,
			current_bid = COALESCE(top.amount, a.current_bid),
			highest_bidder_id = COALESCE(top.bidder_id, a.highest_bidder_id),
			highest_bidder_name = COALESCE(top.bidder_name, a.highest_bidder_name),
			total_bids = (SELECT COUNT(*) FROM bids WHERE auction_id = a.id),
			updated_at = NOW()
		FROM (SELECT 1) AS one
		LEFT JOIN LATERAL (
			SELECT bidder_id, bidder_name, amount
			FROM bids
			WHERE auction_id = $1
			ORDER BY amount DESC, created_at ASC
			LIMIT 1
		) AS top ON TRUE
		WHERE a.id = $1 AND a.status = 'active'
		RETURNING a.winner_id, a.highest_bidder_name, a.winning_bid, a.total_bids, a.end_time, a.currency
	`

	var winnerID sql.NullString
	var winnerName string
	var winningBid sql.NullString
	var totalBids int64
	var endTime time.Time
	var currency string

	err := r.db.QueryRowContext(ctx, query, id).Scan(&winnerID, &winnerName, &winningBid, &totalBids, &endTime, &currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to finalize auction from cold store: %w", err)
	}

	settlement := &ColdSettlement{TotalBids: totalBids, EndTime: endTime.UTC()}
	if winnerID.Valid {
		wid, err := uuid.Parse(winnerID.String)
		if err != nil {
			return nil, false, fmt.Errorf("bad winner id %q: %w", winnerID.String, err)
		}
		settlement.WinnerID = wid
		settlement.WinnerName = winnerName
	}
	if winningBid.Valid {
		m, err := parseMoney(winningBid.String, currency)
		if err != nil {
			return nil, false, fmt.Errorf("bad winning bid: %w", err)
		}
		settlement.WinningBid = &m
	}
	return settlement, true, nil
}
