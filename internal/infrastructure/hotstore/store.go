package hotstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openlot/live-auction-backend/internal/infrastructure/config"
)

const (
	auctionKeyPrefix   = "auction:"
	bidsKeySuffix      = ":bids"
	activeIndexKey     = "auctions:active"
	rateLimitKeyPrefix = "ratelimit:bid:"
)

// ErrAuctionNotInHotStore reports that the auction record is not resident,
// either because it was never hydrated or because its TTL fired.
var ErrAuctionNotInHotStore = errors.New("auction not in hot store")

// Store is the Redis-backed live state of running auctions. Every mutation
// runs as a Lua script keyed on the auction hash, so concurrent bids on one
// auction serialize inside Redis while different auctions proceed in
// parallel.
type Store struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
}

// NewClient builds the shared Redis client used by the hot store, the fan-out
// bus and the job queue.
func NewClient(cfg *config.HotConfig) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("hot store config is required")
	}

	opts := &redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// NewStore wraps an already-connected client. retention controls how long
// finished auction records stay readable before their keys expire.
func NewStore(client *redis.Client, retention time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:    client,
		retention: retention,
		logger:    logger,
	}
}

// Client exposes the underlying connection for components that share it.
func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func auctionKey(id uuid.UUID) string { return auctionKeyPrefix + id.String() }

func bidsKey(id uuid.UUID) string { return auctionKey(id) + bidsKeySuffix }

func rateLimitKey(id uuid.UUID) string { return rateLimitKeyPrefix + id.String() }

// PlaceBidOutcome enumerates the terminal states of the place-bid procedure.
type PlaceBidOutcome int

const (
	PlaceBidAccepted PlaceBidOutcome = iota
	PlaceBidNotFound
	PlaceBidNotActive
	PlaceBidEnded
	PlaceBidSeller
	PlaceBidTooLow
)

// PlaceBidCommand carries one admission-validated bid into the store.
// ServerTime is stamped by the caller so the same instant appears in the
// receipt, the bid fact and the published event.
type PlaceBidCommand struct {
	AuctionID  uuid.UUID
	BidID      uuid.UUID
	BidderID   uuid.UUID
	BidderName string
	Amount     int64 // cents
	ServerTime time.Time
}

// PlaceBidReceipt is the script reply, decoded. Which fields are meaningful
// depends on Outcome: TooLow fills CurrentBid/MinimumBid, Accepted fills
// PreviousBid/PreviousBidder/TotalBids/EndTime, NotActive fills Status.
type PlaceBidReceipt struct {
	Outcome        PlaceBidOutcome
	Status         string
	CurrentBid     int64
	MinimumBid     int64
	IsFirstBid     bool
	PreviousBid    int64
	PreviousBidder string
	TotalBids      int64
	EndTime        time.Time
}

// PlaceBid runs the atomic bid procedure against the live record.
func (s *Store) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*PlaceBidReceipt, error) {
	keys := []string{auctionKey(cmd.AuctionID), bidsKey(cmd.AuctionID), activeIndexKey}
	args := []interface{}{
		cmd.BidderID.String(),
		cmd.BidderName,
		cmd.Amount,
		cmd.ServerTime.UnixMilli(),
		cmd.BidID.String(),
		s.retention.Milliseconds(),
	}

	reply, err := placeBidScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis place bid failed: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("redis place bid returned empty reply")
	}

	receipt := &PlaceBidReceipt{}
	switch tag := replyString(reply[0]); tag {
	case "OK":
		if len(reply) < 6 {
			return nil, fmt.Errorf("redis place bid returned short OK reply: %d elements", len(reply))
		}
		receipt.Outcome = PlaceBidAccepted
		receipt.PreviousBid = replyInt(reply[1])
		receipt.PreviousBidder = replyString(reply[2])
		receipt.TotalBids = replyInt(reply[3])
		receipt.EndTime = time.UnixMilli(replyInt(reply[4])).UTC()
		receipt.IsFirstBid = replyInt(reply[5]) == 1
	case "TOO_LOW":
		if len(reply) < 4 {
			return nil, fmt.Errorf("redis place bid returned short TOO_LOW reply: %d elements", len(reply))
		}
		receipt.Outcome = PlaceBidTooLow
		receipt.CurrentBid = replyInt(reply[1])
		receipt.MinimumBid = replyInt(reply[2])
		receipt.IsFirstBid = replyInt(reply[3]) == 1
	case "NOT_FOUND":
		receipt.Outcome = PlaceBidNotFound
	case "ENDED":
		receipt.Outcome = PlaceBidEnded
	case "SELLER":
		receipt.Outcome = PlaceBidSeller
	case "NOT_ACTIVE":
		receipt.Outcome = PlaceBidNotActive
		if len(reply) > 1 {
			receipt.Status = replyString(reply[1])
		}
	default:
		return nil, fmt.Errorf("redis place bid returned unknown tag %q", tag)
	}

	return receipt, nil
}

// ExtendReceipt reports the anti-snipe decision for one accepted bid.
type ExtendReceipt struct {
	Extended   bool
	OldEndTime time.Time
	NewEndTime time.Time
	// EndTime holds the unchanged deadline when no extension applied.
	EndTime time.Time
}

// ExtendIfEndingSoon pushes the deadline out by duration when the bid landed
// inside the closing threshold. The store re-reads its own end_time, so the
// caller needs no fencing against concurrent extensions.
func (s *Store) ExtendIfEndingSoon(ctx context.Context, auctionID uuid.UUID, serverTime time.Time, threshold, duration time.Duration) (*ExtendReceipt, error) {
	keys := []string{auctionKey(auctionID), activeIndexKey, bidsKey(auctionID)}
	args := []interface{}{
		serverTime.UnixMilli(),
		threshold.Milliseconds(),
		duration.Milliseconds(),
		s.retention.Milliseconds(),
		auctionID.String(),
	}

	reply, err := extendDeadlineScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis extend deadline failed: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("redis extend deadline returned empty reply")
	}

	switch tag := replyString(reply[0]); tag {
	case "YES":
		if len(reply) < 3 {
			return nil, fmt.Errorf("redis extend deadline returned short YES reply: %d elements", len(reply))
		}
		return &ExtendReceipt{
			Extended:   true,
			OldEndTime: time.UnixMilli(replyInt(reply[1])).UTC(),
			NewEndTime: time.UnixMilli(replyInt(reply[2])).UTC(),
		}, nil
	case "NO":
		r := &ExtendReceipt{}
		if len(reply) > 1 {
			r.EndTime = time.UnixMilli(replyInt(reply[1])).UTC()
		}
		return r, nil
	case "NOT_FOUND", "NOT_ACTIVE":
		// The record ended or vanished between the bid and this call.
		// Nothing to extend either way.
		return &ExtendReceipt{}, nil
	default:
		return nil, fmt.Errorf("redis extend deadline returned unknown tag %q", tag)
	}
}

// FinalizeOutcome enumerates the finalize procedure's replies.
type FinalizeOutcome int

const (
	FinalizeDone FinalizeOutcome = iota
	FinalizeAlreadyFinal
	FinalizeNotFound
)

// FinalizeReceipt carries the settlement read at the moment the record
// flipped to ended. WinnerID is Nil when the auction closed without bids.
type FinalizeReceipt struct {
	Outcome    FinalizeOutcome
	WinnerID   uuid.UUID
	WinnerName string
	WinningBid int64
	TotalBids  int64
	EndTime    time.Time
}

// Finalize flips the live record to ended. Exactly one caller per auction
// sees FinalizeDone; every later attempt sees FinalizeAlreadyFinal.
func (s *Store) Finalize(ctx context.Context, auctionID uuid.UUID, serverTime time.Time) (*FinalizeReceipt, error) {
	keys := []string{auctionKey(auctionID), activeIndexKey, bidsKey(auctionID)}
	args := []interface{}{
		serverTime.UnixMilli(),
		s.retention.Milliseconds(),
		auctionID.String(),
	}

	reply, err := finalizeAuctionScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis finalize failed: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("redis finalize returned empty reply")
	}

	switch tag := replyString(reply[0]); tag {
	case "OK":
		if len(reply) < 6 {
			return nil, fmt.Errorf("redis finalize returned short OK reply: %d elements", len(reply))
		}
		receipt := &FinalizeReceipt{
			Outcome:    FinalizeDone,
			WinnerName: replyString(reply[2]),
			WinningBid: replyInt(reply[3]),
			TotalBids:  replyInt(reply[4]),
			EndTime:    time.UnixMilli(replyInt(reply[5])).UTC(),
		}
		if raw := replyString(reply[1]); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("redis finalize returned bad winner id %q: %w", raw, err)
			}
			receipt.WinnerID = id
		}
		return receipt, nil
	case "ALREADY":
		return &FinalizeReceipt{Outcome: FinalizeAlreadyFinal}, nil
	case "NOT_FOUND":
		return &FinalizeReceipt{Outcome: FinalizeNotFound}, nil
	default:
		return nil, fmt.Errorf("redis finalize returned unknown tag %q", tag)
	}
}

// CancelOutcome enumerates the cancel procedure's replies.
type CancelOutcome int

const (
	CancelDone CancelOutcome = iota
	CancelAlreadyFinal
	CancelNotFound
)

// CancelReceipt reports the cancel decision. TotalBids is read at the moment
// of cancellation, for the closing announcement.
type CancelReceipt struct {
	Outcome   CancelOutcome
	TotalBids int64
}

// Cancel marks the live record cancelled. Idempotent under the same
// exactly-once contract as Finalize.
func (s *Store) Cancel(ctx context.Context, auctionID uuid.UUID, serverTime time.Time) (*CancelReceipt, error) {
	keys := []string{auctionKey(auctionID), activeIndexKey}
	args := []interface{}{
		auctionID.String(),
		serverTime.UnixMilli(),
		s.retention.Milliseconds(),
	}

	reply, err := cancelAuctionScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis cancel failed: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("redis cancel returned empty reply")
	}

	switch tag := replyString(reply[0]); tag {
	case "OK":
		receipt := &CancelReceipt{Outcome: CancelDone}
		if len(reply) > 1 {
			receipt.TotalBids = replyInt(reply[1])
		}
		return receipt, nil
	case "ALREADY":
		return &CancelReceipt{Outcome: CancelAlreadyFinal}, nil
	case "NOT_FOUND":
		return &CancelReceipt{Outcome: CancelNotFound}, nil
	default:
		return nil, fmt.Errorf("redis cancel returned unknown tag %q", tag)
	}
}

// Install hydrates the live record if and only if it is absent. Returns
// true when this call created the record. Bid history is not restored;
// the cold store remains the source of full history after an eviction.
func (s *Store) Install(ctx context.Context, state *AuctionState) (bool, error) {
	keys := []string{auctionKey(state.ID), activeIndexKey, bidsKey(state.ID)}

	currentBid := ""
	if state.TotalBids > 0 {
		currentBid = strconv.FormatInt(state.CurrentBid, 10)
	}
	reserve := ""
	if state.ReservePrice > 0 {
		reserve = strconv.FormatInt(state.ReservePrice, 10)
	}

	args := []interface{}{
		state.ID.String(),
		state.SellerID.String(),
		state.Title,
		state.Currency,
		state.StartingPrice,
		state.BidIncrement,
		reserve,
		currentBid,
		state.HighestBidderID,
		state.HighestBidderName,
		state.TotalBids,
		state.StartTime.UnixMilli(),
		state.EndTime.UnixMilli(),
		state.OriginalEndTime.UnixMilli(),
		state.Status,
		s.retention.Milliseconds(),
	}

	installed, err := installAuctionScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis install auction failed: %w", err)
	}
	if installed == 1 {
		s.logger.Info("auction hydrated into hot store",
			zap.String("auction_id", state.ID.String()),
			zap.String("status", state.Status),
		)
	}
	return installed == 1, nil
}

// GetAuction reads the live record. Returns ErrAuctionNotInHotStore when the
// key is absent.
func (s *Store) GetAuction(ctx context.Context, auctionID uuid.UUID) (*AuctionState, error) {
	fields, err := s.client.HGetAll(ctx, auctionKey(auctionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get auction failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrAuctionNotInHotStore
	}
	state, err := auctionStateFromHash(auctionID, fields)
	if err != nil {
		return nil, fmt.Errorf("redis auction record %s is malformed: %w", auctionID, err)
	}
	return state, nil
}

// RecentBids returns up to limit history entries, highest amount first.
// Prices only move up, so amount order is also recency order.
func (s *Store) RecentBids(ctx context.Context, auctionID uuid.UUID, limit int64) ([]BidEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := s.client.ZRevRange(ctx, bidsKey(auctionID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get bid history failed: %w", err)
	}

	entries := make([]BidEntry, 0, len(raw))
	for _, member := range raw {
		var e bidEntryWire
		if err := json.Unmarshal([]byte(member), &e); err != nil {
			return nil, fmt.Errorf("redis bid history entry is malformed: %w", err)
		}
		entry, err := e.toBidEntry()
		if err != nil {
			return nil, fmt.Errorf("redis bid history entry is malformed: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DueAuctionIDs lists active auctions whose deadline is at or before asOf.
// The sweep uses this to catch deadlines whose in-process timer was lost.
func (s *Store) DueAuctionIDs(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	members, err := s.client.ZRangeByScore(ctx, activeIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(asOf.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis due auctions failed: %w", err)
	}
	return parseIDs(members)
}

// ActiveAuctions returns every indexed auction with its current deadline,
// soonest first. Boot resync seeds its timers from this.
func (s *Store) ActiveAuctions(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	members, err := s.client.ZRangeWithScores(ctx, activeIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis active auctions failed: %w", err)
	}
	out := make(map[uuid.UUID]time.Time, len(members))
	for _, m := range members {
		raw, ok := m.Member.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn("skipping malformed member in active index", zap.String("member", raw))
			continue
		}
		out[id] = time.UnixMilli(int64(m.Score)).UTC()
	}
	return out, nil
}

// RemoveFromActiveIndex drops an auction from the deadline index. Used when
// the index references a record that no longer exists anywhere.
func (s *Store) RemoveFromActiveIndex(ctx context.Context, auctionID uuid.UUID) error {
	if err := s.client.ZRem(ctx, activeIndexKey, auctionID.String()).Err(); err != nil {
		return fmt.Errorf("redis remove from active index failed: %w", err)
	}
	return nil
}

// TryAcquireBidGate claims the per-bidder rate slot. Returns false while a
// previous claim is still inside its window.
func (s *Store) TryAcquireBidGate(ctx context.Context, bidderID uuid.UUID, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, rateLimitKey(bidderID), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("redis bid gate failed: %w", err)
	}
	return ok, nil
}

func parseIDs(members []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("malformed auction id %q in index: %w", m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// replyString tolerates Redis returning either bulk strings or integers
// inside script replies.
func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func replyInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	default:
		return 0
	}
}
