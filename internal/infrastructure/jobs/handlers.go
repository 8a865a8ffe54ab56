package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/domain/values"
)

// Handlers are constructed against small write interfaces so the queue
// wiring depends on behavior, not on concrete repositories; cmd/api binds
// the real implementations.

// PersistBidPayload carries the complete bid fact.
type PersistBidPayload struct {
	Bid auction.Bid `json:"bid"`
}

// NewPersistBidJob schedules the durable write for an accepted bid. The
// natural id makes a double enqueue of the same bid collapse; the bid id
// primary key makes a redelivered write a no-op.
func NewPersistBidJob(bid *auction.Bid) (Job, error) {
	return NewJob(QueuePersistBid, "bid:"+bid.ID.String(), PersistBidPayload{Bid: *bid})
}

// BidWriter is the slice of BidRepository the persist handler needs.
type BidWriter interface {
	Create(ctx context.Context, b *auction.Bid) error
}

func PersistBidHandler(bids BidWriter) HandlerFunc {
	return func(ctx context.Context, job Job) error {
		var p PersistBidPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode persist-bid payload failed: %w", err)
		}
		return bids.Create(ctx, &p.Bid)
	}
}

// MirrorPayload updates the cold mirror of live auction state. A payload
// carries either the leading-bid fields or a new deadline; both writes are
// guarded in SQL so stale replays never move the mirror backwards.
type MirrorPayload struct {
	AuctionID  uuid.UUID     `json:"auction_id"`
	CurrentBid *values.Money `json:"current_bid,omitempty"`
	BidderID   *uuid.UUID    `json:"bidder_id,omitempty"`
	BidderName string        `json:"bidder_name,omitempty"`
	TotalBids  int64         `json:"total_bids,omitempty"`
	NewEndTime int64         `json:"new_end_time,omitempty"`
}

// NewBidMirrorJob mirrors the leading bid after acceptance. The id includes
// the bid count, so each accepted bid produces exactly one mirror job and
// retries of the same count coalesce.
func NewBidMirrorJob(auctionID uuid.UUID, currentBid values.Money, bidderID uuid.UUID, bidderName string, totalBids int64) (Job, error) {
	id := fmt.Sprintf("auction-mirror:%s:%d", auctionID, totalBids)
	return NewJob(QueueUpdateMirror, id, MirrorPayload{
		AuctionID:  auctionID,
		CurrentBid: &currentBid,
		BidderID:   &bidderID,
		BidderName: bidderName,
		TotalBids:  totalBids,
	})
}

// NewDeadlineMirrorJob mirrors an anti-snipe extension.
func NewDeadlineMirrorJob(auctionID uuid.UUID, newEnd time.Time) (Job, error) {
	id := fmt.Sprintf("auction-mirror:%s:end:%d", auctionID, newEnd.UnixMilli())
	return NewJob(QueueUpdateMirror, id, MirrorPayload{
		AuctionID:  auctionID,
		NewEndTime: newEnd.UnixMilli(),
	})
}

// MirrorWriter is the slice of AuctionRepository the mirror handler needs.
type MirrorWriter interface {
	ApplyBidMirror(ctx context.Context, id uuid.UUID, currentBid values.Money, bidderID uuid.UUID, bidderName string, totalBids int64) (bool, error)
	ApplyDeadlineMirror(ctx context.Context, id uuid.UUID, newEnd time.Time) (bool, error)
}

func UpdateMirrorHandler(auctions MirrorWriter, logger *zap.Logger) HandlerFunc {
	return func(ctx context.Context, job Job) error {
		var p MirrorPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode mirror payload failed: %w", err)
		}

		if p.CurrentBid != nil && p.BidderID != nil {
			applied, err := auctions.ApplyBidMirror(ctx, p.AuctionID, *p.CurrentBid, *p.BidderID, p.BidderName, p.TotalBids)
			if err != nil {
				return err
			}
			if !applied {
				// A later bid already moved the mirror past this count.
				logger.Debug("stale bid mirror skipped",
					zap.String("auction_id", p.AuctionID.String()),
					zap.Int64("total_bids", p.TotalBids))
			}
		}

		if p.NewEndTime > 0 {
			applied, err := auctions.ApplyDeadlineMirror(ctx, p.AuctionID, time.UnixMilli(p.NewEndTime).UTC())
			if err != nil {
				return err
			}
			if !applied {
				logger.Debug("stale deadline mirror skipped",
					zap.String("auction_id", p.AuctionID.String()),
					zap.Int64("new_end_time", p.NewEndTime))
			}
		}
		return nil
	}
}

// FinalizePayload names the auction to settle.
type FinalizePayload struct {
	AuctionID uuid.UUID `json:"auction_id"`
}

// Finalize trigger tags for sources that have no deadline to name.
const (
	TriggerExpired = "expired"
	TriggerOverdue = "overdue"
)

// DeadlineTrigger tags a finalize job with the deadline it fires for, so a
// timer and an overdue-hydration check aimed at the same deadline coalesce
// into one job.
func DeadlineTrigger(endTime time.Time) string {
	return strconv.FormatInt(endTime.UnixMilli(), 10)
}

// NewFinalizeJob schedules finalization. The trigger tag keeps ids from
// distinct triggers distinct (`{endMs}` for timers, `expired` for the
// key-expiry backstop, `overdue` for recovery) while letting retries of the
// same trigger coalesce. Finalization itself is idempotent either way.
func NewFinalizeJob(auctionID uuid.UUID, trigger string) (Job, error) {
	id := fmt.Sprintf("finalize:%s:%s", auctionID, trigger)
	return NewJob(QueueFinalize, id, FinalizePayload{AuctionID: auctionID})
}

// AuctionFinalizer is implemented by the finalization coordinator.
type AuctionFinalizer interface {
	Finalize(ctx context.Context, auctionID uuid.UUID) error
}

func FinalizeHandler(fin AuctionFinalizer) HandlerFunc {
	return func(ctx context.Context, job Job) error {
		var p FinalizePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("decode finalize payload failed: %w", err)
		}
		return fin.Finalize(ctx, p.AuctionID)
	}
}
