package admission

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/jobs"
)

// Service admits bids. This is the only write path for bids: every gateway
// frame lands here, and every decision is made by the hot store.
type Service interface {
	// PlaceBid runs the admission pipeline and returns a receipt for the
	// accepted bid, or a coded domain error for the rejection.
	PlaceBid(ctx context.Context, req *PlaceBidRequest) (*Receipt, error)
}

// HotStore is the slice of the hot-state store admission uses.
type HotStore interface {
	PlaceBid(ctx context.Context, cmd hotstore.PlaceBidCommand) (*hotstore.PlaceBidReceipt, error)
	ExtendIfEndingSoon(ctx context.Context, auctionID uuid.UUID, serverTime time.Time, threshold, duration time.Duration) (*hotstore.ExtendReceipt, error)
	TryAcquireBidGate(ctx context.Context, bidderID uuid.UUID, window time.Duration) (bool, error)
	Install(ctx context.Context, state *hotstore.AuctionState) (bool, error)
}

// AuctionLoader reads auctions from the system of record, for lazy
// hydration only. Hydration installs state; it never decides admission.
type AuctionLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
}

// JobQueue makes accepted-bid side effects durable.
type JobQueue interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// EventPublisher fans accepted bids out to watchers.
type EventPublisher interface {
	PublishBidPlaced(ctx context.Context, ev auction.BidPlacedEvent) error
	PublishExtended(ctx context.Context, ev auction.AuctionExtendedEvent) error
}

// FinalizeScheduler is the same-process hook into the finalization
// coordinator's timer wheel.
type FinalizeScheduler interface {
	Schedule(auctionID uuid.UUID, endTime time.Time)
	Reschedule(auctionID uuid.UUID, endTime time.Time)
}

// MetricsCollector counts admission outcomes.
type MetricsCollector interface {
	RecordBidAccepted(extended bool)
	RecordBidRejected(code string)
	// RecordAsyncFailure counts side effects that failed after the bid was
	// already accepted (enqueue or publish); the bid stands regardless.
	RecordAsyncFailure(stage string)
}

// NopMetrics satisfies MetricsCollector for tests and tooling.
type NopMetrics struct{}

func (NopMetrics) RecordBidAccepted(bool)    {}
func (NopMetrics) RecordBidRejected(string)  {}
func (NopMetrics) RecordAsyncFailure(string) {}
