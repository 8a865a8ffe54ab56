package finalizer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/domain/values"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/jobs"
	"github.com/openlot/live-auction-backend/internal/infrastructure/repository"
)

// HotStore is the slice of the hot-state store the coordinator uses.
type HotStore interface {
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*hotstore.AuctionState, error)
	Finalize(ctx context.Context, auctionID uuid.UUID, serverTime time.Time) (*hotstore.FinalizeReceipt, error)
	Cancel(ctx context.Context, auctionID uuid.UUID, serverTime time.Time) (*hotstore.CancelReceipt, error)
	Install(ctx context.Context, state *hotstore.AuctionState) (bool, error)
	ActiveAuctions(ctx context.Context) (map[uuid.UUID]time.Time, error)
	DueAuctionIDs(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	RemoveFromActiveIndex(ctx context.Context, auctionID uuid.UUID) error
	ConsumeExpirations(ctx context.Context, handler func(auctionID uuid.UUID)) error
}

// AuctionStore is the slice of the durable auction repository the
// coordinator uses to settle rows and to recover after a restart.
type AuctionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
	ListByStatuses(ctx context.Context, statuses ...auction.Status) ([]*auction.Auction, error)
	MarkEnded(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, winnerName string, winningBid *values.Money, totalBids int64, endTime time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	FinalizeFromCold(ctx context.Context, id uuid.UUID) (*repository.ColdSettlement, bool, error)
}

// JobQueue carries finalize triggers into the durable job queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// EventPublisher announces closings to watchers.
type EventPublisher interface {
	PublishEnded(ctx context.Context, ev auction.AuctionEndedEvent) error
}

// MetricsCollector counts finalization outcomes.
type MetricsCollector interface {
	// RecordFinalization counts one terminal decision of the Finalize
	// procedure: settled, repaired, cold_fallback, not_due, already_final
	// or noop.
	RecordFinalization(outcome string)
	RecordAsyncFailure(stage string)
}

// NopMetrics satisfies MetricsCollector for tests and tooling.
type NopMetrics struct{}

func (NopMetrics) RecordFinalization(string) {}
func (NopMetrics) RecordAsyncFailure(string) {}
