package finalizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/jobs"
)

// Resync rebuilds the timer table after a restart and settles anything that
// came due while no instance was watching. Rows that claim to be running are
// rehydrated (put-if-absent, so a concurrent instance's state wins) and
// scheduled; overdue ones go straight to the finalize queue.
func (c *Coordinator) Resync(ctx context.Context) error {
	now := c.now().UTC()

	rows, err := c.auctions.ListByStatuses(ctx, auction.StatusActive)
	if err != nil {
		return fmt.Errorf("active auction scan failed: %w", err)
	}

	overdue := 0
	seen := make(map[uuid.UUID]struct{}, len(rows))
	for _, a := range rows {
		seen[a.ID] = struct{}{}
		if !now.Before(a.EndTime) {
			c.enqueueFinalize(ctx, a.ID, jobs.TriggerOverdue)
			overdue++
			continue
		}
		if _, err := c.hot.Install(ctx, hotstore.StateFromAuction(a)); err != nil {
			// Leave it to lazy hydration on the next bid; the timer below
			// still covers the deadline.
			c.logger.ErrorContext(ctx, "failed to rehydrate auction",
				slog.String("auction_id", a.ID.String()),
				slog.Any("error", err))
		}
		c.Schedule(a.ID, a.EndTime)
	}

	// The deadline index can hold records the row scan missed, typically a
	// live extension whose mirror write is still queued. Trust the hot
	// deadline for those.
	active, err := c.hot.ActiveAuctions(ctx)
	if err != nil {
		return fmt.Errorf("deadline index scan failed: %w", err)
	}
	for id, end := range active {
		if _, ok := seen[id]; ok {
			continue
		}
		if !now.Before(end) {
			c.enqueueFinalize(ctx, id, jobs.TriggerOverdue)
			overdue++
			continue
		}
		c.Schedule(id, end)
	}

	c.logger.InfoContext(ctx, "finalization resync complete",
		slog.Int("running", len(rows)),
		slog.Int("overdue", overdue),
		slog.Int("timers", c.TimerCount()))
	return nil
}

// RunExpiryListener relays hot-record expiry notifications into finalize
// jobs until ctx is cancelled. Expiry fires retention past the deadline, so
// a delivery here means every other trigger was missed.
func (c *Coordinator) RunExpiryListener(ctx context.Context) error {
	return c.hot.ConsumeExpirations(ctx, func(auctionID uuid.UUID) {
		c.enqueueFinalize(ctx, auctionID, jobs.TriggerExpired)
	})
}

// RunDeadlineSweep periodically scans the deadline index for auctions whose
// deadline has passed, catching timers lost to a crash on the instance that
// owned them. Sweeps on every instance converge on one job per auction
// through the queue's natural-id dedup.
func (c *Coordinator) RunDeadlineSweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweepDue(ctx)
		}
	}
}

func (c *Coordinator) sweepDue(ctx context.Context) {
	due, err := c.hot.DueAuctionIDs(ctx, c.now().UTC())
	if err != nil {
		c.logger.WarnContext(ctx, "deadline sweep scan failed", slog.Any("error", err))
		return
	}
	for _, id := range due {
		c.enqueueFinalize(ctx, id, jobs.TriggerOverdue)
	}
}
