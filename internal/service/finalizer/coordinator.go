package finalizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
	"github.com/openlot/live-auction-backend/internal/domain/values"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/jobs"
)

// enqueueTimeout bounds the Redis round trip when a timer fires; timer
// callbacks have no caller context to inherit.
const enqueueTimeout = 5 * time.Second

// Coordinator drives auctions across their deadline. It owns the in-process
// timer per active auction, turns every deadline signal (timer, key expiry,
// due sweep, recovery scan) into a durable finalize job, and settles the
// auction when that job runs.
//
// The settle path keeps one invariant: the auction-ended announcement is
// published if and only if the caller made the durable row's transition to a
// final state. The hot store's flip picks the winner exactly once; the
// guarded cold write decides who announces.
type Coordinator struct {
	hot         HotStore
	auctions    AuctionStore
	queue       JobQueue
	publisher   EventPublisher
	metrics     MetricsCollector
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	timers  map[uuid.UUID]*deadlineTimer
	stopped bool
}

// deadlineTimer remembers which deadline a timer was armed for, so a fire
// racing a reschedule cannot drop the newer timer from the table.
type deadlineTimer struct {
	timer *time.Timer
	endAt time.Time
}

// NewCoordinator wires the finalization side of the platform. maxAttempts
// is the retry budget stamped on every finalize job; zero means the queue
// default.
func NewCoordinator(
	hot HotStore,
	auctions AuctionStore,
	queue JobQueue,
	publisher EventPublisher,
	metrics MetricsCollector,
	maxAttempts int,
	logger *slog.Logger,
) *Coordinator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		hot:         hot,
		auctions:    auctions,
		queue:       queue,
		publisher:   publisher,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
		timers:      make(map[uuid.UUID]*deadlineTimer),
	}
}

// Schedule arms the deadline timer for an auction. Scheduling the same
// deadline again is a no-op; a different deadline replaces the armed timer.
func (c *Coordinator) Schedule(auctionID uuid.UUID, endTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if prev, ok := c.timers[auctionID]; ok {
		if prev.endAt.Equal(endTime) {
			return
		}
		prev.timer.Stop()
	}

	delay := endTime.Sub(c.now())
	if delay < 0 {
		delay = 0
	}
	c.timers[auctionID] = &deadlineTimer{
		endAt: endTime,
		timer: time.AfterFunc(delay, func() { c.fire(auctionID, endTime) }),
	}
}

// Reschedule replaces the armed deadline after an anti-snipe extension.
func (c *Coordinator) Reschedule(auctionID uuid.UUID, endTime time.Time) {
	c.Schedule(auctionID, endTime)
}

// Stop disarms every timer. Jobs already enqueued still run; deadlines whose
// timer dies here are picked up by the due sweep or by recovery on the next
// boot.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, dt := range c.timers {
		dt.timer.Stop()
		delete(c.timers, id)
	}
}

// TimerCount reports how many deadlines are armed.
func (c *Coordinator) TimerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fire runs on the timer goroutine. It only enqueues; retries, backoff and
// the settle itself belong to the job runner.
func (c *Coordinator) fire(auctionID uuid.UUID, endTime time.Time) {
	c.mu.Lock()
	if cur, ok := c.timers[auctionID]; ok && cur.endAt.Equal(endTime) {
		delete(c.timers, auctionID)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	c.enqueueFinalize(ctx, auctionID, jobs.DeadlineTrigger(endTime))
}

func (c *Coordinator) clearTimer(auctionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dt, ok := c.timers[auctionID]; ok {
		dt.timer.Stop()
		delete(c.timers, auctionID)
	}
}

func (c *Coordinator) enqueueFinalize(ctx context.Context, auctionID uuid.UUID, trigger string) {
	job, err := jobs.NewFinalizeJob(auctionID, trigger)
	if err == nil {
		err = c.queue.Enqueue(ctx, job.WithMaxAttempts(c.maxAttempts))
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to enqueue finalize job",
			slog.String("auction_id", auctionID.String()),
			slog.String("trigger", trigger),
			slog.Any("error", err))
		c.metrics.RecordAsyncFailure("enqueue_finalize")
	}
}

// Finalize settles one auction. It is the finalize job's handler and safe to
// call from any trigger at any time: early calls reschedule, late and
// duplicate calls are no-ops, and a call that finds a half-finished earlier
// attempt completes it.
func (c *Coordinator) Finalize(ctx context.Context, auctionID uuid.UUID) error {
	serverTime := c.now().UTC().Truncate(time.Millisecond)

	state, err := c.hot.GetAuction(ctx, auctionID)
	if errors.Is(err, hotstore.ErrAuctionNotInHotStore) {
		c.clearTimer(auctionID)
		return c.settleFromCold(ctx, auctionID)
	}
	if err != nil {
		return fmt.Errorf("hot read for finalize failed: %w", err)
	}

	status, err := auction.ParseStatus(state.Status)
	if err != nil {
		return fmt.Errorf("hot record for %s is malformed: %w", auctionID, err)
	}

	if status.IsFinal() {
		c.clearTimer(auctionID)
		return c.repairFromState(ctx, state, status)
	}
	if status != auction.StatusActive {
		return fmt.Errorf("hot record for %s is %q, not finalizable", auctionID, state.Status)
	}

	// The hot record holds the live deadline; a bid may have extended it
	// after this trigger was armed. The flip itself never checks the clock,
	// so the check here is what keeps early triggers harmless.
	if serverTime.Before(state.EndTime) {
		c.Reschedule(auctionID, state.EndTime)
		c.metrics.RecordFinalization("not_due")
		c.logger.InfoContext(ctx, "finalize trigger beat the extended deadline, rescheduled",
			slog.String("auction_id", auctionID.String()),
			slog.Time("end_time", state.EndTime))
		return nil
	}

	receipt, err := c.hot.Finalize(ctx, auctionID, serverTime)
	if err != nil {
		return fmt.Errorf("hot finalize failed: %w", err)
	}

	c.clearTimer(auctionID)

	switch receipt.Outcome {
	case hotstore.FinalizeDone:
		return c.settleFromHot(ctx, auctionID, receipt)
	case hotstore.FinalizeAlreadyFinal:
		// Lost the flip to a concurrent trigger; make sure the row caught up.
		fresh, err := c.hot.GetAuction(ctx, auctionID)
		if errors.Is(err, hotstore.ErrAuctionNotInHotStore) {
			return c.settleFromCold(ctx, auctionID)
		}
		if err != nil {
			return fmt.Errorf("hot read for finalize failed: %w", err)
		}
		status, err := auction.ParseStatus(fresh.Status)
		if err != nil || !status.IsFinal() {
			return fmt.Errorf("hot record for %s reports %q after already-final reply", auctionID, fresh.Status)
		}
		return c.repairFromState(ctx, fresh, status)
	case hotstore.FinalizeNotFound:
		// The record expired between the read above and the flip.
		return c.settleFromCold(ctx, auctionID)
	default:
		return fmt.Errorf("unrecognized finalize outcome %d", receipt.Outcome)
	}
}

// settleFromHot writes the flip's settlement onto the durable row and, when
// this call made the row's transition, announces the closing.
func (c *Coordinator) settleFromHot(ctx context.Context, auctionID uuid.UUID, receipt *hotstore.FinalizeReceipt) error {
	var winnerID *uuid.UUID
	var winningBid *values.Money
	winnerName := ""
	if receipt.WinnerID != uuid.Nil {
		id := receipt.WinnerID
		winnerID = &id
		winnerName = receipt.WinnerName
		m, err := values.NewMoneyFromCents(receipt.WinningBid, values.DefaultCurrency)
		if err != nil {
			return fmt.Errorf("bad winning bid %d: %w", receipt.WinningBid, err)
		}
		winningBid = &m
	}

	transitioned, err := c.auctions.MarkEnded(ctx, auctionID, winnerID, winnerName, winningBid, receipt.TotalBids, receipt.EndTime)
	if err != nil {
		// The flip stands; retries land in the already-final repair path and
		// finish this write from the retained hot record.
		return fmt.Errorf("mark ended failed: %w", err)
	}
	if !transitioned {
		c.metrics.RecordFinalization("already_final")
		return nil
	}

	ev := auction.AuctionEndedEvent{
		AuctionID: auctionID,
		TotalBids: receipt.TotalBids,
		EndedAt:   receipt.EndTime.UnixMilli(),
		Reason:    auction.EndReasonCompleted,
	}
	if winnerID != nil {
		ev.WinnerID = winnerID.String()
		ev.WinnerName = winnerName
		ev.WinningBid = winningBid.AmountString()
	}
	c.publishEnded(ctx, ev)
	c.metrics.RecordFinalization("settled")

	c.logger.InfoContext(ctx, "auction settled",
		slog.String("auction_id", auctionID.String()),
		slog.String("winner_id", ev.WinnerID),
		slog.String("winning_bid", ev.WinningBid),
		slog.Int64("total_bids", receipt.TotalBids))
	return nil
}

// repairFromState finishes a settle whose durable write was lost between the
// hot flip and the cold transition. The retained hot record still holds the
// full settlement, so the guarded write can be replayed from it; almost
// always the row is already settled and this is a no-op.
func (c *Coordinator) repairFromState(ctx context.Context, state *hotstore.AuctionState, status auction.Status) error {
	switch status {
	case auction.StatusCancelled:
		transitioned, err := c.auctions.MarkCancelled(ctx, state.ID)
		if err != nil {
			return fmt.Errorf("mark cancelled failed: %w", err)
		}
		if !transitioned {
			c.metrics.RecordFinalization("already_final")
			return nil
		}
		c.publishEnded(ctx, auction.AuctionEndedEvent{
			AuctionID: state.ID,
			TotalBids: state.TotalBids,
			EndedAt:   c.now().UTC().UnixMilli(),
			Reason:    auction.EndReasonCancelled,
		})
		c.metrics.RecordFinalization("repaired")
		c.logger.WarnContext(ctx, "repaired lost cancellation write",
			slog.String("auction_id", state.ID.String()))
		return nil

	case auction.StatusEnded:
		var winnerID *uuid.UUID
		var winningBid *values.Money
		winnerName := ""
		if state.TotalBids > 0 && state.HighestBidderID != "" {
			id, err := uuid.Parse(state.HighestBidderID)
			if err != nil {
				return fmt.Errorf("hot record for %s has bad winner id %q: %w", state.ID, state.HighestBidderID, err)
			}
			winnerID = &id
			winnerName = state.HighestBidderName
			m, err := values.NewMoneyFromCents(state.CurrentBid, state.Currency)
			if err != nil {
				return fmt.Errorf("hot record for %s has bad winning bid: %w", state.ID, err)
			}
			winningBid = &m
		}

		transitioned, err := c.auctions.MarkEnded(ctx, state.ID, winnerID, winnerName, winningBid, state.TotalBids, state.EndTime)
		if err != nil {
			return fmt.Errorf("mark ended failed: %w", err)
		}
		if !transitioned {
			c.metrics.RecordFinalization("already_final")
			return nil
		}
		ev := auction.AuctionEndedEvent{
			AuctionID: state.ID,
			TotalBids: state.TotalBids,
			EndedAt:   state.EndTime.UnixMilli(),
			Reason:    auction.EndReasonCompleted,
		}
		if winnerID != nil {
			ev.WinnerID = winnerID.String()
			ev.WinnerName = winnerName
			ev.WinningBid = winningBid.AmountString()
		}
		c.publishEnded(ctx, ev)
		c.metrics.RecordFinalization("repaired")
		c.logger.WarnContext(ctx, "repaired lost settlement write",
			slog.String("auction_id", state.ID.String()))
		return nil

	default:
		return fmt.Errorf("repair called with non-final status %q", status)
	}
}

// settleFromCold settles an auction whose hot record is gone: the durable
// bid log picks the winner under the same status guard. The index entry is
// dropped so the due sweep stops reporting a record that no longer exists.
func (c *Coordinator) settleFromCold(ctx context.Context, auctionID uuid.UUID) error {
	settlement, transitioned, err := c.auctions.FinalizeFromCold(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("cold finalize failed: %w", err)
	}

	if err := c.hot.RemoveFromActiveIndex(ctx, auctionID); err != nil {
		c.logger.WarnContext(ctx, "failed to drop auction from deadline index",
			slog.String("auction_id", auctionID.String()),
			slog.Any("error", err))
	}

	if !transitioned {
		c.metrics.RecordFinalization("noop")
		return nil
	}

	ev := auction.AuctionEndedEvent{
		AuctionID: auctionID,
		TotalBids: settlement.TotalBids,
		EndedAt:   settlement.EndTime.UnixMilli(),
		Reason:    auction.EndReasonCompleted,
	}
	if settlement.WinnerID != uuid.Nil {
		ev.WinnerID = settlement.WinnerID.String()
		ev.WinnerName = settlement.WinnerName
		if settlement.WinningBid != nil {
			ev.WinningBid = settlement.WinningBid.AmountString()
		}
	}
	c.publishEnded(ctx, ev)
	c.metrics.RecordFinalization("cold_fallback")

	c.logger.InfoContext(ctx, "auction settled from cold store",
		slog.String("auction_id", auctionID.String()),
		slog.String("winner_id", ev.WinnerID),
		slog.Int64("total_bids", settlement.TotalBids))
	return nil
}

// Cancel halts an auction without a sale. Cancelling an auction that is
// already cancelled succeeds; one that has ended is reported as such.
func (c *Coordinator) Cancel(ctx context.Context, auctionID uuid.UUID) error {
	serverTime := c.now().UTC().Truncate(time.Millisecond)

	receipt, err := c.hot.Cancel(ctx, auctionID, serverTime)
	if err != nil {
		return appErrors.WrapInternal(err, "hot cancel failed")
	}

	switch receipt.Outcome {
	case hotstore.CancelDone:
		c.clearTimer(auctionID)
		transitioned, err := c.auctions.MarkCancelled(ctx, auctionID)
		if err != nil {
			// The hot flip stands; the already-final repair path finishes
			// the row when the next trigger fires.
			return appErrors.WrapInternal(err, "mark cancelled failed")
		}
		if transitioned {
			c.publishEnded(ctx, auction.AuctionEndedEvent{
				AuctionID: auctionID,
				TotalBids: receipt.TotalBids,
				EndedAt:   serverTime.UnixMilli(),
				Reason:    auction.EndReasonCancelled,
			})
		}
		c.logger.InfoContext(ctx, "auction cancelled",
			slog.String("auction_id", auctionID.String()),
			slog.Int64("total_bids", receipt.TotalBids))
		return nil

	case hotstore.CancelAlreadyFinal:
		c.clearTimer(auctionID)
		state, err := c.hot.GetAuction(ctx, auctionID)
		if err != nil {
			if errors.Is(err, hotstore.ErrAuctionNotInHotStore) {
				return c.cancelCold(ctx, auctionID)
			}
			return appErrors.WrapInternal(err, "hot read for cancel failed")
		}
		if state.Status == auction.StatusCancelled.String() {
			// A previous cancel may have died before its durable write.
			if _, err := c.auctions.MarkCancelled(ctx, auctionID); err != nil {
				return appErrors.WrapInternal(err, "mark cancelled failed")
			}
			return nil
		}
		return appErrors.ErrAuctionEnded

	case hotstore.CancelNotFound:
		return c.cancelCold(ctx, auctionID)

	default:
		return appErrors.NewInternalError("unrecognized cancel outcome")
	}
}

// cancelCold cancels an auction that is not resident in the hot store,
// straight against the durable row.
func (c *Coordinator) cancelCold(ctx context.Context, auctionID uuid.UUID) error {
	a, err := c.auctions.GetByID(ctx, auctionID)
	if err != nil {
		if appErrors.IsCode(err, "AUCTION_NOT_FOUND") {
			return appErrors.ErrAuctionNotFound
		}
		return appErrors.WrapInternal(err, "auction lookup failed")
	}

	switch a.Status {
	case auction.StatusCancelled:
		return nil
	case auction.StatusEnded:
		return appErrors.ErrAuctionEnded
	}

	transitioned, err := c.auctions.MarkCancelled(ctx, auctionID)
	if err != nil {
		return appErrors.WrapInternal(err, "mark cancelled failed")
	}
	if !transitioned {
		// Settled out from under us between the read and the write.
		return appErrors.ErrAuctionEnded
	}

	c.clearTimer(auctionID)
	c.publishEnded(ctx, auction.AuctionEndedEvent{
		AuctionID: auctionID,
		TotalBids: a.TotalBids,
		EndedAt:   c.now().UTC().UnixMilli(),
		Reason:    auction.EndReasonCancelled,
	})
	c.logger.InfoContext(ctx, "auction cancelled",
		slog.String("auction_id", auctionID.String()),
		slog.Int64("total_bids", a.TotalBids))
	return nil
}

// publishEnded announces a closing, absorbing failures: the transition is
// already durable, and watchers that miss the push see the final state on
// their next snapshot.
func (c *Coordinator) publishEnded(ctx context.Context, ev auction.AuctionEndedEvent) {
	if err := c.publisher.PublishEnded(ctx, ev); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish auction-ended event",
			slog.String("auction_id", ev.AuctionID.String()),
			slog.Any("error", err))
		c.metrics.RecordAsyncFailure("publish_ended")
	}
}
