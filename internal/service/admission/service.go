package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
	"github.com/openlot/live-auction-backend/internal/domain/values"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/jobs"
)

// defaultBidGateWindow applies when the config leaves the gate unset.
const defaultBidGateWindow = time.Second

// PlaceBidRequest is one bid attempt as it arrives from the gateway.
// Amount is a decimal string; Currency defaults to the platform currency.
type PlaceBidRequest struct {
	AuctionID  uuid.UUID
	BidderID   uuid.UUID
	BidderName string
	Amount     string
	Currency   string
}

// Receipt confirms an accepted bid to its bidder. EndTime is the deadline
// after any anti-snipe extension this bid caused.
type Receipt struct {
	BidID      uuid.UUID    `json:"bid_id"`
	AuctionID  uuid.UUID    `json:"auction_id"`
	Amount     values.Money `json:"amount"`
	TotalBids  int64        `json:"total_bids"`
	EndTime    time.Time    `json:"end_time"`
	Extended   bool         `json:"extended"`
	ServerTime time.Time    `json:"server_time"`
}

type service struct {
	hot        HotStore
	loader     AuctionLoader
	queue      JobQueue
	publisher  EventPublisher
	scheduler  FinalizeScheduler
	metrics    MetricsCollector
	policy     ExtensionPolicy
	gateWindow time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewService wires the admission pipeline.
func NewService(
	hot HotStore,
	loader AuctionLoader,
	queue JobQueue,
	publisher EventPublisher,
	scheduler FinalizeScheduler,
	metrics MetricsCollector,
	cfg Config,
	logger *slog.Logger,
) Service {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GateWindow <= 0 {
		cfg.GateWindow = defaultBidGateWindow
	}
	return &service{
		hot:        hot,
		loader:     loader,
		queue:      queue,
		publisher:  publisher,
		scheduler:  scheduler,
		metrics:    metrics,
		policy:     cfg.Extension,
		gateWindow: cfg.GateWindow,
		logger:     logger,
		tracer:     otel.Tracer("service.admission"),
		now:        time.Now,
	}
}

// PlaceBid validates the request, takes the per-bidder gate, runs the atomic
// accept in the hot store (hydrating from the system of record on a miss),
// then fans out the accepted bid: durable jobs first, deadline extension,
// events last. Everything after the atomic accept is best-effort; the bid
// stands even if a side effect fails.
func (s *service) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "admission.place_bid")
	defer span.End()

	amount, err := s.parseRequest(req)
	if err != nil {
		return nil, s.reject(err)
	}
	span.SetAttributes(
		attribute.String("auction_id", req.AuctionID.String()),
		attribute.String("bidder_id", req.BidderID.String()),
	)

	serverTime := s.now().UTC().Truncate(time.Millisecond)

	acquired, err := s.hot.TryAcquireBidGate(ctx, req.BidderID, s.gateWindow)
	if err != nil {
		return nil, appErrors.WrapInternal(err, "bid gate unavailable")
	}
	if !acquired {
		return nil, s.reject(appErrors.ErrRateLimitExceeded)
	}

	cmd := hotstore.PlaceBidCommand{
		AuctionID:  req.AuctionID,
		BidID:      uuid.New(),
		BidderID:   req.BidderID,
		BidderName: req.BidderName,
		Amount:     amount.ToCents(),
		ServerTime: serverTime,
	}

	receipt, err := s.hot.PlaceBid(ctx, cmd)
	if err != nil {
		return nil, appErrors.WrapInternal(err, "hot store rejected bid command")
	}

	if receipt.Outcome == hotstore.PlaceBidNotFound {
		receipt, err = s.hydrateAndRetry(ctx, cmd, serverTime)
		if err != nil {
			return nil, err
		}
	}

	if rejection := rejectionFor(receipt, amount); rejection != nil {
		return nil, s.reject(rejection)
	}

	return s.accept(ctx, req, cmd.BidID, amount, serverTime, receipt)
}

func (s *service) parseRequest(req *PlaceBidRequest) (values.Money, *appErrors.AppError) {
	if req == nil || req.AuctionID == uuid.Nil || req.BidderID == uuid.Nil || req.BidderName == "" {
		return values.Money{}, appErrors.ErrInvalidInput
	}
	if req.Currency != "" && req.Currency != values.DefaultCurrency {
		return values.Money{}, appErrors.ErrInvalidInput
	}

	amount, err := values.NewMoneyFromString(req.Amount, values.DefaultCurrency)
	if err != nil || !amount.IsPositive() || !amount.IsCentPrecision() {
		return values.Money{}, appErrors.ErrInvalidBidAmount
	}
	return amount, nil
}

// hydrateAndRetry loads the auction from the system of record after a hot
// miss. Finished or never-started auctions turn into terminal rejections;
// an active one is installed (put-if-absent, so a concurrent hydration is
// harmless) and the bid command retried exactly once.
func (s *service) hydrateAndRetry(ctx context.Context, cmd hotstore.PlaceBidCommand, serverTime time.Time) (*hotstore.PlaceBidReceipt, error) {
	a, err := s.loader.GetByID(ctx, cmd.AuctionID)
	if err != nil {
		if appErrors.IsCode(err, "AUCTION_NOT_FOUND") {
			return nil, s.reject(appErrors.ErrAuctionNotFound)
		}
		return nil, appErrors.WrapInternal(err, "auction lookup failed")
	}

	switch a.Status {
	case auction.StatusEnded:
		return nil, s.reject(appErrors.ErrAuctionEnded)
	case auction.StatusCancelled, auction.StatusDraft, auction.StatusScheduled:
		return nil, s.reject(appErrors.ErrAuctionNotActive)
	}

	if !serverTime.Before(a.EndTime) {
		// Active in the cold store but past its deadline: the record aged out
		// of Redis before anything finalized it. Kick finalization and reject.
		job, jerr := jobs.NewFinalizeJob(a.ID, jobs.DeadlineTrigger(a.EndTime))
		if jerr == nil {
			jerr = s.queue.Enqueue(ctx, job)
		}
		if jerr != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue finalize for overdue auction",
				slog.String("auction_id", a.ID.String()), slog.Any("error", jerr))
			s.metrics.RecordAsyncFailure("enqueue_finalize")
		}
		return nil, s.reject(appErrors.ErrAuctionEnded)
	}

	if _, err := s.hot.Install(ctx, hotstore.StateFromAuction(a)); err != nil {
		return nil, appErrors.WrapInternal(err, "auction hydration failed")
	}
	s.scheduler.Schedule(a.ID, a.EndTime)
	s.logger.InfoContext(ctx, "hydrated auction into hot store",
		slog.String("auction_id", a.ID.String()),
		slog.Time("end_time", a.EndTime))

	receipt, err := s.hot.PlaceBid(ctx, cmd)
	if err != nil {
		return nil, appErrors.WrapInternal(err, "hot store rejected bid command")
	}
	return receipt, nil
}

// accept runs the post-admission fan-out for a bid the hot store took.
func (s *service) accept(ctx context.Context, req *PlaceBidRequest, bidID uuid.UUID, amount values.Money, serverTime time.Time, receipt *hotstore.PlaceBidReceipt) (*Receipt, error) {
	var previousBid *values.Money
	if !receipt.IsFirstBid {
		if m, err := values.NewMoneyFromCents(receipt.PreviousBid, amount.Currency()); err == nil {
			previousBid = &m
		}
	}

	bid := auction.NewBid(bidID, req.AuctionID, req.BidderID, req.BidderName, amount, previousBid, serverTime)
	s.enqueue(ctx, "persist_bid", func() (jobs.Job, error) { return jobs.NewPersistBidJob(bid) })
	s.enqueue(ctx, "mirror_bid", func() (jobs.Job, error) {
		return jobs.NewBidMirrorJob(req.AuctionID, amount, req.BidderID, req.BidderName, receipt.TotalBids)
	})

	endTime := receipt.EndTime
	extended := false
	var oldEnd, newEnd time.Time
	if s.policy.Enabled() {
		ext, err := s.hot.ExtendIfEndingSoon(ctx, req.AuctionID, serverTime, s.policy.Threshold, s.policy.Duration)
		switch {
		case err != nil:
			s.logger.ErrorContext(ctx, "deadline extension check failed",
				slog.String("auction_id", req.AuctionID.String()), slog.Any("error", err))
			s.metrics.RecordAsyncFailure("extend")
		case ext.Extended:
			extended = true
			oldEnd, newEnd = ext.OldEndTime, ext.NewEndTime
			endTime = ext.NewEndTime
			s.scheduler.Reschedule(req.AuctionID, ext.NewEndTime)
			s.enqueue(ctx, "mirror_deadline", func() (jobs.Job, error) {
				return jobs.NewDeadlineMirrorJob(req.AuctionID, ext.NewEndTime)
			})
		}
	}

	placed := auction.BidPlacedEvent{
		AuctionID:  req.AuctionID,
		BidID:      bidID,
		BidderID:   req.BidderID,
		BidderName: req.BidderName,
		Amount:     amount.AmountString(),
		TotalBids:  receipt.TotalBids,
		EndTime:    endTime.UnixMilli(),
		ServerTime: serverTime.UnixMilli(),
		Extended:   extended,
	}
	if previousBid != nil {
		placed.PreviousBid = previousBid.AmountString()
	}
	if extended {
		placed.OldEndTime = oldEnd.UnixMilli()
		placed.NewEndTime = newEnd.UnixMilli()
	}
	if err := s.publisher.PublishBidPlaced(ctx, placed); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish bid-placed event",
			slog.String("auction_id", req.AuctionID.String()), slog.Any("error", err))
		s.metrics.RecordAsyncFailure("publish_bid_placed")
	}

	if extended {
		ev := auction.AuctionExtendedEvent{
			AuctionID:  req.AuctionID,
			OldEndTime: oldEnd.UnixMilli(),
			NewEndTime: newEnd.UnixMilli(),
			ServerTime: serverTime.UnixMilli(),
		}
		if err := s.publisher.PublishExtended(ctx, ev); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish auction-extended event",
				slog.String("auction_id", req.AuctionID.String()), slog.Any("error", err))
			s.metrics.RecordAsyncFailure("publish_extended")
		}
	}

	s.metrics.RecordBidAccepted(extended)

	return &Receipt{
		BidID:      bidID,
		AuctionID:  req.AuctionID,
		Amount:     amount,
		TotalBids:  receipt.TotalBids,
		EndTime:    endTime,
		Extended:   extended,
		ServerTime: serverTime,
	}, nil
}

// enqueue hands a side-effect job to the queue, absorbing failures: the bid
// is already accepted, so all we can do is count and log.
func (s *service) enqueue(ctx context.Context, stage string, build func() (jobs.Job, error)) {
	job, err := build()
	if err == nil {
		err = s.queue.Enqueue(ctx, job)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue side-effect job",
			slog.String("stage", stage), slog.Any("error", err))
		s.metrics.RecordAsyncFailure("enqueue_" + stage)
	}
}

func (s *service) reject(err *appErrors.AppError) error {
	s.metrics.RecordBidRejected(err.Code)
	return err
}

// rejectionFor maps a non-accepted hot store outcome to its domain error.
func rejectionFor(receipt *hotstore.PlaceBidReceipt, amount values.Money) *appErrors.AppError {
	switch receipt.Outcome {
	case hotstore.PlaceBidAccepted:
		return nil
	case hotstore.PlaceBidTooLow:
		currentBid := ""
		if !receipt.IsFirstBid {
			currentBid = centsAmount(receipt.CurrentBid, amount.Currency())
		}
		return appErrors.NewBidTooLow(
			currentBid,
			centsAmount(receipt.MinimumBid, amount.Currency()),
			amount.AmountString(),
			receipt.IsFirstBid,
		)
	case hotstore.PlaceBidEnded:
		return appErrors.ErrAuctionEnded
	case hotstore.PlaceBidNotActive:
		return appErrors.ErrAuctionNotActive
	case hotstore.PlaceBidSeller:
		return appErrors.ErrSellerCannotBid
	case hotstore.PlaceBidNotFound:
		// A second miss right after hydration: the record expired between
		// install and retry. Treat as gone.
		return appErrors.ErrAuctionNotFound
	default:
		return appErrors.NewInternalError("unrecognized bid outcome")
	}
}

func centsAmount(cents int64, currency string) string {
	m, err := values.NewMoneyFromCents(cents, currency)
	if err != nil {
		return ""
	}
	return m.AmountString()
}
