package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
	"github.com/openlot/live-auction-backend/internal/domain/user"
	"github.com/openlot/live-auction-backend/internal/domain/values"
	"github.com/openlot/live-auction-backend/internal/infrastructure/auth"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/repository"
)

// AuctionStore is the slice of the auction repository the catalogue uses.
type AuctionStore interface {
	Create(ctx context.Context, a *auction.Auction) error
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*auction.Auction, error)
	Update(ctx context.Context, a *auction.Auction) error
}

// BidStore reads the durable bid log.
type BidStore interface {
	ListByAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]*auction.Bid, error)
}

// UserStore provisions and looks up the minimal identity rows.
type UserStore interface {
	Upsert(ctx context.Context, u *user.User) error
	GetByUsername(ctx context.Context, username string) (*user.User, error)
}

// HotState is the live-state store: installed on activation, read through on
// detail requests so the catalogue shows the live price.
type HotState interface {
	Install(ctx context.Context, state *hotstore.AuctionState) (bool, error)
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*hotstore.AuctionState, error)
	RecentBids(ctx context.Context, auctionID uuid.UUID, limit int64) ([]hotstore.BidEntry, error)
	Ping(ctx context.Context) error
}

// Finalizer owns the deadline timers and administrative cancellation.
type Finalizer interface {
	Schedule(auctionID uuid.UUID, endTime time.Time)
	Cancel(ctx context.Context, auctionID uuid.UUID) error
}

// TokenService mints and verifies access tokens.
type TokenService interface {
	GenerateToken(userID uuid.UUID, username string) (string, error)
	ValidateToken(token string) (*auth.Claims, error)
}

var validate = validator.New()

// Handlers carries the catalogue endpoints and their collaborators.
type Handlers struct {
	logger    *slog.Logger
	auctions  AuctionStore
	bids      BidStore
	users     UserStore
	hot       HotState
	finalizer Finalizer
	tokens    TokenService
}

// auctionView is the wire projection of an auction. Money travels as decimal
// strings, times as ISO-8601 UTC.
type auctionView struct {
	ID              uuid.UUID  `json:"id"`
	SellerID        uuid.UUID  `json:"sellerId"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Category        string     `json:"category,omitempty"`
	Currency        string     `json:"currency"`
	StartingPrice   string     `json:"startingPrice"`
	BidIncrement    string     `json:"bidIncrement"`
	ReservePrice    *string    `json:"reservePrice,omitempty"`
	ReserveMet      bool       `json:"reserveMet"`
	CurrentBid      *string    `json:"currentBid,omitempty"`
	HighestBidderID *uuid.UUID `json:"highestBidderId,omitempty"`
	HighestBidder   string     `json:"highestBidder,omitempty"`
	TotalBids       int64      `json:"totalBids"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         time.Time  `json:"endTime"`
	OriginalEndTime time.Time  `json:"originalEndTime"`
	Status          string     `json:"status"`
	WinnerID        *uuid.UUID `json:"winnerId,omitempty"`
	WinningBid      *string    `json:"winningBid,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type bidView struct {
	ID          uuid.UUID `json:"id"`
	AuctionID   uuid.UUID `json:"auctionId"`
	BidderID    uuid.UUID `json:"bidderId"`
	BidderName  string    `json:"bidderName"`
	Amount      string    `json:"amount"`
	PreviousBid *string   `json:"previousBid,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type auctionDetailView struct {
	auctionView
	RecentBids []bidView `json:"recentBids"`
}

func moneyString(m *values.Money) *string {
	if m == nil {
		return nil
	}
	s := m.AmountString()
	return &s
}

func auctionViewFrom(a *auction.Auction) auctionView {
	return auctionView{
		ID:              a.ID,
		SellerID:        a.SellerID,
		Title:           a.Title,
		Description:     a.Description,
		Category:        a.Category,
		Currency:        a.StartingPrice.Currency(),
		StartingPrice:   a.StartingPrice.AmountString(),
		BidIncrement:    a.BidIncrement.AmountString(),
		ReservePrice:    moneyString(a.ReservePrice),
		ReserveMet:      a.ReserveMet(),
		CurrentBid:      moneyString(a.CurrentBid),
		HighestBidderID: a.HighestBidderID,
		HighestBidder:   a.HighestBidder,
		TotalBids:       a.TotalBids,
		StartTime:       a.StartTime.UTC(),
		EndTime:         a.EndTime.UTC(),
		OriginalEndTime: a.OriginalEndTime.UTC(),
		Status:          a.Status.String(),
		WinnerID:        a.WinnerID,
		WinningBid:      moneyString(a.WinningBid),
		CreatedAt:       a.CreatedAt.UTC(),
		UpdatedAt:       a.UpdatedAt.UTC(),
	}
}

func bidViewFrom(b *auction.Bid) bidView {
	return bidView{
		ID:          b.ID,
		AuctionID:   b.AuctionID,
		BidderID:    b.BidderID,
		BidderName:  b.BidderName,
		Amount:      b.Amount.AmountString(),
		PreviousBid: moneyString(b.PreviousBid),
		Timestamp:   b.ServerTime.UTC(),
	}
}

func bidViewFromEntry(auctionID uuid.UUID, currency string, e hotstore.BidEntry) (bidView, error) {
	amount, err := values.NewMoneyFromCents(e.Amount, currency)
	if err != nil {
		return bidView{}, err
	}
	view := bidView{
		ID:         e.BidID,
		AuctionID:  auctionID,
		BidderID:   e.BidderID,
		BidderName: e.BidderName,
		Amount:     amount.AmountString(),
		Timestamp:  e.ServerTime.UTC(),
	}
	if e.PreviousBid != nil {
		prev, err := values.NewMoneyFromCents(*e.PreviousBid, currency)
		if err != nil {
			return bidView{}, err
		}
		view.PreviousBid = moneyString(&prev)
	}
	return view, nil
}

type createAuctionRequest struct {
	Title         string    `json:"title" validate:"required,max=200"`
	Description   string    `json:"description" validate:"max=4000"`
	Category      string    `json:"category" validate:"max=64"`
	Currency      string    `json:"currency" validate:"omitempty,len=3"`
	StartingPrice string    `json:"startingPrice" validate:"required"`
	BidIncrement  string    `json:"bidIncrement"`
	ReservePrice  string    `json:"reservePrice"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime" validate:"required"`
	// Activate opens the listing immediately, installing it into the live
	// store and arming its deadline. Seed scripts and tests use this to go
	// from nothing to a biddable auction in one call.
	Activate bool `json:"activate"`
}

// handleCreateAuction creates a listing owned by the authenticated user.
func (h *Handlers) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, appErrors.ErrAuthError)
		return
	}

	var req createAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, r, h.logger, validationError(err))
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = values.DefaultCurrency
	}

	startingPrice, err := values.NewMoneyFromString(req.StartingPrice, currency)
	if err != nil {
		writeError(w, r, h.logger, appErrors.NewValidationError("INVALID_INPUT", "startingPrice is not a valid amount"))
		return
	}
	increment := req.BidIncrement
	if increment == "" {
		increment = "1.00"
	}
	bidIncrement, err := values.NewMoneyFromString(increment, currency)
	if err != nil {
		writeError(w, r, h.logger, appErrors.NewValidationError("INVALID_INPUT", "bidIncrement is not a valid amount"))
		return
	}
	var reserve *values.Money
	if req.ReservePrice != "" {
		m, err := values.NewMoneyFromString(req.ReservePrice, currency)
		if err != nil {
			writeError(w, r, h.logger, appErrors.NewValidationError("INVALID_INPUT", "reservePrice is not a valid amount"))
			return
		}
		reserve = &m
	}

	startTime := req.StartTime
	if startTime.IsZero() {
		startTime = time.Now().UTC()
	}

	a, err := auction.NewAuction(claims.UserID, req.Title, req.Description, req.Category,
		startingPrice, bidIncrement, reserve, startTime, req.EndTime)
	if err != nil {
		writeError(w, r, h.logger, appErrors.NewValidationError("INVALID_INPUT", err.Error()))
		return
	}

	if err := h.auctions.Create(r.Context(), a); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if req.Activate {
		if err := h.activate(r.Context(), a); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, auctionViewFrom(a))
}

// handleListAuctions serves the catalogue list from the cold store.
func (h *Handlers) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.ListFilter{Category: q.Get("category")}

	if raw := q.Get("status"); raw != "" {
		status, err := auction.ParseStatus(raw)
		if err != nil {
			writeError(w, r, h.logger, appErrors.NewValidationError("INVALID_INPUT", "unknown status filter"))
			return
		}
		filter.Status = &status
	}

	limit := intQuery(q.Get("limit"), 50)
	page := intQuery(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	auctions, err := h.auctions.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	views := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, auctionViewFrom(a))
	}
	writeJSON(w, http.StatusOK, views)
}

const recentBidLimit = 20

// handleGetAuction serves the detail view. Live fields come from the hot
// store when the auction is installed there; the cold row fills in the
// descriptive columns and is the fallback once the hot record is gone.
func (h *Handlers) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	a, err := h.auctions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	detail := auctionDetailView{auctionView: auctionViewFrom(a), RecentBids: []bidView{}}

	state, err := h.hot.GetAuction(r.Context(), id)
	switch {
	case err == nil:
		overlayHotState(&detail.auctionView, state)
		entries, err := h.hot.RecentBids(r.Context(), id, recentBidLimit)
		if err != nil {
			writeError(w, r, h.logger, appErrors.WrapInternal(err, "bid history read failed"))
			return
		}
		for _, e := range entries {
			view, err := bidViewFromEntry(id, state.Currency, e)
			if err != nil {
				writeError(w, r, h.logger, appErrors.WrapInternal(err, "bad bid history entry"))
				return
			}
			detail.RecentBids = append(detail.RecentBids, view)
		}
	case errors.Is(err, hotstore.ErrAuctionNotInHotStore):
		records, err := h.bids.ListByAuction(r.Context(), id, recentBidLimit)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		for _, b := range records {
			detail.RecentBids = append(detail.RecentBids, bidViewFrom(b))
		}
	default:
		writeError(w, r, h.logger, appErrors.WrapInternal(err, "hot store read failed"))
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// overlayHotState replaces the bid-mutable fields of the cold projection with
// the live values. Descriptive columns keep their cold values.
func overlayHotState(view *auctionView, state *hotstore.AuctionState) {
	live, err := state.ToAuction()
	if err != nil {
		return
	}
	view.CurrentBid = moneyString(live.CurrentBid)
	view.ReserveMet = live.ReserveMet()
	view.HighestBidderID = live.HighestBidderID
	view.HighestBidder = live.HighestBidder
	view.TotalBids = live.TotalBids
	view.EndTime = live.EndTime.UTC()
	view.OriginalEndTime = live.OriginalEndTime.UTC()
	view.Status = live.Status.String()
}

// handleListBids serves the durable bid history, newest first.
func (h *Handlers) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// A missing auction is a 404 even when it never received bids.
	if _, err := h.auctions.GetByID(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	limit := intQuery(r.URL.Query().Get("limit"), 50)
	records, err := h.bids.ListByAuction(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	views := make([]bidView, 0, len(records))
	for _, b := range records {
		views = append(views, bidViewFrom(b))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleActivateAuction opens a draft or scheduled listing for bidding.
// Seller-only.
func (h *Handlers) handleActivateAuction(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, appErrors.ErrAuthError)
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	a, err := h.auctions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if a.SellerID != claims.UserID {
		writeError(w, r, h.logger, appErrors.NewForbiddenError("FORBIDDEN", "only the seller can activate this auction"))
		return
	}

	if err := h.activate(r.Context(), a); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, auctionViewFrom(a))
}

// activate flips the listing to active, persists the transition, installs
// the live record and arms the deadline timer.
func (h *Handlers) activate(ctx context.Context, a *auction.Auction) error {
	if !a.EndTime.After(time.Now().UTC()) {
		return appErrors.NewConflictError("auction end time has already passed")
	}
	if err := a.Activate(); err != nil {
		return appErrors.NewConflictError(err.Error())
	}
	if err := h.auctions.Update(ctx, a); err != nil {
		return err
	}

	installed, err := h.hot.Install(ctx, hotstore.StateFromAuction(a))
	if err != nil {
		return appErrors.WrapInternal(err, "failed to install auction into hot store")
	}
	if !installed {
		h.logger.InfoContext(ctx, "auction already installed in hot store", "auction_id", a.ID)
	}

	h.finalizer.Schedule(a.ID, a.EndTime)
	return nil
}

// handleAdminCancel withdraws a listing. Bids arriving afterwards are
// rejected with AUCTION_NOT_ACTIVE by the admission rules.
func (h *Handlers) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.finalizer.Cancel(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	a, err := h.auctions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionViewFrom(a))
}

type issueTokenRequest struct {
	Username    string `json:"username" validate:"required,max=64"`
	DisplayName string `json:"displayName" validate:"max=128"`
}

type issueTokenResponse struct {
	Token    string    `json:"token"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

// handleIssueToken mints an access token, provisioning the user row on first
// use. This is the development counterpart of a real identity provider.
func (h *Handlers) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, r, h.logger, validationError(err))
		return
	}

	u, err := h.users.GetByUsername(r.Context(), strings.TrimSpace(req.Username))
	switch {
	case err == nil:
	case errors.Is(err, appErrors.ErrUserNotFound):
		u, err = user.New(uuid.Nil, req.Username, req.DisplayName)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if err := h.users.Upsert(r.Context(), u); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	default:
		writeError(w, r, h.logger, err)
		return
	}

	token, err := h.tokens.GenerateToken(u.ID, u.Username)
	if err != nil {
		writeError(w, r, h.logger, appErrors.WrapInternal(err, "failed to mint token"))
		return
	}

	writeJSON(w, http.StatusOK, issueTokenResponse{Token: token, UserID: u.ID, Username: u.Username})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, appErrors.NewValidationError("INVALID_INPUT", "id must be a UUID")
	}
	return id, nil
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// validationError flattens validator output into the error envelope.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return appErrors.NewValidationError("INVALID_INPUT", "request validation failed")
	}
	details := make(map[string]interface{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[strings.ToLower(fe.Field()[:1])+fe.Field()[1:]] = fe.Tag()
	}
	return appErrors.NewValidationError("INVALID_INPUT", "request validation failed").WithDetails(details)
}
