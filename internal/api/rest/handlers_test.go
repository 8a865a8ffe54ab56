package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	appErrors "github.com/openlot/live-auction-backend/internal/domain/errors"
	"github.com/openlot/live-auction-backend/internal/domain/user"
	"github.com/openlot/live-auction-backend/internal/infrastructure/auth"
	"github.com/openlot/live-auction-backend/internal/infrastructure/config"
	"github.com/openlot/live-auction-backend/internal/infrastructure/hotstore"
	"github.com/openlot/live-auction-backend/internal/infrastructure/repository"
	"github.com/openlot/live-auction-backend/internal/testutil/fixtures"
)

type restFixture struct {
	srv      *Server
	auctions *stubAuctionStore
	bids     *stubBidStore
	users    *stubUserStore
	hot      *stubHotState
	fin      *stubFinalizer
	auth     *auth.Service
}

func setupServer(t *testing.T) *restFixture {
	t.Helper()

	authSvc, err := auth.NewService(&config.AuthConfig{
		JWTSecret:   "rest-test-secret",
		TokenExpiry: time.Hour,
		Issuer:      "openlot-test",
	})
	require.NoError(t, err)

	f := &restFixture{
		auctions: newStubAuctionStore(),
		bids:     newStubBidStore(),
		users:    newStubUserStore(),
		hot:      newStubHotState(),
		fin:      &stubFinalizer{},
		auth:     authSvc,
	}

	cfg := config.ServerConfig{
		Port:            0,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: time.Second,
		RateLimit:       config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.srv = NewServer(cfg, Deps{
		Auctions:  f.auctions,
		Bids:      f.bids,
		Users:     f.users,
		Hot:       f.hot,
		Finalizer: f.fin,
		Tokens:    authSvc,
		Cold:      f.auctions,
	}, logger)
	return f
}

func (f *restFixture) token(t *testing.T, userID uuid.UUID, username string) string {
	t.Helper()
	token, err := f.auth.GenerateToken(userID, username)
	require.NoError(t, err)
	return token
}

func (f *restFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorResponse](t, rec).Error.Code
}

func TestIssueToken(t *testing.T) {
	f := setupServer(t)

	t.Run("provisions a new user and mints a token", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/auth/token", "",
			issueTokenRequest{Username: "alice", DisplayName: "Alice"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[issueTokenResponse](t, rec)
		assert.NotEmpty(t, resp.Token)
		assert.NotEqual(t, uuid.Nil, resp.UserID)
		assert.Equal(t, "alice", resp.Username)

		claims, err := f.auth.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, resp.UserID, claims.UserID)
		assert.Equal(t, "alice", claims.Username)
	})

	t.Run("reuses the existing row for a known username", func(t *testing.T) {
		first := decodeBody[issueTokenResponse](t, f.do(t, http.MethodPost, "/api/v1/auth/token", "",
			issueTokenRequest{Username: "bob"}))
		second := decodeBody[issueTokenResponse](t, f.do(t, http.MethodPost, "/api/v1/auth/token", "",
			issueTokenRequest{Username: "bob"}))
		assert.Equal(t, first.UserID, second.UserID)
	})

	t.Run("rejects a missing username", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/auth/token", "", issueTokenRequest{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	})
}

func TestCreateAuction(t *testing.T) {
	now := time.Now().UTC()

	validReq := func() createAuctionRequest {
		return createAuctionRequest{
			Title:         "Vintage synthesizer",
			Description:   "1983, serviced",
			Category:      "music",
			StartingPrice: "100.00",
			BidIncrement:  "5.00",
			EndTime:       now.Add(time.Hour),
		}
	}

	t.Run("creates a draft owned by the caller", func(t *testing.T) {
		f := setupServer(t)
		sellerID := uuid.New()
		rec := f.do(t, http.MethodPost, "/api/v1/auctions", f.token(t, sellerID, "seller"), validReq())
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		view := decodeBody[auctionView](t, rec)
		assert.Equal(t, sellerID, view.SellerID)
		assert.Equal(t, "draft", view.Status)
		assert.Equal(t, "100.00", view.StartingPrice)
		assert.Equal(t, "5.00", view.BidIncrement)
		assert.Equal(t, "music", view.Category)
		assert.Equal(t, "USD", view.Currency)
		assert.Empty(t, f.fin.scheduled())
	})

	t.Run("activate flag opens bidding in one call", func(t *testing.T) {
		f := setupServer(t)
		req := validReq()
		req.Activate = true
		rec := f.do(t, http.MethodPost, "/api/v1/auctions", f.token(t, uuid.New(), "seller"), req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		view := decodeBody[auctionView](t, rec)
		assert.Equal(t, "active", view.Status)

		installed := f.hot.installedStates()
		require.Len(t, installed, 1)
		assert.Equal(t, view.ID, installed[0].ID)

		sched := f.fin.scheduled()
		require.Len(t, sched, 1)
		assert.Equal(t, view.ID, sched[0].auctionID)
		assert.True(t, sched[0].endTime.Equal(view.EndTime))
	})

	t.Run("requires authentication", func(t *testing.T) {
		f := setupServer(t)
		rec := f.do(t, http.MethodPost, "/api/v1/auctions", "", validReq())
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "AUTH_ERROR", errorCode(t, rec))
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		f := setupServer(t)
		rec := f.do(t, http.MethodPost, "/api/v1/auctions", f.token(t, uuid.New(), "seller"),
			createAuctionRequest{Description: "no title"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decodeBody[errorResponse](t, rec)
		assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
		assert.Contains(t, resp.Error.Details, "title")
	})

	t.Run("rejects a malformed amount", func(t *testing.T) {
		f := setupServer(t)
		req := validReq()
		req.StartingPrice = "a lot"
		rec := f.do(t, http.MethodPost, "/api/v1/auctions", f.token(t, uuid.New(), "seller"), req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	})
}

func TestListAuctions(t *testing.T) {
	f := setupServer(t)

	active := fixtures.NewAuctionBuilder(t).EndingIn(5 * time.Minute).Build()
	ended := fixtures.NewAuctionBuilder(t).WithStatus(auction.StatusEnded).WithCategory("art").Build()
	f.auctions.put(active)
	f.auctions.put(ended)

	t.Run("passes status and category filters through", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/auctions?status=ended&category=art", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		views := decodeBody[[]auctionView](t, rec)
		require.Len(t, views, 1)
		assert.Equal(t, ended.ID, views[0].ID)
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/auctions?status=running", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	})

	t.Run("translates page and limit into offsets", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/auctions?page=3&limit=10", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, repository.ListFilter{Limit: 10, Offset: 20}, f.auctions.lastFilter())
	})
}

func TestGetAuctionDetail(t *testing.T) {
	t.Run("overlays live state onto the cold row", func(t *testing.T) {
		f := setupServer(t)
		bidderID := uuid.New()
		a := fixtures.NewAuctionBuilder(t).Build()
		f.auctions.put(a)

		state := hotstore.StateFromAuction(a)
		state.CurrentBid = 4200
		state.HighestBidderID = bidderID.String()
		state.HighestBidderName = "carol"
		state.TotalBids = 7
		state.EndTime = a.EndTime.Add(30 * time.Second)
		f.hot.putState(state)
		f.hot.putBids(a.ID, []hotstore.BidEntry{{
			BidID:      uuid.New(),
			BidderID:   bidderID,
			BidderName: "carol",
			Amount:     4200,
			ServerTime: time.Now().UTC().Truncate(time.Millisecond),
		}})

		rec := f.do(t, http.MethodGet, "/api/v1/auctions/"+a.ID.String(), "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		detail := decodeBody[struct {
			auctionView
			RecentBids []bidView `json:"recentBids"`
		}](t, rec)
		require.NotNil(t, detail.CurrentBid)
		assert.Equal(t, "42.00", *detail.CurrentBid)
		assert.Equal(t, "carol", detail.HighestBidder)
		assert.Equal(t, int64(7), detail.TotalBids)
		assert.True(t, detail.EndTime.Equal(a.EndTime.Add(30*time.Second)))
		// Descriptive columns stay cold.
		assert.Equal(t, a.Description, detail.Description)

		require.Len(t, detail.RecentBids, 1)
		assert.Equal(t, "42.00", detail.RecentBids[0].Amount)
		assert.Equal(t, "carol", detail.RecentBids[0].BidderName)
	})

	t.Run("falls back to the durable row and bid log", func(t *testing.T) {
		f := setupServer(t)
		a := fixtures.NewAuctionBuilder(t).WithStatus(auction.StatusEnded).Build()
		f.auctions.put(a)
		f.bids.put(fixtures.NewBidBuilder(t, a.ID).WithAmount("15.00").Build())

		rec := f.do(t, http.MethodGet, "/api/v1/auctions/"+a.ID.String(), "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		detail := decodeBody[struct {
			auctionView
			RecentBids []bidView `json:"recentBids"`
		}](t, rec)
		assert.Equal(t, "ended", detail.Status)
		require.Len(t, detail.RecentBids, 1)
		assert.Equal(t, "15.00", detail.RecentBids[0].Amount)
	})

	t.Run("unknown auction is a 404", func(t *testing.T) {
		f := setupServer(t)
		rec := f.do(t, http.MethodGet, "/api/v1/auctions/"+uuid.NewString(), "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "AUCTION_NOT_FOUND", errorCode(t, rec))
	})

	t.Run("malformed id is a 400", func(t *testing.T) {
		f := setupServer(t)
		rec := f.do(t, http.MethodGet, "/api/v1/auctions/not-a-uuid", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
	})
}

func TestListBids(t *testing.T) {
	f := setupServer(t)
	a := fixtures.NewAuctionBuilder(t).Build()
	f.auctions.put(a)
	f.bids.put(fixtures.NewBidBuilder(t, a.ID).WithAmount("11.00").Build())
	f.bids.put(fixtures.NewBidBuilder(t, a.ID).WithAmount("12.00").Build())

	t.Run("returns the recorded history", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/auctions/%s/bids", a.ID), "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		views := decodeBody[[]bidView](t, rec)
		require.Len(t, views, 2)
		assert.Equal(t, a.ID, views[0].AuctionID)
	})

	t.Run("404 for an auction that does not exist", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/auctions/%s/bids", uuid.New()), "", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestActivateAuction(t *testing.T) {
	t.Run("seller activates a draft", func(t *testing.T) {
		f := setupServer(t)
		sellerID := uuid.New()
		a := fixtures.NewAuctionBuilder(t).
			WithSeller(sellerID).
			WithStatus(auction.StatusDraft).
			EndingIn(time.Hour).
			Build()
		f.auctions.put(a)

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%s/activate", a.ID),
			f.token(t, sellerID, "seller"), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		view := decodeBody[auctionView](t, rec)
		assert.Equal(t, "active", view.Status)
		require.Len(t, f.hot.installedStates(), 1)
		require.Len(t, f.fin.scheduled(), 1)

		stored, err := f.auctions.GetByID(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Equal(t, auction.StatusActive, stored.Status)
	})

	t.Run("only the seller may activate", func(t *testing.T) {
		f := setupServer(t)
		a := fixtures.NewAuctionBuilder(t).WithStatus(auction.StatusDraft).EndingIn(time.Hour).Build()
		f.auctions.put(a)

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%s/activate", a.ID),
			f.token(t, uuid.New(), "intruder"), nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "FORBIDDEN", errorCode(t, rec))
		assert.Empty(t, f.fin.scheduled())
	})

	t.Run("activating an active auction conflicts", func(t *testing.T) {
		f := setupServer(t)
		sellerID := uuid.New()
		a := fixtures.NewAuctionBuilder(t).WithSeller(sellerID).EndingIn(time.Hour).Build()
		f.auctions.put(a)

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%s/activate", a.ID),
			f.token(t, sellerID, "seller"), nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("cannot activate past the deadline", func(t *testing.T) {
		f := setupServer(t)
		sellerID := uuid.New()
		start := time.Now().UTC().Add(-2 * time.Hour)
		a := fixtures.NewAuctionBuilder(t).
			WithSeller(sellerID).
			WithStatus(auction.StatusDraft).
			WithTimes(start, start.Add(time.Hour)).
			Build()
		f.auctions.put(a)

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/auctions/%s/activate", a.ID),
			f.token(t, sellerID, "seller"), nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestAdminCancel(t *testing.T) {
	t.Run("cancels through the finalizer", func(t *testing.T) {
		f := setupServer(t)
		a := fixtures.NewAuctionBuilder(t).Build()
		f.auctions.put(a)
		f.fin.onCancel = func(id uuid.UUID) error {
			cancelled := *a
			require.NoError(t, cancelled.Cancel())
			f.auctions.put(&cancelled)
			return nil
		}

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/auctions/%s/cancel", a.ID),
			f.token(t, uuid.New(), "ops"), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		view := decodeBody[auctionView](t, rec)
		assert.Equal(t, "cancelled", view.Status)
	})

	t.Run("an already-settled auction is reported", func(t *testing.T) {
		f := setupServer(t)
		a := fixtures.NewAuctionBuilder(t).WithStatus(auction.StatusEnded).Build()
		f.auctions.put(a)
		f.fin.onCancel = func(uuid.UUID) error { return appErrors.ErrAuctionEnded }

		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/auctions/%s/cancel", a.ID),
			f.token(t, uuid.New(), "ops"), nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "AUCTION_ENDED", errorCode(t, rec))
	})

	t.Run("requires authentication", func(t *testing.T) {
		f := setupServer(t)
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/auctions/%s/cancel", uuid.New()), "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("healthz is always ok", func(t *testing.T) {
		f := setupServer(t)
		rec := f.do(t, http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz is ok when both stores answer", func(t *testing.T) {
		f := setupServer(t)
		rec := f.do(t, http.MethodGet, "/readyz", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		status := decodeBody[healthStatus](t, rec)
		assert.Equal(t, "ready", status.Status)
		assert.Equal(t, "ok", status.Checks["hot"])
		assert.Equal(t, "ok", status.Checks["cold"])
	})

	t.Run("readyz degrades when the hot store is down", func(t *testing.T) {
		f := setupServer(t)
		f.hot.setPingErr(fmt.Errorf("connection refused"))

		rec := f.do(t, http.MethodGet, "/readyz", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", decodeBody[healthStatus](t, rec).Status)
	})
}

// --- stubs ---

type stubAuctionStore struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*auction.Auction
	filters []repository.ListFilter
}

func newStubAuctionStore() *stubAuctionStore {
	return &stubAuctionStore{rows: make(map[uuid.UUID]*auction.Auction)}
}

func (s *stubAuctionStore) put(a *auction.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.rows[a.ID] = &copied
}

func (s *stubAuctionStore) Create(_ context.Context, a *auction.Auction) error {
	s.put(a)
	return nil
}

func (s *stubAuctionStore) GetByID(_ context.Context, id uuid.UUID) (*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, appErrors.ErrAuctionNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *stubAuctionStore) List(_ context.Context, filter repository.ListFilter) ([]*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)

	var out []*auction.Auction
	for _, a := range s.rows {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

func (s *stubAuctionStore) Update(_ context.Context, a *auction.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[a.ID]; !ok {
		return appErrors.ErrAuctionNotFound
	}
	copied := *a
	s.rows[a.ID] = &copied
	return nil
}

func (s *stubAuctionStore) PingContext(context.Context) error { return nil }

func (s *stubAuctionStore) lastFilter() repository.ListFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filters) == 0 {
		return repository.ListFilter{}
	}
	return s.filters[len(s.filters)-1]
}

type stubBidStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]*auction.Bid
}

func newStubBidStore() *stubBidStore {
	return &stubBidStore{rows: make(map[uuid.UUID][]*auction.Bid)}
}

func (s *stubBidStore) put(b *auction.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[b.AuctionID] = append(s.rows[b.AuctionID], b)
}

func (s *stubBidStore) ListByAuction(_ context.Context, auctionID uuid.UUID, limit int) ([]*auction.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bids := s.rows[auctionID]
	if len(bids) > limit {
		bids = bids[:limit]
	}
	return bids, nil
}

type stubUserStore struct {
	mu     sync.Mutex
	byName map[string]*user.User
}

func newStubUserStore() *stubUserStore {
	return &stubUserStore{byName: make(map[string]*user.User)}
}

func (s *stubUserStore) Upsert(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *u
	s.byName[u.Username] = &copied
	return nil
}

func (s *stubUserStore) GetByUsername(_ context.Context, username string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byName[username]
	if !ok {
		return nil, appErrors.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

type stubHotState struct {
	mu        sync.Mutex
	states    map[uuid.UUID]*hotstore.AuctionState
	bids      map[uuid.UUID][]hotstore.BidEntry
	installed []*hotstore.AuctionState
	pingErr   error
}

func newStubHotState() *stubHotState {
	return &stubHotState{
		states: make(map[uuid.UUID]*hotstore.AuctionState),
		bids:   make(map[uuid.UUID][]hotstore.BidEntry),
	}
}

func (s *stubHotState) putState(state *hotstore.AuctionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state
}

func (s *stubHotState) putBids(auctionID uuid.UUID, entries []hotstore.BidEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[auctionID] = entries
}

func (s *stubHotState) setPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *stubHotState) Install(_ context.Context, state *hotstore.AuctionState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[state.ID]; ok {
		return false, nil
	}
	s.states[state.ID] = state
	s.installed = append(s.installed, state)
	return true, nil
}

func (s *stubHotState) GetAuction(_ context.Context, auctionID uuid.UUID) (*hotstore.AuctionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[auctionID]
	if !ok {
		return nil, hotstore.ErrAuctionNotInHotStore
	}
	return state, nil
}

func (s *stubHotState) RecentBids(_ context.Context, auctionID uuid.UUID, limit int64) ([]hotstore.BidEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.bids[auctionID]
	if int64(len(entries)) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *stubHotState) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *stubHotState) installedStates() []*hotstore.AuctionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*hotstore.AuctionState(nil), s.installed...)
}

type scheduledDeadline struct {
	auctionID uuid.UUID
	endTime   time.Time
}

type stubFinalizer struct {
	mu       sync.Mutex
	entries  []scheduledDeadline
	onCancel func(uuid.UUID) error
}

func (s *stubFinalizer) Schedule(auctionID uuid.UUID, endTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, scheduledDeadline{auctionID: auctionID, endTime: endTime})
}

func (s *stubFinalizer) Cancel(_ context.Context, auctionID uuid.UUID) error {
	s.mu.Lock()
	onCancel := s.onCancel
	s.mu.Unlock()
	if onCancel != nil {
		return onCancel(auctionID)
	}
	return nil
}

func (s *stubFinalizer) scheduled() []scheduledDeadline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledDeadline(nil), s.entries...)
}
