package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/live-auction-backend/internal/domain/values"
	"github.com/openlot/live-auction-backend/internal/testutil"
	"github.com/openlot/live-auction-backend/internal/testutil/fixtures"
)

func TestBidRepository_CreateAndList(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := NewBidRepository(tdb.DB())
	ctx := testutil.TestContext(t)

	a := seedAuction(t, tdb, nil)
	first := seedBid(t, tdb, a, func(b *fixtures.BidBuilder) { b.WithAmount("10.00") })
	second := seedBid(t, tdb, a, func(b *fixtures.BidBuilder) {
		b.WithAmount("11.00").WithPreviousBid("10.00")
	})

	got, err := repo.ListByAuction(ctx, a.ID, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Highest amount first, which for strictly increasing bids is also
	// newest first.
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	top := got[0]
	assert.Equal(t, a.ID, top.AuctionID)
	assert.Equal(t, second.BidderID, top.BidderID)
	assert.Equal(t, second.BidderName, top.BidderName)
	assert.Equal(t, "11.00", top.Amount.AmountString())
	assert.Equal(t, values.DefaultCurrency, top.Amount.Currency())
	require.NotNil(t, top.PreviousBid)
	assert.Equal(t, "10.00", top.PreviousBid.AmountString())
	assert.WithinDuration(t, second.ServerTime, top.ServerTime, time.Millisecond)
	assert.Nil(t, got[1].PreviousBid)
}

func TestBidRepository_CreateReplay(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := NewBidRepository(tdb.DB())
	ctx := testutil.TestContext(t)

	a := seedAuction(t, tdb, nil)
	bid := seedBid(t, tdb, a, nil)

	// A redelivered persist job inserts the same bid id again.
	require.NoError(t, repo.Create(ctx, bid))

	count, err := repo.CountByAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestBidRepository_CreateRejectsNilIDs(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := NewBidRepository(tdb.DB())
	ctx := testutil.TestContext(t)

	a := seedAuction(t, tdb, nil)

	bid := fixtures.NewBidBuilder(t, a.ID).Build()
	bid.ID = uuid.Nil
	assert.Error(t, repo.Create(ctx, bid))

	assert.Error(t, repo.Create(ctx, fixtures.NewBidBuilder(t, uuid.Nil).Build()))

	bid = fixtures.NewBidBuilder(t, a.ID).WithBidder(uuid.Nil, "Ghost").Build()
	assert.Error(t, repo.Create(ctx, bid))
}

func TestBidRepository_ListScopedAndLimited(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := NewBidRepository(tdb.DB())
	ctx := testutil.TestContext(t)

	a := seedAuction(t, tdb, nil)
	other := seedAuction(t, tdb, nil)
	seedBid(t, tdb, other, func(b *fixtures.BidBuilder) { b.WithAmount("99.00") })

	for _, amount := range []string{"10.00", "11.00", "12.00"} {
		seedBid(t, tdb, a, func(b *fixtures.BidBuilder) { b.WithAmount(amount) })
	}

	got, err := repo.ListByAuction(ctx, a.ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "12.00", got[0].Amount.AmountString())
	assert.Equal(t, "11.00", got[1].Amount.AmountString())
}

func TestBidRepository_CountByAuction(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	repo := NewBidRepository(tdb.DB())
	ctx := testutil.TestContext(t)

	a := seedAuction(t, tdb, nil)

	count, err := repo.CountByAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	seedBid(t, tdb, a, nil)
	seedBid(t, tdb, a, func(b *fixtures.BidBuilder) { b.WithAmount("11.00") })

	count, err = repo.CountByAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
