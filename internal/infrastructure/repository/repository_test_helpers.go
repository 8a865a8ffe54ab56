package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openlot/live-auction-backend/internal/domain/auction"
	"github.com/openlot/live-auction-backend/internal/domain/user"
	"github.com/openlot/live-auction-backend/internal/testutil"
	"github.com/openlot/live-auction-backend/internal/testutil/fixtures"
)

// seedUser persists a fresh user and returns it.
func seedUser(t *testing.T, tdb *testutil.TestDB) *user.User {
	t.Helper()

	u := fixtures.NewUserBuilder(t).Build()
	require.NoError(t, NewUserRepository(tdb.DB()).Upsert(context.Background(), u))
	return u
}

// seedAuction persists an auction built by the given builder, creating its
// seller first so foreign keys hold.
func seedAuction(t *testing.T, tdb *testutil.TestDB, build func(*fixtures.AuctionBuilder)) *auction.Auction {
	t.Helper()

	seller := seedUser(t, tdb)
	b := fixtures.NewAuctionBuilder(t).WithSeller(seller.ID)
	if build != nil {
		build(b)
	}
	a := b.Build()
	require.NoError(t, NewAuctionRepository(tdb.DB()).Create(context.Background(), a))
	return a
}

// seedBid persists one accepted bid from a fresh bidder.
func seedBid(t *testing.T, tdb *testutil.TestDB, a *auction.Auction, build func(*fixtures.BidBuilder)) *auction.Bid {
	t.Helper()

	bidder := seedUser(t, tdb)
	b := fixtures.NewBidBuilder(t, a.ID).WithBidder(bidder.ID, bidder.DisplayName)
	if build != nil {
		build(b)
	}
	bid := b.Build()
	require.NoError(t, NewBidRepository(tdb.DB()).Create(context.Background(), bid))
	return bid
}
