package app

import (
	"context"
	"testing"
	"time"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/inbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type auctionFixture struct {
	store     *fakeStore
	scheduler *fakeScheduler
	users     *fakeUserRepo
	svc       *AuctionService
}

func newAuctionFixture(t *testing.T, users ...*shared.User) *auctionFixture {
	t.Helper()

	store := newFakeStore()
	scheduler := newFakeScheduler()
	userRepo := newFakeUserRepo(users...)

	svc := NewAuctionService(AuctionServiceParams{
		AuctionRepo: &fakeAuctionRepo{store: store},
		UserRepo:    userRepo,
		Store:       store,
		Locker:      newFakeLocker(),
		Scheduler:   scheduler,
		Broadcaster: newFakeBroadcaster(),
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return testNow },
	})

	return &auctionFixture{store: store, scheduler: scheduler, users: userRepo, svc: svc}
}

func validCreateRequest(sellerID uuid.UUID) inbound.CreateAuctionRequest {
	return inbound.CreateAuctionRequest{
		SellerID:      sellerID,
		Title:         "Vintage camera",
		StartTime:     testNow.Add(time.Hour).Format(time.RFC3339),
		EndTime:       testNow.Add(25 * time.Hour).Format(time.RFC3339),
		StartingPrice: decimal.NewFromInt(100),
		BidIncrement:  decimal.NewFromInt(10),
	}
}

func TestCreateAuction_UpcomingSchedulesActivationAndEnd(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	f := newAuctionFixture(t, seller)

	created, err := f.svc.CreateAuction(context.Background(), validCreateRequest(seller.ID))
	require.NoError(t, err)
	require.Equal(t, auction.StatusUpcoming, created.Status)
	require.True(t, created.CurrentPrice.Equal(created.StartingPrice))
	require.Equal(t, int64(1), created.Version)

	_, ok := f.scheduler.activations[created.ID]
	require.True(t, ok)
	end, ok := f.scheduler.scheduledEnd(created.ID)
	require.True(t, ok)
	require.True(t, end.Equal(created.EndDate))
}

func TestCreateAuction_ImmediateStartIsActive(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	f := newAuctionFixture(t, seller)

	req := validCreateRequest(seller.ID)
	req.StartTime = testNow.Format(time.RFC3339)

	created, err := f.svc.CreateAuction(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, auction.StatusActive, created.Status)

	_, ok := f.scheduler.activations[created.ID]
	require.False(t, ok, "active auctions need no activation")
}

func TestCreateAuction_Validation(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	f := newAuctionFixture(t, seller)

	tests := []struct {
		name   string
		mutate func(*inbound.CreateAuctionRequest)
		want   error
	}{
		{"missing seller", func(r *inbound.CreateAuctionRequest) { r.SellerID = uuid.Nil }, shared.ErrMissingFields},
		{"missing title", func(r *inbound.CreateAuctionRequest) { r.Title = "" }, shared.ErrMissingFields},
		{"unknown seller", func(r *inbound.CreateAuctionRequest) { r.SellerID = uuid.New() }, shared.ErrUserNotFound},
		{"bad start format", func(r *inbound.CreateAuctionRequest) { r.StartTime = "tomorrow" }, shared.ErrInvalidTimeFormat},
		{"bad end format", func(r *inbound.CreateAuctionRequest) { r.EndTime = "2025-03" }, shared.ErrInvalidTimeFormat},
		{"start in the past", func(r *inbound.CreateAuctionRequest) {
			r.StartTime = testNow.Add(-time.Hour).Format(time.RFC3339)
		}, shared.ErrInvalidStartTime},
		{"end before start", func(r *inbound.CreateAuctionRequest) {
			r.EndTime = testNow.Add(30 * time.Minute).Format(time.RFC3339)
		}, shared.ErrInvalidEndTime},
		{"zero starting price", func(r *inbound.CreateAuctionRequest) { r.StartingPrice = decimal.Zero }, shared.ErrInvalidStartingPrice},
		{"zero increment", func(r *inbound.CreateAuctionRequest) { r.BidIncrement = decimal.Zero }, shared.ErrInvalidBidIncrement},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest(seller.ID)
			tc.mutate(&req)
			_, err := f.svc.CreateAuction(context.Background(), req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestActivateAuction_Idempotent(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	f := newAuctionFixture(t, seller)

	a := testAuction(seller.ID)
	a.Status = auction.StatusUpcoming
	f.store.putAuction(a)

	require.NoError(t, f.svc.ActivateAuction(context.Background(), a.ID))
	require.Equal(t, auction.StatusActive, f.store.auctionSnapshot(a.ID).Status)

	// A duplicate scheduler fire is harmless
	require.NoError(t, f.svc.ActivateAuction(context.Background(), a.ID))
	require.Equal(t, auction.StatusActive, f.store.auctionSnapshot(a.ID).Status)
}

func TestEndAuction_SoldToHighestActiveBid(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	alice := uuid.New()
	f := newAuctionFixture(t, seller)

	a := testAuction(seller.ID)
	a.EndDate = testNow.Add(-time.Minute)
	f.store.putAuction(a)

	winning := seedBid(f.store, a.ID, alice, 140, testNow.Add(-10*time.Minute))
	outbidded := seedBid(f.store, a.ID, uuid.New(), 150, testNow.Add(-5*time.Minute))
	flagged := f.store.bidSnapshot(outbidded.ID)
	flagged.MarkOutbid(testNow.Add(-4 * time.Minute))
	require.NoError(t, f.store.UpdateBid(context.Background(), flagged))

	result, err := f.svc.EndAuctionForScheduler(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, string(auction.StatusSold), result.Status)
	require.Equal(t, alice, *result.WinnerID)
	require.True(t, result.FinalPrice.Equal(winning.Amount))

	require.Equal(t, auction.StatusSold, f.store.auctionSnapshot(a.ID).Status)
}

func TestEndAuction_SettlesAuctionEndedBySelfHeal(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	alice := &shared.User{ID: uuid.New(), Name: "alice"}
	late := &shared.User{ID: uuid.New(), Name: "late"}
	f := newAuctionFixture(t, seller, alice, late)

	a := testAuction(seller.ID)
	a.EndDate = testNow.Add(-time.Minute)
	winning := seedBid(f.store, a.ID, alice.ID, 120, testNow.Add(-10*time.Minute))
	a.AcceptBid(winning.ID, winning.Amount)
	f.store.putAuction(a)

	bids := NewBidService(BidServiceParams{
		Store:               f.store,
		BidRepo:             &fakeBidRepo{store: f.store},
		UserRepo:            f.users,
		Locker:              newFakeLocker(),
		Broadcaster:         newFakeBroadcaster(),
		Scheduler:           f.scheduler,
		Config:              testBiddingConfig(),
		Logger:              zerolog.Nop(),
		PlacementBackoff:    NoBackoff(),
		CancellationBackoff: NoBackoff(),
		Now:                 func() time.Time { return testNow },
	})

	// A late bid observes the expired deadline and flips the auction to
	// ended without picking a winner
	_, err := bids.PlaceBid(context.Background(), inbound.PlaceBidRequest{
		AuctionID: a.ID,
		BidderID:  late.ID,
		Amount:    decimal.NewFromInt(200),
	})
	require.ErrorIs(t, err, shared.ErrAuctionEnded)
	require.Equal(t, auction.StatusEnded, f.store.auctionSnapshot(a.ID).Status)

	result, err := f.svc.EndAuctionForScheduler(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, string(auction.StatusSold), result.Status)
	require.Equal(t, alice.ID, *result.WinnerID)
	require.True(t, result.FinalPrice.Equal(winning.Amount))
	require.Equal(t, auction.StatusSold, f.store.auctionSnapshot(a.ID).Status)
}

func TestEndAuction_NoBidsEndsPlain(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	f := newAuctionFixture(t, seller)

	a := testAuction(seller.ID)
	a.EndDate = testNow.Add(-time.Minute)
	f.store.putAuction(a)

	result, err := f.svc.EndAuctionForScheduler(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, string(auction.StatusEnded), result.Status)
	require.Nil(t, result.WinnerID)
	require.Nil(t, result.FinalPrice)
}

func TestEndAuction_StillRunning(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	f := newAuctionFixture(t, seller)

	// An anti-snipe extension moved the deadline past the scheduled instant
	a := testAuction(seller.ID)
	a.EndDate = testNow.Add(8 * time.Minute)
	f.store.putAuction(a)

	_, err := f.svc.EndAuctionForScheduler(context.Background(), a.ID)
	require.ErrorIs(t, err, shared.ErrAuctionStillRunning)
	require.Equal(t, auction.StatusActive, f.store.auctionSnapshot(a.ID).Status)
}

func TestEndAuction_AlreadyEnded(t *testing.T) {
	seller := &shared.User{ID: uuid.New(), Name: "seller"}
	f := newAuctionFixture(t, seller)

	a := testAuction(seller.ID)
	a.Status = auction.StatusEnded
	a.EndDate = testNow.Add(-time.Minute)
	f.store.putAuction(a)

	_, err := f.svc.EndAuctionForScheduler(context.Background(), a.ID)
	require.ErrorIs(t, err, shared.ErrAuctionEnded)
}
