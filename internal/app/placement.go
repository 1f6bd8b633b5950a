package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gavel-auction-service/internal/config"
	"gavel-auction-service/internal/domain/bid"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/inbound"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BidService implements the bid use cases: placement, cancellation and
// restoration. Placement serializes per auction behind the locker, but the
// store's version checks stay the authoritative consistency mechanism even
// when a lease expires mid-operation.
type BidService struct {
	store               outbound.Store
	bidRepo             outbound.BidRepository
	userRepo            outbound.UserRepository
	locker              outbound.Locker
	broadcaster         outbound.Broadcaster
	scheduler           outbound.ExpiryScheduler
	propagator          *OutbidPropagator
	placementAttempts   int
	cancellationLimit   int
	cancellationWindow  time.Duration
	cancellationRetries int
	extensionWindow     time.Duration
	extensionAmount     time.Duration
	placementBackoff    BackoffFunc
	cancellationBackoff BackoffFunc
	now                 func() time.Time
	logger              zerolog.Logger
}

type BidServiceParams struct {
	Store       outbound.Store
	BidRepo     outbound.BidRepository
	UserRepo    outbound.UserRepository
	Locker      outbound.Locker
	Broadcaster outbound.Broadcaster
	Scheduler   outbound.ExpiryScheduler
	Propagator  *OutbidPropagator
	Config      config.BiddingConfig
	Logger      zerolog.Logger

	// Optional overrides, used by tests
	PlacementBackoff    BackoffFunc
	CancellationBackoff BackoffFunc
	Now                 func() time.Time
}

// NewBidService creates a new bid service
func NewBidService(params BidServiceParams) *BidService {
	placementBackoff := params.PlacementBackoff
	if placementBackoff == nil {
		placementBackoff = ExponentialBackoff(params.Config.BackoffBase)
	}
	cancellationBackoff := params.CancellationBackoff
	if cancellationBackoff == nil {
		cancellationBackoff = ExponentialBackoffWithJitter(params.Config.BackoffBase, params.Config.BackoffBase)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &BidService{
		store:               params.Store,
		bidRepo:             params.BidRepo,
		userRepo:            params.UserRepo,
		locker:              params.Locker,
		broadcaster:         params.Broadcaster,
		scheduler:           params.Scheduler,
		propagator:          params.Propagator,
		placementAttempts:   params.Config.PlacementAttempts,
		cancellationRetries: params.Config.CancellationAttempts,
		cancellationWindow:  params.Config.CancellationWindow,
		cancellationLimit:   params.Config.CancellationLimit,
		extensionWindow:     params.Config.ExtensionWindow,
		extensionAmount:     params.Config.ExtensionAmount,
		placementBackoff:    placementBackoff,
		cancellationBackoff: cancellationBackoff,
		now:                 now,
		logger:              params.Logger.With().Str("component", "bid_service").Logger(),
	}
}

func auctionLockKey(auctionID uuid.UUID) string {
	return "auction:" + auctionID.String()
}

// PlaceBid places a new bid on an auction
func (s *BidService) PlaceBid(ctx context.Context, req inbound.PlaceBidRequest) (*bid.Bid, error) {
	if req.AuctionID == uuid.Nil || req.BidderID == uuid.Nil || req.Amount.Sign() <= 0 {
		return nil, shared.ErrMissingFields
	}

	logger := s.logger.With().
		Str("auction_id", req.AuctionID.String()).
		Str("bidder_id", req.BidderID.String()).
		Str("amount", req.Amount.String()).
		Logger()
	logger.Info().Msg("Attempting to place bid")

	lease, err := s.locker.Acquire(ctx, auctionLockKey(req.AuctionID))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to acquire auction lock")
		return nil, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to release auction lock")
		}
	}()

	var placed *bid.Bid
	var extendedTo *time.Time
	for attempt := 0; ; attempt++ {
		placed, extendedTo, err = s.placeBidTx(ctx, req)
		if !errors.Is(err, shared.ErrVersionConflict) {
			break
		}
		if attempt+1 >= s.placementAttempts {
			logger.Warn().Int("attempts", s.placementAttempts).Msg("Placement retry budget exhausted")
			return nil, shared.ErrConcurrentModification
		}
		logger.Debug().Int("attempt", attempt+1).Msg("Version conflict placing bid, retrying")
		if serr := sleep(ctx, s.placementBackoff(attempt)); serr != nil {
			return nil, fmt.Errorf("bid placement interrupted: %w", serr)
		}
	}
	if err != nil {
		return nil, err
	}

	// The deadline moved; keep the expiry schedule in step. Best effort, the
	// committed end_date is what the expiry job re-checks anyway.
	if extendedTo != nil {
		if s.scheduler != nil {
			if err := s.scheduler.ScheduleEnd(req.AuctionID, *extendedTo); err != nil {
				logger.Error().Err(err).Msg("Failed to reschedule extended auction")
			}
		}
		s.publishAuctionEvent(ctx, req.AuctionID, outbound.EventTypeAuctionExtended, map[string]interface{}{
			"end_date": extendedTo.Format(time.RFC3339),
		})
	}

	// Outbid propagation runs after the bid is durable; its failure must
	// never be reported as the bid having failed.
	if s.propagator != nil {
		s.propagator.Submit(req.AuctionID, placed.Amount, placed.ID, placed.BidderID)
	}

	s.publishAuctionEvent(ctx, req.AuctionID, outbound.EventTypeBidPlaced, map[string]interface{}{
		"bid_id":    placed.ID.String(),
		"bidder_id": placed.BidderID.String(),
		"amount":    placed.Amount.String(),
	})

	logger.Info().Str("bid_id", placed.ID.String()).Msg("Bid placed")
	return placed, nil
}

// placeBidTx runs one placement attempt as a single atomic transaction.
// A shared.ErrVersionConflict return means another writer updated the auction
// between the read and the write; the caller retries against fresh state.
func (s *BidService) placeBidTx(ctx context.Context, req inbound.PlaceBidRequest) (*bid.Bid, *time.Time, error) {
	var created *bid.Bid
	var extendedTo *time.Time
	var endedEarly bool

	err := s.store.WithinTx(ctx, func(tx outbound.TxStore) error {
		a, err := tx.GetAuction(ctx, req.AuctionID)
		if err != nil {
			return err
		}
		if !a.IsActive() {
			return shared.ErrAuctionNotActive
		}
		if a.SellerID == req.BidderID {
			return shared.ErrBidOnOwnAuction
		}

		exists, err := tx.HasActiveBidAt(ctx, req.AuctionID, req.BidderID, req.Amount)
		if err != nil {
			return err
		}
		if exists {
			return shared.ErrBidAlreadyExists
		}

		minAllowed := a.MinimumBid()
		if req.Amount.LessThan(minAllowed) {
			return shared.BidTooLow(a.CurrentPrice, a.BidIncrement, minAllowed)
		}

		now := s.now()
		if a.Expired(now) {
			// Self-heal an auction whose expiry job has not run yet: commit
			// the status flip, then reject after the transaction so the flip
			// is not rolled back with the rejection.
			a.End()
			if err := tx.UpdateAuction(ctx, a); err != nil {
				return err
			}
			endedEarly = true
			return nil
		}

		newBid := bid.New(req.AuctionID, req.BidderID, req.Amount, now)
		if err := tx.InsertBid(ctx, newBid); err != nil {
			return err
		}

		count, err := tx.CountBids(ctx, req.AuctionID)
		if err != nil {
			return err
		}
		// Anti-snipe: the first bid landing inside the extension window
		// pushes the deadline out so competitors can respond.
		if count == 1 && a.WithinExtensionWindow(now, s.extensionWindow) {
			a.Extend(s.extensionAmount)
			t := a.EndDate
			extendedTo = &t
		}

		a.AcceptBid(newBid.ID, req.Amount)
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}

		created = newBid
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if endedEarly {
		return nil, nil, shared.ErrAuctionEnded
	}
	return created, extendedTo, nil
}

func (s *BidService) publishAuctionEvent(ctx context.Context, auctionID uuid.UUID, eventType outbound.EventType, data map[string]interface{}) {
	if s.broadcaster == nil {
		return
	}
	event := outbound.Event{
		Type:      eventType,
		AuctionID: auctionID,
		Data:      data,
		Timestamp: s.now().Unix(),
	}
	if err := s.broadcaster.Publish(ctx, auctionID, event); err != nil {
		s.logger.Error().Err(err).
			Str("auction_id", auctionID.String()).
			Str("event_type", string(eventType)).
			Msg("Failed to broadcast event")
	}
}

// GetBids retrieves bids for an auction
func (s *BidService) GetBids(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	return s.bidRepo.GetByAuctionID(ctx, auctionID)
}

// GetHighestBid retrieves the highest bid for an auction
func (s *BidService) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	return s.bidRepo.GetHighestBid(ctx, auctionID)
}
