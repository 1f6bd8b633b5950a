package app

import (
	"context"
	"errors"
	"time"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/inbound"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// lifecycleAttempts bounds conflict retries on status transitions. These are
// rare writes, so the budget stays small.
const lifecycleAttempts = 3

// AuctionService implements the auction lifecycle use cases and the
// scheduler's callback interface.
type AuctionService struct {
	auctionRepo outbound.AuctionRepository
	userRepo    outbound.UserRepository
	store       outbound.Store
	locker      outbound.Locker
	scheduler   outbound.ExpiryScheduler
	broadcaster outbound.Broadcaster
	now         func() time.Time
	logger      zerolog.Logger
}

type AuctionServiceParams struct {
	AuctionRepo outbound.AuctionRepository
	UserRepo    outbound.UserRepository
	Store       outbound.Store
	Locker      outbound.Locker
	Scheduler   outbound.ExpiryScheduler
	Broadcaster outbound.Broadcaster
	Logger      zerolog.Logger

	// Optional override, used by tests
	Now func() time.Time
}

// NewAuctionService creates a new auction service
func NewAuctionService(params AuctionServiceParams) *AuctionService {
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &AuctionService{
		auctionRepo: params.AuctionRepo,
		userRepo:    params.UserRepo,
		store:       params.Store,
		locker:      params.Locker,
		scheduler:   params.Scheduler,
		broadcaster: params.Broadcaster,
		now:         now,
		logger:      params.Logger.With().Str("component", "auction_service").Logger(),
	}
}

// SetScheduler wires the expiry scheduler after construction. The scheduler
// needs the service to fire transitions and the service needs the scheduler
// to register them, so one side attaches late.
func (service *AuctionService) SetScheduler(scheduler outbound.ExpiryScheduler) {
	service.scheduler = scheduler
}

// CreateAuction creates a new auction
func (service *AuctionService) CreateAuction(ctx context.Context, req inbound.CreateAuctionRequest) (*auction.Auction, error) {
	service.logger.Info().
		Str("seller_id", req.SellerID.String()).
		Str("title", req.Title).
		Str("start_time", req.StartTime).
		Str("end_time", req.EndTime).
		Str("starting_price", req.StartingPrice.String()).
		Msg("Attempting to create auction")

	if req.SellerID == uuid.Nil || req.Title == "" {
		return nil, shared.ErrMissingFields
	}

	seller, err := service.userRepo.GetByID(ctx, req.SellerID)
	if err != nil {
		service.logger.Error().Err(err).Str("seller_id", req.SellerID.String()).Msg("Seller not found")
		return nil, shared.ErrUserNotFound
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		service.logger.Error().Err(err).Str("start_time", req.StartTime).Msg("Invalid start time format")
		return nil, shared.ErrInvalidTimeFormat
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		service.logger.Error().Err(err).Str("end_time", req.EndTime).Msg("Invalid end time format")
		return nil, shared.ErrInvalidTimeFormat
	}

	now := service.now()
	if startTime.Before(now.Add(-time.Minute)) {
		service.logger.Warn().Time("start_time", startTime).Msg("Start time cannot be in the past")
		return nil, shared.ErrInvalidStartTime
	}
	if !endTime.After(startTime) {
		service.logger.Warn().
			Time("start_time", startTime).
			Time("end_time", endTime).
			Msg("End time must be after start time")
		return nil, shared.ErrInvalidEndTime
	}
	if req.StartingPrice.Sign() <= 0 {
		return nil, shared.ErrInvalidStartingPrice
	}
	if req.BidIncrement.Sign() <= 0 {
		return nil, shared.ErrInvalidBidIncrement
	}

	status := auction.StatusUpcoming
	if !startTime.After(now) {
		status = auction.StatusActive
	}

	a := &auction.Auction{
		ID:            uuid.New(),
		SellerID:      seller.ID,
		Title:         req.Title,
		StartingPrice: req.StartingPrice,
		CurrentPrice:  req.StartingPrice,
		BidIncrement:  req.BidIncrement,
		StartDate:     startTime,
		EndDate:       endTime,
		Status:        status,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := service.auctionRepo.Create(ctx, a); err != nil {
		service.logger.Error().Err(err).Str("auction_id", a.ID.String()).Msg("Failed to save auction")
		return nil, err
	}

	if service.scheduler != nil {
		if status == auction.StatusUpcoming {
			if err := service.scheduler.ScheduleActivation(a.ID, a.StartDate); err != nil {
				service.logger.Error().Err(err).Str("auction_id", a.ID.String()).Msg("Failed to schedule auction activation")
			}
		}
		if err := service.scheduler.ScheduleEnd(a.ID, a.EndDate); err != nil {
			service.logger.Error().Err(err).Str("auction_id", a.ID.String()).Msg("Failed to schedule auction expiry")
		}
	}

	service.publishEvent(ctx, a.ID, outbound.EventTypeAuctionCreated, map[string]interface{}{
		"title":          a.Title,
		"starting_price": a.StartingPrice.String(),
		"bid_increment":  a.BidIncrement.String(),
		"start_date":     a.StartDate.Format(time.RFC3339),
		"end_date":       a.EndDate.Format(time.RFC3339),
		"status":         string(a.Status),
	})

	service.logger.Info().Str("auction_id", a.ID.String()).Str("status", string(a.Status)).Msg("Auction created")
	return a, nil
}

// GetAuction retrieves an auction by ID
func (service *AuctionService) GetAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error) {
	return service.auctionRepo.GetByID(ctx, auctionID)
}

// ListAuctions retrieves a list of auctions
func (service *AuctionService) ListAuctions(ctx context.Context, req inbound.ListAuctionsRequest) ([]*auction.Auction, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 10
	}

	return service.auctionRepo.List(ctx, req.Status, req.Page, req.PageSize)
}

// ActivateAuction flips an upcoming auction to active. It is idempotent: the
// scheduler may fire it more than once around restarts.
func (service *AuctionService) ActivateAuction(ctx context.Context, auctionID uuid.UUID) error {
	for attempt := 0; attempt < lifecycleAttempts; attempt++ {
		err := service.store.WithinTx(ctx, func(tx outbound.TxStore) error {
			a, err := tx.GetAuction(ctx, auctionID)
			if err != nil {
				return err
			}
			if a.Status != auction.StatusUpcoming {
				return nil
			}
			a.Activate()
			return tx.UpdateAuction(ctx, a)
		})
		if errors.Is(err, shared.ErrVersionConflict) {
			continue
		}
		return err
	}
	return shared.ErrConcurrentModification
}

// EndAuction ends an auction (implements inbound.AuctionService)
func (service *AuctionService) EndAuction(ctx context.Context, auctionID uuid.UUID) error {
	_, err := service.endAuctionWithResult(ctx, auctionID)
	return err
}

// EndAuctionForScheduler implements scheduler.AuctionLifecycleService
func (service *AuctionService) EndAuctionForScheduler(ctx context.Context, auctionID uuid.UUID) (*shared.AuctionEndResult, error) {
	return service.endAuctionWithResult(ctx, auctionID)
}

// endAuctionWithResult settles an expired auction: sold to the highest active
// bidder when one exists, plain ended otherwise. It shares the per-auction
// lock with bid placement so the winner cannot change under it.
func (service *AuctionService) endAuctionWithResult(ctx context.Context, auctionID uuid.UUID) (*shared.AuctionEndResult, error) {
	logger := service.logger.With().Str("auction_id", auctionID.String()).Logger()
	logger.Info().Msg("Ending auction")

	lease, err := service.locker.Acquire(ctx, auctionLockKey(auctionID))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to acquire auction lock")
		return nil, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to release auction lock")
		}
	}()

	var result *shared.AuctionEndResult
	for attempt := 0; attempt < lifecycleAttempts; attempt++ {
		err = service.store.WithinTx(ctx, func(tx outbound.TxStore) error {
			a, err := tx.GetAuction(ctx, auctionID)
			if err != nil {
				return err
			}
			if a.IsClosed() {
				return shared.ErrAuctionEnded
			}
			// An anti-snipe extension may have moved the deadline after this
			// end was scheduled; the rescheduled instant fires later.
			if a.Status != auction.StatusEnded && !a.Expired(service.now()) {
				return shared.ErrAuctionStillRunning
			}

			highest, err := tx.HighestActiveBid(ctx, auctionID)
			if err != nil {
				return err
			}

			// The placement engine flips an expired auction to ended without
			// selecting a winner. If an active bid remains, settlement still
			// owes the flip to sold; ended with no active bid is terminal.
			if a.Status == auction.StatusEnded && highest == nil {
				return shared.ErrAuctionEnded
			}

			result = &shared.AuctionEndResult{AuctionID: auctionID}
			if highest != nil {
				a.MarkSold()
				result.WinnerID = &highest.BidderID
				price := highest.Amount
				result.FinalPrice = &price
			} else {
				a.End()
			}
			result.Status = string(a.Status)

			return tx.UpdateAuction(ctx, a)
		})
		if errors.Is(err, shared.ErrVersionConflict) {
			continue
		}
		break
	}
	if errors.Is(err, shared.ErrVersionConflict) {
		return nil, shared.ErrConcurrentModification
	}
	if err != nil {
		return nil, err
	}

	if result.WinnerID != nil {
		logger.Info().
			Str("winner_id", result.WinnerID.String()).
			Str("final_price", result.FinalPrice.String()).
			Msg("Auction ended with winner")
	} else {
		logger.Info().Msg("Auction ended with no bids")
	}
	return result, nil
}

func (service *AuctionService) publishEvent(ctx context.Context, auctionID uuid.UUID, eventType outbound.EventType, data map[string]interface{}) {
	if service.broadcaster == nil {
		return
	}
	event := outbound.Event{
		Type:      eventType,
		AuctionID: auctionID,
		Data:      data,
		Timestamp: service.now().Unix(),
	}
	if err := service.broadcaster.Publish(ctx, auctionID, event); err != nil {
		service.logger.Error().Err(err).
			Str("auction_id", auctionID.String()).
			Str("event_type", string(eventType)).
			Msg("Failed to broadcast event")
	}
}
