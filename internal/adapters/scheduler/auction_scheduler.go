package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	expirationsKey = "auction:expirations"
	activationsKey = "auction:activations"
)

// AuctionLifecycleService is what the scheduler drives when an auction's
// clock runs out or its start date arrives.
type AuctionLifecycleService interface {
	EndAuctionForScheduler(ctx context.Context, auctionID uuid.UUID) (*shared.AuctionEndResult, error)
	ActivateAuction(ctx context.Context, auctionID uuid.UUID) error
}

// AuctionScheduler tracks auction start and end instants in Redis sorted
// sets and fires the lifecycle transitions. Rescheduling an auction (after an
// anti-snipe extension) is just re-adding the member with a new score.
type AuctionScheduler struct {
	redis          *redis.Client
	auctionService AuctionLifecycleService
	broadcaster    outbound.Broadcaster
	logger         zerolog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

type AuctionSchedulerParams struct {
	RedisClient    *redis.Client
	AuctionService AuctionLifecycleService
	Broadcaster    outbound.Broadcaster
	Logger         zerolog.Logger
}

func NewAuctionScheduler(params AuctionSchedulerParams) *AuctionScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuctionScheduler{
		redis:          params.RedisClient,
		auctionService: params.AuctionService,
		broadcaster:    params.Broadcaster,
		logger:         params.Logger.With().Str("component", "auction_scheduler").Logger(),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// ScheduleEnd registers or moves the auction's expiry instant
func (s *AuctionScheduler) ScheduleEnd(auctionID uuid.UUID, endTime time.Time) error {
	err := s.redis.ZAdd(s.ctx, expirationsKey, redis.Z{
		Score:  float64(endTime.Unix()),
		Member: auctionID.String(),
	}).Err()

	if err != nil {
		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to schedule auction expiry")
		return fmt.Errorf("failed to schedule auction expiry: %w", err)
	}

	s.logger.Info().
		Str("auction_id", auctionID.String()).
		Time("end_time", endTime).
		Msg("Auction scheduled for expiration")

	return nil
}

// ScheduleActivation registers the instant an upcoming auction goes active
func (s *AuctionScheduler) ScheduleActivation(auctionID uuid.UUID, startTime time.Time) error {
	err := s.redis.ZAdd(s.ctx, activationsKey, redis.Z{
		Score:  float64(startTime.Unix()),
		Member: auctionID.String(),
	}).Err()

	if err != nil {
		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to schedule auction activation")
		return fmt.Errorf("failed to schedule auction activation: %w", err)
	}

	s.logger.Info().
		Str("auction_id", auctionID.String()).
		Time("start_time", startTime).
		Msg("Auction scheduled for activation")

	return nil
}

// Start begins the scheduler loop
func (s *AuctionScheduler) Start() {
	s.logger.Info().Msg("Starting auction scheduler")

	s.wg.Add(1)
	go s.schedulerLoop()
}

// Stop gracefully stops the scheduler
func (s *AuctionScheduler) Stop() {
	s.logger.Info().Msg("Stopping auction scheduler")
	s.cancel()
	s.wg.Wait()
}

// schedulerLoop runs the main scheduling loop
func (s *AuctionScheduler) schedulerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkDueActivations()
			s.checkExpiredAuctions()
		case <-s.ctx.Done():
			s.logger.Info().Msg("Scheduler loop stopped")
			return
		}
	}
}

func (s *AuctionScheduler) dueMembers(key string) []uuid.UUID {
	now := time.Now().Unix()

	members, err := s.redis.ZRangeByScore(s.ctx, key, &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(now, 10),
		Count: 10, // Process max 10 at a time
	}).Result()
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get due auctions")
		return nil
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			s.logger.Error().Err(err).Str("auction_id", member).Msg("Invalid auction ID")
			s.redis.ZRem(s.ctx, key, member)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// checkDueActivations flips upcoming auctions whose start date arrived
func (s *AuctionScheduler) checkDueActivations() {
	for _, auctionID := range s.dueMembers(activationsKey) {
		go s.activateAuction(auctionID)
	}
}

// checkExpiredAuctions finds and processes expired auctions
func (s *AuctionScheduler) checkExpiredAuctions() {
	for _, auctionID := range s.dueMembers(expirationsKey) {
		go s.endAuction(auctionID)
	}
}

func (s *AuctionScheduler) activateAuction(auctionID uuid.UUID) {
	defer s.redis.ZRem(s.ctx, activationsKey, auctionID.String())

	if err := s.auctionService.ActivateAuction(s.ctx, auctionID); err != nil {
		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to activate auction")
		return
	}

	s.logger.Info().Str("auction_id", auctionID.String()).Msg("Auction activated")
}

// expiryResolved reports whether an end attempt failed in a way no retry can
// change: the auction is already settled, or it no longer exists.
func expiryResolved(err error) bool {
	return errors.Is(err, shared.ErrAuctionEnded) || errors.Is(err, shared.ErrAuctionNotFound)
}

// endAuction processes the end of an auction
func (s *AuctionScheduler) endAuction(auctionID uuid.UUID) {
	s.logger.Info().Str("auction_id", auctionID.String()).Msg("Processing auction end")

	result, err := s.auctionService.EndAuctionForScheduler(s.ctx, auctionID)
	if err != nil {
		// Transient failures and still-running auctions keep the member: an
		// anti-snipe extension moves the score forward and the rescheduled
		// instant fires normally. A terminal outcome will never succeed on a
		// later tick, so its member must go or it fires every second forever.
		if expiryResolved(err) {
			s.redis.ZRem(s.ctx, expirationsKey, auctionID.String())
			s.logger.Info().Err(err).Str("auction_id", auctionID.String()).Msg("Auction expiry already resolved, unscheduled")
			return
		}
		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to end auction")
		return
	}
	s.redis.ZRem(s.ctx, expirationsKey, auctionID.String())

	eventData := map[string]interface{}{
		"auction_id": auctionID.String(),
		"status":     result.Status,
	}
	if result.WinnerID != nil {
		eventData["winner_id"] = result.WinnerID.String()
	}
	if result.FinalPrice != nil {
		eventData["final_price"] = result.FinalPrice.String()
	}

	event := outbound.Event{
		Type:      outbound.EventTypeAuctionEnded,
		AuctionID: auctionID,
		Data:      eventData,
		Timestamp: time.Now().Unix(),
	}

	if err := s.broadcaster.Publish(s.ctx, auctionID, event); err != nil {
		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to broadcast auction end event")
	}

	logger := s.logger.Info().Str("auction_id", auctionID.String())
	if result.WinnerID != nil {
		logger = logger.Str("winner_id", result.WinnerID.String())
	}
	if result.FinalPrice != nil {
		logger = logger.Str("final_price", result.FinalPrice.String())
	}
	logger.Msg("Auction ended")
}
