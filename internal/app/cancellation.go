package app

import (
	"context"
	"errors"
	"fmt"

	"gavel-auction-service/internal/domain/bid"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/inbound"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CancelBid soft-deletes (or, for administrators, permanently deletes) a bid
// and recomputes the auction's current price and highest-bid pointer.
func (s *BidService) CancelBid(ctx context.Context, req inbound.CancelBidRequest) (*inbound.CancelBidResult, error) {
	if req.BidID == uuid.Nil || req.ActorID == uuid.Nil {
		return nil, shared.ErrMissingFields
	}

	logger := s.logger.With().
		Str("bid_id", req.BidID.String()).
		Str("actor_id", req.ActorID.String()).
		Bool("permanent", req.Permanent).
		Logger()
	logger.Info().Msg("Attempting to cancel bid")

	// Preconditions run against committed state before any lock or
	// transaction; none of these rejections are retried.
	b, err := s.store.GetBid(ctx, req.BidID)
	if err != nil {
		return nil, err
	}

	actor, err := s.userRepo.GetByID(ctx, req.ActorID)
	if err != nil {
		if errors.Is(err, shared.ErrUserNotFound) {
			return nil, shared.ErrUnauthorized
		}
		return nil, err
	}
	if !actor.IsAdmin && actor.ID != b.BidderID {
		return nil, shared.ErrUnauthorized
	}
	if req.Permanent && !actor.IsAdmin {
		return nil, shared.ErrUnauthorized
	}

	a, err := s.store.GetAuction(ctx, b.AuctionID)
	if err != nil {
		return nil, err
	}
	if a.IsClosed() {
		return nil, shared.AuctionClosed(string(a.Status))
	}
	// Refusing cancellations close to the deadline protects against
	// last-minute price manipulation.
	if a.IsActive() && a.EndDate.Sub(s.now()) < s.cancellationWindow {
		return nil, shared.ErrCancellationWindowClosed
	}
	if !actor.IsAdmin {
		count, err := s.store.CountSelfCancellations(ctx, b.AuctionID, actor.ID)
		if err != nil {
			return nil, err
		}
		if count >= s.cancellationLimit {
			return nil, shared.ErrUnauthorized
		}
	}

	// Cancellation shares the placement lock: both rewrite the auction
	// aggregate, and the lease is cheap next to a conflict retry storm.
	lease, err := s.locker.Acquire(ctx, auctionLockKey(b.AuctionID))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to acquire auction lock")
		return nil, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to release auction lock")
		}
	}()

	var result *inbound.CancelBidResult
	for attempt := 0; ; attempt++ {
		result, err = s.cancelBidTx(ctx, req.BidID, actor.ID, req.Permanent)
		if !errors.Is(err, shared.ErrVersionConflict) {
			break
		}
		if attempt+1 >= s.cancellationRetries {
			logger.Warn().Int("attempts", s.cancellationRetries).Msg("Cancellation retry budget exhausted")
			return nil, shared.ErrConcurrentModification
		}
		logger.Debug().Int("attempt", attempt+1).Msg("Version conflict cancelling bid, retrying")
		if serr := sleep(ctx, s.cancellationBackoff(attempt)); serr != nil {
			return nil, fmt.Errorf("bid cancellation interrupted: %w", serr)
		}
	}
	if err != nil {
		return nil, err
	}

	s.publishAuctionEvent(ctx, b.AuctionID, outbound.EventTypeBidCancelled, map[string]interface{}{
		"bid_id":    req.BidID.String(),
		"new_price": result.NewPrice.String(),
	})

	logger.Info().Str("new_price", result.NewPrice.String()).Msg("Bid cancelled")
	return result, nil
}

func (s *BidService) cancelBidTx(ctx context.Context, bidID, actorID uuid.UUID, permanent bool) (*inbound.CancelBidResult, error) {
	var result *inbound.CancelBidResult

	err := s.store.WithinTx(ctx, func(tx outbound.TxStore) error {
		cur, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		if cur.IsDeleted && !permanent {
			return shared.ErrBidAlreadyCancelled
		}

		a, err := tx.GetAuction(ctx, cur.AuctionID)
		if err != nil {
			return err
		}

		if permanent {
			if err := tx.DeleteBid(ctx, cur.ID, cur.Version); err != nil {
				return err
			}
		} else {
			cur.SoftDelete(s.now(), actorID)
			if err := tx.UpdateBid(ctx, cur); err != nil {
				return err
			}
		}

		newHighest, err := tx.HighestActiveBid(ctx, cur.AuctionID)
		if err != nil {
			return err
		}
		if newHighest != nil {
			a.ResetHighest(&newHighest.ID, newHighest.Amount)
		} else {
			a.ResetHighest(nil, decimal.Zero)
		}
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return err
		}

		result = &inbound.CancelBidResult{
			NewPrice:        a.CurrentPrice,
			NewHighestBidID: a.HighestBidID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RestoreBid reverses a soft delete. Administrators only. The restored bid
// starts fresh and is re-evaluated against the current highest bid: if it no
// longer wins, it comes back already flagged as outbid.
func (s *BidService) RestoreBid(ctx context.Context, bidID, actorID uuid.UUID) (*bid.Bid, error) {
	if bidID == uuid.Nil || actorID == uuid.Nil {
		return nil, shared.ErrMissingFields
	}

	logger := s.logger.With().
		Str("bid_id", bidID.String()).
		Str("actor_id", actorID.String()).
		Logger()
	logger.Info().Msg("Attempting to restore bid")

	actor, err := s.userRepo.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, shared.ErrUserNotFound) {
			return nil, shared.ErrUnauthorized
		}
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, shared.ErrUnauthorized
	}

	b, err := s.store.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAuction(ctx, b.AuctionID)
	if err != nil {
		return nil, err
	}
	if a.IsClosed() {
		return nil, shared.AuctionClosed(string(a.Status))
	}

	lease, err := s.locker.Acquire(ctx, auctionLockKey(b.AuctionID))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to release auction lock")
		}
	}()

	var restored *bid.Bid
	for attempt := 0; ; attempt++ {
		restored, err = s.restoreBidTx(ctx, bidID)
		if !errors.Is(err, shared.ErrVersionConflict) {
			break
		}
		if attempt+1 >= s.cancellationRetries {
			return nil, shared.ErrConcurrentModification
		}
		if serr := sleep(ctx, s.cancellationBackoff(attempt)); serr != nil {
			return nil, fmt.Errorf("bid restoration interrupted: %w", serr)
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("Bid restored")
	return restored, nil
}

func (s *BidService) restoreBidTx(ctx context.Context, bidID uuid.UUID) (*bid.Bid, error) {
	var restored *bid.Bid

	err := s.store.WithinTx(ctx, func(tx outbound.TxStore) error {
		cur, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		if !cur.IsDeleted {
			return shared.ErrBidNotCancelled
		}

		now := s.now()
		cur.Restore(now)
		if err := tx.UpdateBid(ctx, cur); err != nil {
			return err
		}

		highest, err := tx.HighestActiveBid(ctx, cur.AuctionID)
		if err != nil {
			return err
		}
		if highest != nil && highest.ID == cur.ID {
			a, err := tx.GetAuction(ctx, cur.AuctionID)
			if err != nil {
				return err
			}
			a.ResetHighest(&cur.ID, cur.Amount)
			if err := tx.UpdateAuction(ctx, a); err != nil {
				return err
			}
		} else if highest != nil {
			cur.MarkOutbid(now)
			if err := tx.UpdateBid(ctx, cur); err != nil {
				return err
			}
		}

		restored = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}
