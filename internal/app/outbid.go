package app

import (
	"context"
	"errors"
	"time"

	"gavel-auction-service/internal/domain/bid"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OutbidPropagator marks every bid a committed bid invalidates and fires the
// matching notifications. It runs after the placement transaction and
// recovers from all of its own errors: the bid is already durable, so a
// propagation failure must never look like a failed bid.
//
// The whole operation is idempotent. It tolerates a stale snapshot by
// re-checking "is this still the highest bid" before acting, and treats a
// per-bid version conflict as another run having handled that bid.
type OutbidPropagator struct {
	store       outbound.Store
	broadcaster outbound.Broadcaster
	queue       outbound.NotificationQueue
	pool        *pond.WorkerPool
	now         func() time.Time
	logger      zerolog.Logger
}

type OutbidPropagatorParams struct {
	Store       outbound.Store
	Broadcaster outbound.Broadcaster
	Queue       outbound.NotificationQueue
	MaxWorkers  int
	MaxCapacity int
	Logger      zerolog.Logger

	// Optional override, used by tests
	Now func() time.Time
}

// NewOutbidPropagator creates a new outbid propagator
func NewOutbidPropagator(params OutbidPropagatorParams) *OutbidPropagator {
	maxWorkers := params.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	maxCapacity := params.MaxCapacity
	if maxCapacity <= 0 {
		maxCapacity = 100
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &OutbidPropagator{
		store:       params.Store,
		broadcaster: params.Broadcaster,
		queue:       params.Queue,
		pool:        pond.New(maxWorkers, maxCapacity, pond.Strategy(pond.Balanced())),
		now:         now,
		logger:      params.Logger.With().Str("component", "outbid_propagator").Logger(),
	}
}

// Submit schedules a propagation run on the worker pool, fire-and-forget
// relative to the caller.
func (p *OutbidPropagator) Submit(auctionID uuid.UUID, newAmount decimal.Decimal, newBidID, placingBidderID uuid.UUID) {
	p.pool.Submit(func() {
		if err := p.Propagate(context.Background(), auctionID, newAmount, newBidID, placingBidderID); err != nil {
			p.logger.Error().Err(err).
				Str("auction_id", auctionID.String()).
				Str("bid_id", newBidID.String()).
				Msg("Outbid propagation failed")
		}
	})
}

// Stop drains the worker pool
func (p *OutbidPropagator) Stop() {
	p.pool.StopAndWait()
}

// Propagate flags every active bid below newAmount as outbid, publishes a
// real-time event per affected bidder, and enqueues one notification per
// affected bid.
func (p *OutbidPropagator) Propagate(ctx context.Context, auctionID uuid.UUID, newAmount decimal.Decimal, newBidID, placingBidderID uuid.UUID) error {
	logger := p.logger.With().
		Str("auction_id", auctionID.String()).
		Str("bid_id", newBidID.String()).
		Logger()

	candidates, err := p.store.ActiveBidsBelow(ctx, auctionID, newAmount, placingBidderID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	// If a newer bid already superseded this one, its propagator run owns
	// the notifications; acting on our stale view would produce wrong ones.
	highest, err := p.store.HighestActiveBid(ctx, auctionID)
	if err != nil {
		return err
	}
	if highest == nil || highest.ID != newBidID {
		logger.Debug().Msg("Bid already superseded, skipping propagation")
		return nil
	}

	stamp := p.now()
	var flagged []*bid.Bid
	err = p.store.WithinTx(ctx, func(tx outbound.TxStore) error {
		for _, candidate := range candidates {
			current, err := tx.GetBid(ctx, candidate.ID)
			if err != nil {
				if errors.Is(err, shared.ErrBidNotFound) {
					continue
				}
				return err
			}
			if current.IsOutbid || current.IsDeleted {
				// Another concurrent run got there first
				continue
			}

			current.MarkOutbid(stamp)
			if err := tx.UpdateBid(ctx, current); err != nil {
				if errors.Is(err, shared.ErrVersionConflict) {
					logger.Debug().Str("outbid_bid_id", current.ID.String()).Msg("Bid flagged concurrently, skipping")
					continue
				}
				return err
			}
			flagged = append(flagged, current)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, b := range flagged {
		p.publishOutbidEvent(ctx, b, newAmount)
	}

	// Enqueued outside the transaction so a queue failure cannot roll back
	// the flag updates. The freshness re-check is best-effort de-duplication;
	// at-least-once delivery is acceptable.
	for _, b := range flagged {
		fresh, err := p.store.GetBid(ctx, b.ID)
		if err != nil {
			logger.Error().Err(err).Str("outbid_bid_id", b.ID.String()).Msg("Failed to re-check bid before notifying")
			continue
		}
		if !fresh.IsOutbid || fresh.OutbidAt == nil || !sameInstant(*fresh.OutbidAt, stamp) {
			// Another run processed this bid; let it send the notification
			continue
		}
		p.enqueueOutbidNotification(ctx, fresh, newAmount)
	}

	logger.Info().Int("outbid_count", len(flagged)).Msg("Outbid propagation completed")
	return nil
}

// sameInstant tolerates the store's timestamp precision: Postgres keeps
// microseconds, so a round-tripped stamp never matches an in-memory
// time.Now() exactly. Distinct propagation runs read distinct clock values,
// and a rare duplicate is within the at-least-once contract; a suppressed
// notification is not.
func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < time.Millisecond
}

func (p *OutbidPropagator) publishOutbidEvent(ctx context.Context, b *bid.Bid, newAmount decimal.Decimal) {
	if p.broadcaster == nil {
		return
	}
	event := outbound.Event{
		Type:      outbound.EventTypeBidOutbid,
		AuctionID: b.AuctionID,
		Data: map[string]interface{}{
			"bid_id":     b.ID.String(),
			"bid_amount": b.Amount.String(),
			"new_amount": newAmount.String(),
		},
		Timestamp: p.now().Unix(),
	}
	if err := p.broadcaster.PublishToUser(ctx, b.BidderID, event); err != nil {
		p.logger.Error().Err(err).Str("bidder_id", b.BidderID.String()).Msg("Failed to publish outbid event")
	}
}

func (p *OutbidPropagator) enqueueOutbidNotification(ctx context.Context, b *bid.Bid, newAmount decimal.Decimal) {
	if p.queue == nil {
		return
	}
	n := outbound.Notification{
		Kind:      outbound.NotificationOutbid,
		Recipient: b.BidderID,
		Payload: map[string]interface{}{
			"auction_id": b.AuctionID.String(),
			"bid_id":     b.ID.String(),
			"bid_amount": b.Amount.String(),
			"new_amount": newAmount.String(),
		},
	}
	if err := p.queue.Enqueue(ctx, n); err != nil {
		p.logger.Error().Err(err).Str("bidder_id", b.BidderID.String()).Msg("Failed to enqueue outbid notification")
	}
}
