package outbound

import (
	"context"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/bid"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxStore exposes the versioned reads and writes the bidding engines run
// inside a transaction. Update and delete calls use the Version field the
// entity was read with as the expected version; on success the store
// increments the field in place. A mismatch surfaces shared.ErrVersionConflict
// and the transaction must be retried against fresh state.
type TxStore interface {
	// GetAuction loads an auction with its current version
	GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error)

	// UpdateAuction writes the aggregate if the stored version still matches
	UpdateAuction(ctx context.Context, a *auction.Auction) error

	// InsertBid persists a new bid at version 1
	InsertBid(ctx context.Context, b *bid.Bid) error

	// GetBid loads a bid with its current version
	GetBid(ctx context.Context, id uuid.UUID) (*bid.Bid, error)

	// UpdateBid writes the bid if the stored version still matches
	UpdateBid(ctx context.Context, b *bid.Bid) error

	// DeleteBid permanently removes the bid row, version-checked
	DeleteBid(ctx context.Context, id uuid.UUID, expectedVersion int64) error

	// HighestActiveBid returns the non-deleted, non-outbid bid ranked first by
	// amount descending, earliest created_at breaking ties; nil if none exists
	HighestActiveBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error)

	// ActiveBidsBelow returns the non-deleted, non-outbid bids under the given
	// amount, excluding the given bidder's own bids
	ActiveBidsBelow(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, excludeBidder uuid.UUID) ([]*bid.Bid, error)

	// HasActiveBidAt reports whether the bidder already holds a non-deleted,
	// non-outbid bid at exactly this amount
	HasActiveBidAt(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (bool, error)

	// CountBids counts the auction's non-deleted bids
	CountBids(ctx context.Context, auctionID uuid.UUID) (int, error)

	// CountSelfCancellations counts bids on the auction the bidder soft-deleted
	// themselves
	CountSelfCancellations(ctx context.Context, auctionID, bidderID uuid.UUID) (int, error)
}

// Store is the persistence capability consumed by the bidding engines. The
// non-transactional methods read committed state; WithinTx runs fn atomically
// at the strongest isolation level the store offers, rolling back when fn
// returns an error.
type Store interface {
	TxStore

	WithinTx(ctx context.Context, fn func(tx TxStore) error) error
}
