package outbound

import (
	"context"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/bid"
	"gavel-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

// AuctionRepository defines the interface for auction data operations outside
// the bidding core
type AuctionRepository interface {
	// Create creates a new auction
	Create(ctx context.Context, auction *auction.Auction) error

	// GetByID retrieves an auction by ID
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)

	// List retrieves a list of auctions with optional filters
	List(ctx context.Context, status *auction.Status, page, pageSize int) ([]*auction.Auction, error)

	// Update updates an auction, version-checked
	Update(ctx context.Context, auction *auction.Auction) error
}

// BidRepository defines the read-side interface for bid data
type BidRepository interface {
	// GetByID retrieves a bid by ID
	GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error)

	// GetByAuctionID retrieves all bids for an auction, highest first
	GetByAuctionID(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error)

	// GetHighestBid retrieves the highest active bid for an auction
	GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error)
}

// UserRepository defines the interface for user data operations
type UserRepository interface {
	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*shared.User, error)

	// Create creates a new user
	Create(ctx context.Context, user *shared.User) error
}
