package inbound

import (
	"context"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/bid"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionService defines the interface for auction lifecycle operations
type AuctionService interface {
	// CreateAuction creates a new auction
	CreateAuction(ctx context.Context, req CreateAuctionRequest) (*auction.Auction, error)

	// GetAuction retrieves an auction by ID
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Auction, error)

	// ListAuctions retrieves a list of auctions
	ListAuctions(ctx context.Context, req ListAuctionsRequest) ([]*auction.Auction, error)

	// ActivateAuction flips an upcoming auction to active
	ActivateAuction(ctx context.Context, auctionID uuid.UUID) error

	// EndAuction ends an auction
	EndAuction(ctx context.Context, auctionID uuid.UUID) error
}

// BiddingService defines the interface for bid operations
type BiddingService interface {
	// PlaceBid places a new bid on an auction
	PlaceBid(ctx context.Context, req PlaceBidRequest) (*bid.Bid, error)

	// CancelBid soft-deletes (or, for administrators, permanently deletes) a
	// bid and recomputes the auction's price
	CancelBid(ctx context.Context, req CancelBidRequest) (*CancelBidResult, error)

	// RestoreBid reverses a soft delete; administrators only
	RestoreBid(ctx context.Context, bidID, actorID uuid.UUID) (*bid.Bid, error)

	// GetBids retrieves bids for an auction
	GetBids(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error)

	// GetHighestBid retrieves the highest bid for an auction
	GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error)
}

// request to create an auction
type CreateAuctionRequest struct {
	SellerID      uuid.UUID       `json:"seller_id"`
	Title         string          `json:"title"`
	StartTime     string          `json:"start_time"`
	EndTime       string          `json:"end_time"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	BidIncrement  decimal.Decimal `json:"bid_increment"`
}

// request to list auctions
type ListAuctionsRequest struct {
	Status   *auction.Status `json:"status,omitempty"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// request to place a bid
type PlaceBidRequest struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// request to cancel a bid
type CancelBidRequest struct {
	BidID     uuid.UUID `json:"bid_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Permanent bool      `json:"permanent"`
}

// CancelBidResult reports the auction state after a cancellation settled
type CancelBidResult struct {
	NewPrice        decimal.Decimal `json:"new_price"`
	NewHighestBidID *uuid.UUID      `json:"new_highest_bid_id,omitempty"`
}
