package db

import (
	"context"
	"database/sql"
	"fmt"

	"gavel-auction-service/internal/domain/bid"
	"gavel-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

// BidRepository implements the read-side bid repository interface
type BidRepository struct {
	conn *Connection
}

// NewBidRepository creates a new bid repository
func NewBidRepository(conn *Connection) *BidRepository {
	return &BidRepository{conn: conn}
}

// GetByID retrieves a bid by ID
func (r *BidRepository) GetByID(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE id = $1
	`

	b, err := scanBid(r.conn.GetDB().QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, shared.ErrBidNotFound
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}

	return b, nil
}

// GetByAuctionID retrieves all bids for an auction, highest first
func (r *BidRepository) GetByAuctionID(ctx context.Context, auctionID uuid.UUID) ([]*bid.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC
	`

	rows, err := r.conn.GetDB().QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	defer rows.Close()

	var bids []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}

	return bids, nil
}

// GetHighestBid retrieves the highest active bid for an auction
func (r *BidRepository) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1 AND is_deleted = false AND is_outbid = false
		ORDER BY amount DESC, created_at ASC
		LIMIT 1
	`

	b, err := scanBid(r.conn.GetDB().QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, shared.ErrNoBidsFound
		}
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}

	return b, nil
}
