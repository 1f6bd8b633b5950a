package db

import (
	"context"
	"database/sql"
	"fmt"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

// AuctionRepository implements the auction repository interface
type AuctionRepository struct {
	conn *Connection
}

// NewAuctionRepository creates a new auction repository
func NewAuctionRepository(conn *Connection) *AuctionRepository {
	return &AuctionRepository{conn: conn}
}

// Create creates a new auction
func (r *AuctionRepository) Create(ctx context.Context, a *auction.Auction) error {
	query := `
		INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.conn.GetDB().ExecContext(ctx, query,
		a.ID,
		a.SellerID,
		a.Title,
		a.StartingPrice,
		a.CurrentPrice,
		a.BidIncrement,
		a.StartDate,
		a.EndDate,
		a.Status,
		nullUUID(a.HighestBidID),
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}

	return nil
}

// GetByID retrieves an auction by ID
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE id = $1
	`

	a, err := scanAuction(r.conn.GetDB().QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, shared.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	return a, nil
}

// List retrieves a list of auctions with optional filters
func (r *AuctionRepository) List(ctx context.Context, status *auction.Status, page, pageSize int) ([]*auction.Auction, error) {
	baseQuery := `
		SELECT ` + auctionColumns + `
		FROM auctions
	`

	var whereClause string
	var args []interface{}
	argCount := 1

	if status != nil {
		whereClause = "WHERE status = $1"
		args = append(args, *status)
		argCount++
	}

	// Add pagination
	limitClause := fmt.Sprintf("LIMIT $%d", argCount)
	offsetClause := fmt.Sprintf("OFFSET $%d", argCount+1)
	args = append(args, pageSize, (page-1)*pageSize)

	query := baseQuery + whereClause + " ORDER BY created_at DESC " + limitClause + " " + offsetClause

	rows, err := r.conn.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auctions: %w", err)
	}

	return auctions, nil
}

// Update updates an auction, version-checked
func (r *AuctionRepository) Update(ctx context.Context, a *auction.Auction) error {
	query := `
		UPDATE auctions
		SET title = $2, current_price = $3, bid_increment = $4, start_date = $5,
		    end_date = $6, status = $7, highest_bid_id = $8, version = version + 1,
		    updated_at = $9
		WHERE id = $1 AND version = $10
	`

	result, err := r.conn.GetDB().ExecContext(ctx, query,
		a.ID,
		a.Title,
		a.CurrentPrice,
		a.BidIncrement,
		a.StartDate,
		a.EndDate,
		a.Status,
		nullUUID(a.HighestBidID),
		a.UpdatedAt,
		a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return shared.ErrVersionConflict
	}

	a.Version++
	return nil
}
