package db

import (
	"context"
	"database/sql"
	"fmt"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/bid"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so the same queries serve
// committed reads and transactional work.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store implements the outbound.Store port on Postgres. All writes are
// conditional updates on the version column; zero rows affected surfaces
// shared.ErrVersionConflict.
type Store struct {
	storeQueries
	conn *Connection
}

// NewStore creates a new Postgres-backed store
func NewStore(conn *Connection) *Store {
	return &Store{
		storeQueries: storeQueries{q: conn.GetDB()},
		conn:         conn,
	}
}

// WithinTx runs fn in one serializable transaction
func (s *Store) WithinTx(ctx context.Context, fn func(tx outbound.TxStore) error) error {
	return s.conn.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
		return fn(&storeQueries{q: tx})
	})
}

type storeQueries struct {
	q querier
}

const auctionColumns = `id, seller_id, title, starting_price, current_price, bid_increment,
		       start_date, end_date, status, highest_bid_id, version, created_at, updated_at`

const bidColumns = `id, auction_id, bidder_id, amount, is_outbid, outbid_at,
		       is_deleted, deleted_at, deleted_by_id, version, created_at, updated_at`

// GetAuction loads an auction with its current version
func (s *storeQueries) GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE id = $1
	`

	a, err := scanAuction(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, shared.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	return a, nil
}

// UpdateAuction writes the aggregate if the stored version still matches the
// version it was read with, and bumps the in-memory version on success.
func (s *storeQueries) UpdateAuction(ctx context.Context, a *auction.Auction) error {
	query := `
		UPDATE auctions
		SET current_price = $2, bid_increment = $3, start_date = $4, end_date = $5,
		    status = $6, highest_bid_id = $7, version = version + 1, updated_at = $8
		WHERE id = $1 AND version = $9
	`

	result, err := s.q.ExecContext(ctx, query,
		a.ID,
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

// InsertBid persists a new bid
func (s *storeQueries) InsertBid(ctx context.Context, b *bid.Bid) error {
	query := `
		INSERT INTO bids (` + bidColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.q.ExecContext(ctx, query,
		b.ID,
		b.AuctionID,
		b.BidderID,
		b.Amount,
		b.IsOutbid,
		b.OutbidAt,
		b.IsDeleted,
		b.DeletedAt,
		nullUUID(b.DeletedByID),
		b.Version,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}

	return nil
}

// GetBid loads a bid with its current version
func (s *storeQueries) GetBid(ctx context.Context, id uuid.UUID) (*bid.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE id = $1
	`

	b, err := scanBid(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, shared.ErrBidNotFound
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}

	return b, nil
}

// UpdateBid writes the bid's mutable state if the stored version still matches
func (s *storeQueries) UpdateBid(ctx context.Context, b *bid.Bid) error {
	query := `
		UPDATE bids
		SET is_outbid = $2, outbid_at = $3, is_deleted = $4, deleted_at = $5,
		    deleted_by_id = $6, version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $8
	`

	result, err := s.q.ExecContext(ctx, query,
		b.ID,
		b.IsOutbid,
		b.OutbidAt,
		b.IsDeleted,
		b.DeletedAt,
		nullUUID(b.DeletedByID),
		b.UpdatedAt,
		b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update bid: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return shared.ErrVersionConflict
	}

	b.Version++
	return nil
}

// DeleteBid permanently removes the bid row, version-checked
func (s *storeQueries) DeleteBid(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	query := `DELETE FROM bids WHERE id = $1 AND version = $2`

	result, err := s.q.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete bid: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return shared.ErrVersionConflict
	}

	return nil
}

// HighestActiveBid returns the highest non-deleted, non-outbid bid, ties
// broken by earliest created_at; nil when no active bid exists.
func (s *storeQueries) HighestActiveBid(ctx context.Context, auctionID uuid.UUID) (*bid.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1 AND is_deleted = false AND is_outbid = false
		ORDER BY amount DESC, created_at ASC
		LIMIT 1
	`

	b, err := scanBid(s.q.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get highest bid: %w", err)
	}

	return b, nil
}

// ActiveBidsBelow returns the active bids under amount, excluding the placing
// bidder's own
func (s *storeQueries) ActiveBidsBelow(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, excludeBidder uuid.UUID) ([]*bid.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1 AND is_deleted = false AND is_outbid = false
		  AND amount < $2 AND bidder_id <> $3
		ORDER BY amount DESC, created_at ASC
	`

	rows, err := s.q.QueryContext(ctx, query, auctionID, amount, excludeBidder)
	if err != nil {
		return nil, fmt.Errorf("failed to get outbid candidates: %w", err)
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

// HasActiveBidAt reports whether the bidder already holds an active bid at
// exactly this amount
func (s *storeQueries) HasActiveBidAt(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bids
			WHERE auction_id = $1 AND bidder_id = $2 AND amount = $3
			  AND is_deleted = false AND is_outbid = false
		)
	`

	var exists bool
	if err := s.q.QueryRowContext(ctx, query, auctionID, bidderID, amount).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check duplicate bid: %w", err)
	}

	return exists, nil
}

// CountBids counts the auction's non-deleted bids
func (s *storeQueries) CountBids(ctx context.Context, auctionID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM bids WHERE auction_id = $1 AND is_deleted = false`

	var count int
	if err := s.q.QueryRowContext(ctx, query, auctionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}

	return count, nil
}

// CountSelfCancellations counts bids the bidder soft-deleted themselves on
// this auction
func (s *storeQueries) CountSelfCancellations(ctx context.Context, auctionID, bidderID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM bids
		WHERE auction_id = $1 AND bidder_id = $2
		  AND is_deleted = true AND deleted_by_id = $2
	`

	var count int
	if err := s.q.QueryRowContext(ctx, query, auctionID, bidderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cancellations: %w", err)
	}

	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*auction.Auction, error) {
	var a auction.Auction
	var highestBidID uuid.NullUUID
	err := row.Scan(
		&a.ID,
		&a.SellerID,
		&a.Title,
		&a.StartingPrice,
		&a.CurrentPrice,
		&a.BidIncrement,
		&a.StartDate,
		&a.EndDate,
		&a.Status,
		&highestBidID,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if highestBidID.Valid {
		id := highestBidID.UUID
		a.HighestBidID = &id
	}
	return &a, nil
}

func scanBid(row rowScanner) (*bid.Bid, error) {
	var b bid.Bid
	var outbidAt, deletedAt sql.NullTime
	var deletedByID uuid.NullUUID
	err := row.Scan(
		&b.ID,
		&b.AuctionID,
		&b.BidderID,
		&b.Amount,
		&b.IsOutbid,
		&outbidAt,
		&b.IsDeleted,
		&deletedAt,
		&deletedByID,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if outbidAt.Valid {
		t := outbidAt.Time
		b.OutbidAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		b.DeletedAt = &t
	}
	if deletedByID.Valid {
		id := deletedByID.UUID
		b.DeletedByID = &id
	}
	return &b, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
