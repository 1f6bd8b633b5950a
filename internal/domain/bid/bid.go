package bid

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid represents a bid on an auction. Carries the same optimistic-version
// contract as the auction aggregate.
type Bid struct {
	ID          uuid.UUID       `json:"id"`
	AuctionID   uuid.UUID       `json:"auction_id"`
	BidderID    uuid.UUID       `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	IsOutbid    bool            `json:"is_outbid"`
	OutbidAt    *time.Time      `json:"outbid_at,omitempty"`
	IsDeleted   bool            `json:"is_deleted"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
	DeletedByID *uuid.UUID      `json:"deleted_by_id,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// New creates a fresh bid at version 1
func New(auctionID, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) *Bid {
	return &Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive returns true if the bid still competes for the auction
func (b *Bid) IsActive() bool {
	return !b.IsDeleted && !b.IsOutbid
}

// MarkOutbid flags the bid as outbid. One-way transition; callers must skip
// bids that are already flagged.
func (b *Bid) MarkOutbid(now time.Time) {
	b.IsOutbid = true
	t := now
	b.OutbidAt = &t
	b.UpdatedAt = now
}

// SoftDelete marks the bid deleted without removing the row
func (b *Bid) SoftDelete(now time.Time, deletedBy uuid.UUID) {
	b.IsDeleted = true
	t := now
	b.DeletedAt = &t
	by := deletedBy
	b.DeletedByID = &by
	b.UpdatedAt = now
}

// Restore clears the soft-delete trio. The restored bid starts fresh and must
// be re-evaluated against the current highest bid.
func (b *Bid) Restore(now time.Time) {
	b.IsDeleted = false
	b.DeletedAt = nil
	b.DeletedByID = nil
	b.IsOutbid = false
	b.OutbidAt = nil
	b.UpdatedAt = now
}

// Beats reports whether this bid ranks above other. Order is amount
// descending, with the earlier created_at winning ties.
func (b *Bid) Beats(other *Bid) bool {
	if cmp := b.Amount.Cmp(other.Amount); cmp != 0 {
		return cmp > 0
	}
	return b.CreatedAt.Before(other.CreatedAt)
}
