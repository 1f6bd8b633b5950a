package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the current status of an auction
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusSold      Status = "sold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Auction is the aggregate root for bidding. Every write must supply the
// version that was read; the store increments it on success.
type Auction struct {
	ID            uuid.UUID       `json:"id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	Title         string          `json:"title"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	BidIncrement  decimal.Decimal `json:"bid_increment"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	Status        Status          `json:"status"`
	HighestBidID  *uuid.UUID      `json:"highest_bid_id,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsActive returns true if the auction is currently accepting bids
func (a *Auction) IsActive() bool {
	return a.Status == StatusActive
}

// IsClosed returns true if no bid mutation is allowed anymore
func (a *Auction) IsClosed() bool {
	return a.Status == StatusSold || a.Status == StatusCompleted || a.Status == StatusCancelled
}

// Expired returns true if the end date has passed at the given instant
func (a *Auction) Expired(now time.Time) bool {
	return !now.Before(a.EndDate)
}

// MinimumBid returns the lowest amount the next bid may carry
func (a *Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.BidIncrement)
}

// WithinExtensionWindow reports whether the given instant lands inside the
// anti-snipe window before the end date.
func (a *Auction) WithinExtensionWindow(now time.Time, window time.Duration) bool {
	return a.EndDate.Sub(now) <= window
}

// Extend pushes the end date forward by the anti-snipe extension
func (a *Auction) Extend(by time.Duration) {
	a.EndDate = a.EndDate.Add(by)
	a.UpdatedAt = time.Now()
}

// AcceptBid records a new highest bid on the aggregate
func (a *Auction) AcceptBid(bidID uuid.UUID, amount decimal.Decimal) {
	a.CurrentPrice = amount
	id := bidID
	a.HighestBidID = &id
	a.UpdatedAt = time.Now()
}

// ResetHighest points the aggregate at a recomputed highest bid, or back at
// the starting price when no active bid remains.
func (a *Auction) ResetHighest(bidID *uuid.UUID, amount decimal.Decimal) {
	if bidID == nil {
		a.CurrentPrice = a.StartingPrice
		a.HighestBidID = nil
	} else {
		id := *bidID
		a.CurrentPrice = amount
		a.HighestBidID = &id
	}
	a.UpdatedAt = time.Now()
}

// Activate transitions an upcoming auction to active
func (a *Auction) Activate() {
	a.Status = StatusActive
	a.UpdatedAt = time.Now()
}

// End marks the auction as ended
func (a *Auction) End() {
	a.Status = StatusEnded
	a.UpdatedAt = time.Now()
}

// MarkSold marks an ended auction as sold to the highest bidder
func (a *Auction) MarkSold() {
	a.Status = StatusSold
	a.UpdatedAt = time.Now()
}
