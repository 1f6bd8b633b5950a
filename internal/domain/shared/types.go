package shared

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionEndResult represents the result of ending an auction
type AuctionEndResult struct {
	AuctionID  uuid.UUID
	WinnerID   *uuid.UUID
	FinalPrice *decimal.Decimal
	Status     string
}
