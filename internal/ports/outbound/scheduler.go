package outbound

import (
	"time"

	"github.com/google/uuid"
)

// ExpiryScheduler tracks when auctions change state on their own. The
// placement engine reschedules an auction whenever an anti-snipe extension
// moves its end date.
type ExpiryScheduler interface {
	// ScheduleEnd registers or moves the auction's expiry instant
	ScheduleEnd(auctionID uuid.UUID, endTime time.Time) error

	// ScheduleActivation registers the instant an upcoming auction goes active
	ScheduleActivation(auctionID uuid.UUID, startTime time.Time) error
}
