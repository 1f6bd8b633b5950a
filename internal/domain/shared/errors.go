package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a domain error so callers can decide between rejecting,
// retrying, and failing the request as a server error.
type Kind int

const (
	// KindValidation covers malformed input, rejected before any transaction
	KindValidation Kind = iota
	// KindBusinessRule covers state preconditions, rejected after a read but
	// before any mutation
	KindBusinessRule
	// KindContention covers version conflicts and lock timeouts after the
	// local retry budget is spent; the client may simply try again
	KindContention
	// KindInfrastructure covers store/lock/queue failures
	KindInfrastructure
)

// Code is the stable machine-readable identifier of a domain error
type Code string

const (
	CodeMissingFields            Code = "MISSING_FIELDS"
	CodeAuctionNotFound          Code = "AUCTION_NOT_FOUND"
	CodeAuctionNotActive         Code = "AUCTION_NOT_ACTIVE"
	CodeAuctionEnded             Code = "AUCTION_ENDED"
	CodeAuctionClosed            Code = "AUCTION_CLOSED"
	CodeBidOnOwnAuction          Code = "BID_ON_OWN_AUCTION"
	CodeBidAlreadyExists         Code = "BID_ALREADY_EXISTS"
	CodeBidTooLow                Code = "BID_TOO_LOW"
	CodeBidNotFound              Code = "BID_NOT_FOUND"
	CodeBidAlreadyCancelled      Code = "BID_ALREADY_CANCELLED"
	CodeBidNotCancelled          Code = "BID_NOT_CANCELLED"
	CodeUnauthorized             Code = "UNAUTHORIZED"
	CodeCancellationWindowClosed Code = "CANCELLATION_WINDOW_CLOSED"
	CodeConcurrentModification   Code = "CONCURRENT_MODIFICATION"
	CodeLockTimeout              Code = "LOCK_TIMEOUT"
	CodeUserNotFound             Code = "USER_NOT_FOUND"
	CodeInvalidTimeFormat        Code = "INVALID_TIME_FORMAT"
	CodeInvalidStartTime         Code = "INVALID_START_TIME"
	CodeInvalidEndTime           Code = "INVALID_END_TIME"
	CodeInvalidStartingPrice     Code = "INVALID_STARTING_PRICE"
	CodeInvalidBidIncrement      Code = "INVALID_BID_INCREMENT"
	CodeAuctionStillRunning      Code = "AUCTION_STILL_RUNNING"
)

// DomainError is a tagged domain failure. Two domain errors match under
// errors.Is when their codes are equal, so the sentinel values below work as
// targets even when a returned error carries extra detail.
type DomainError struct {
	Kind    Kind
	Code    Code
	Message string
	Detail  map[string]interface{}
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// Domain error sentinels
var (
	ErrMissingFields = &DomainError{Kind: KindValidation, Code: CodeMissingFields,
		Message: "auction id, bidder id and amount are required"}
	ErrAuctionNotFound = &DomainError{Kind: KindBusinessRule, Code: CodeAuctionNotFound,
		Message: "auction not found"}
	ErrAuctionNotActive = &DomainError{Kind: KindBusinessRule, Code: CodeAuctionNotActive,
		Message: "auction is not accepting bids"}
	ErrAuctionEnded = &DomainError{Kind: KindBusinessRule, Code: CodeAuctionEnded,
		Message: "auction has already ended"}
	ErrBidOnOwnAuction = &DomainError{Kind: KindBusinessRule, Code: CodeBidOnOwnAuction,
		Message: "sellers cannot bid on their own auction"}
	ErrBidAlreadyExists = &DomainError{Kind: KindBusinessRule, Code: CodeBidAlreadyExists,
		Message: "you already hold an active bid at this amount, raise your bid to compete"}
	ErrBidTooLow = &DomainError{Kind: KindBusinessRule, Code: CodeBidTooLow,
		Message: "bid amount is below the minimum allowed"}
	ErrBidNotFound = &DomainError{Kind: KindBusinessRule, Code: CodeBidNotFound,
		Message: "bid not found"}
	ErrBidAlreadyCancelled = &DomainError{Kind: KindBusinessRule, Code: CodeBidAlreadyCancelled,
		Message: "bid has already been cancelled"}
	ErrBidNotCancelled = &DomainError{Kind: KindBusinessRule, Code: CodeBidNotCancelled,
		Message: "bid is not cancelled"}
	ErrUnauthorized = &DomainError{Kind: KindBusinessRule, Code: CodeUnauthorized,
		Message: "not allowed to perform this action"}
	ErrCancellationWindowClosed = &DomainError{Kind: KindBusinessRule, Code: CodeCancellationWindowClosed,
		Message: "bids cannot be cancelled this close to the auction end"}
	ErrConcurrentModification = &DomainError{Kind: KindContention, Code: CodeConcurrentModification,
		Message: "the auction was modified concurrently, please try again"}
	ErrLockTimeout = &DomainError{Kind: KindContention, Code: CodeLockTimeout,
		Message: "the auction is busy, please try again"}
	ErrUserNotFound = &DomainError{Kind: KindBusinessRule, Code: CodeUserNotFound,
		Message: "user not found"}
	ErrInvalidTimeFormat = &DomainError{Kind: KindValidation, Code: CodeInvalidTimeFormat,
		Message: "time must be in RFC3339 format"}
	ErrInvalidStartTime = &DomainError{Kind: KindValidation, Code: CodeInvalidStartTime,
		Message: "start time cannot be in the past"}
	ErrInvalidEndTime = &DomainError{Kind: KindValidation, Code: CodeInvalidEndTime,
		Message: "end time must be after the start time"}
	ErrInvalidStartingPrice = &DomainError{Kind: KindValidation, Code: CodeInvalidStartingPrice,
		Message: "starting price must be greater than zero"}
	ErrInvalidBidIncrement = &DomainError{Kind: KindValidation, Code: CodeInvalidBidIncrement,
		Message: "bid increment must be greater than zero"}
	ErrAuctionStillRunning = &DomainError{Kind: KindBusinessRule, Code: CodeAuctionStillRunning,
		Message: "auction has not reached its end date yet"}
)

// Transport-level sentinels for WebSocket message validation
var (
	ErrMessageTypeRequired        = errors.New("message type is required")
	ErrAuctionIDRequired          = errors.New("auction_id is required")
	ErrBidIDRequired              = errors.New("bid_id is required")
	ErrInvalidAmount              = errors.New("valid amount is required")
	ErrTitleRequired              = errors.New("title is required")
	ErrStartTimeRequired          = errors.New("start_time is required")
	ErrEndTimeRequired            = errors.New("end_time is required")
	ErrStartingPriceRequired      = errors.New("starting_price is required")
	ErrBidIncrementRequired       = errors.New("bid_increment is required")
	ErrInvalidBidIDFormat         = errors.New("invalid bid_id format")
	ErrUnknownMessageType         = errors.New("unknown message type")
	ErrClientEventChannelNotFound = errors.New("client event channel not found")
)

// Store-level sentinels. ErrVersionConflict is the raw optimistic-concurrency
// rejection; the engines retry it locally and only surface
// ErrConcurrentModification once the budget is spent.
var (
	ErrVersionConflict = errors.New("version conflict")
	ErrNoBidsFound     = errors.New("no bids found")
)

// BidTooLow builds a BID_TOO_LOW rejection carrying the structured detail the
// caller needs to pick a valid amount.
func BidTooLow(currentPrice, bidIncrement, minAllowed decimal.Decimal) *DomainError {
	return &DomainError{
		Kind:    KindBusinessRule,
		Code:    CodeBidTooLow,
		Message: fmt.Sprintf("bid must be at least %s", minAllowed.String()),
		Detail: map[string]interface{}{
			"current_price": currentPrice.String(),
			"bid_increment": bidIncrement.String(),
			"min_allowed":   minAllowed.String(),
		},
	}
}

// AuctionClosed builds the status-specific rejection for cancellation against
// a sold, completed or cancelled auction.
func AuctionClosed(status string) *DomainError {
	return &DomainError{
		Kind:    KindBusinessRule,
		Code:    CodeAuctionClosed,
		Message: fmt.Sprintf("bids cannot be cancelled on a %s auction", status),
	}
}

// IsRetryable reports whether an error belongs to the contention class
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind == KindContention
	}
	return false
}
