package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorMatchesByCode(t *testing.T) {
	detailed := BidTooLow(decimal.NewFromInt(120), decimal.NewFromInt(10), decimal.NewFromInt(130))

	require.ErrorIs(t, detailed, ErrBidTooLow)
	require.NotErrorIs(t, detailed, ErrAuctionNotFound)

	wrapped := fmt.Errorf("placing bid: %w", detailed)
	require.ErrorIs(t, wrapped, ErrBidTooLow)

	var de *DomainError
	require.ErrorAs(t, wrapped, &de)
	require.Equal(t, "130", de.Detail["min_allowed"])
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(ErrLockTimeout))
	require.True(t, IsRetryable(ErrConcurrentModification))
	require.False(t, IsRetryable(ErrBidTooLow))
	require.False(t, IsRetryable(errors.New("plain")))
	require.False(t, IsRetryable(ErrVersionConflict))
}
