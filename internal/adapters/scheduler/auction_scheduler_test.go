package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gavel-auction-service/internal/domain/shared"

	"github.com/stretchr/testify/require"
)

func TestExpiryResolved(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"already ended", shared.ErrAuctionEnded, true},
		{"not found", shared.ErrAuctionNotFound, true},
		{"wrapped terminal", fmt.Errorf("ending auction: %w", shared.ErrAuctionEnded), true},
		{"still running keeps the entry", shared.ErrAuctionStillRunning, false},
		{"contention keeps the entry", shared.ErrConcurrentModification, false},
		{"lock timeout keeps the entry", shared.ErrLockTimeout, false},
		{"infrastructure keeps the entry", errors.New("dial tcp: connection refused"), false},
		{"context cancelled keeps the entry", context.Canceled, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, expiryResolved(tc.err))
		})
	}
}
