package outbound

import (
	"context"

	"github.com/google/uuid"
)

// EventType represents the type of event being broadcasted
type EventType string

const (
	EventTypeAuctionCreated  EventType = "auction.created"
	EventTypeAuctionExtended EventType = "auction.extended"
	EventTypeAuctionEnded    EventType = "auction.ended"
	EventTypeBidPlaced       EventType = "bid.placed"
	EventTypeBidOutbid       EventType = "bid.outbid"
	EventTypeBidCancelled    EventType = "bid.cancelled"
	EventTypeError           EventType = "error"
)

// Event represents a broadcast event
type Event struct {
	Type      EventType              `json:"type"`
	AuctionID uuid.UUID              `json:"auction_id"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Broadcaster is the real-time fan-out. Publishing is best-effort with no
// delivery guarantee; callers must never fail a committed operation because a
// publish failed.
type Broadcaster interface {
	// Subscribe subscribes a client to events for a specific auction.
	// When a client subscribes to multiple auctions, all events are delivered
	// to the same channel.
	Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan Event) error

	// SubscribeUser subscribes a client to events addressed to a user
	SubscribeUser(ctx context.Context, userID uuid.UUID, clientID string, eventChan chan Event) error

	// Unsubscribe unsubscribes a client from events for a specific auction
	Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error

	// Publish publishes an event to all subscribers of an auction
	Publish(ctx context.Context, auctionID uuid.UUID, event Event) error

	// PublishToUser publishes an event addressed to a single user
	PublishToUser(ctx context.Context, userID uuid.UUID, event Event) error

	// IsSubscribed checks if a client is subscribed to an auction
	IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool
}
