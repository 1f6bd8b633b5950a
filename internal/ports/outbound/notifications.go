package outbound

import (
	"context"

	"github.com/google/uuid"
)

// NotificationKind identifies the template a queued notification renders with
type NotificationKind string

const (
	NotificationOutbid NotificationKind = "bid.outbid"
)

// Notification is one asynchronous message for a user. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Notification struct {
	Kind      NotificationKind       `json:"kind"`
	Recipient uuid.UUID              `json:"recipient"`
	Payload   map[string]interface{} `json:"payload"`
}

// NotificationQueue enqueues notifications for asynchronous delivery. Enqueue
// must not block the caller's response path for longer than a queue write.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n Notification) error
}
