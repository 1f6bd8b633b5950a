package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gavel-auction-service/internal/domain/shared"

	"github.com/google/uuid"
)

type MessageType string

const (
	// Client to Server message types
	MessageTypeSubscribe     MessageType = "subscribe"
	MessageTypeUnsubscribe   MessageType = "unsubscribe"
	MessageTypePlaceBid      MessageType = "place_bid"
	MessageTypeCancelBid     MessageType = "cancel_bid"
	MessageTypeRestoreBid    MessageType = "restore_bid"
	MessageTypeCreateAuction MessageType = "create_auction"
	MessageTypeGetAuction    MessageType = "get_auction"
	MessageTypeListAuctions  MessageType = "list_auctions"
	MessageTypePing          MessageType = "ping"

	// Server to Client message types
	MessageTypeBidPlaced       MessageType = "bid_placed"
	MessageTypeBidOutbid       MessageType = "bid_outbid"
	MessageTypeBidCancelled    MessageType = "bid_cancelled"
	MessageTypeBidRestored     MessageType = "bid_restored"
	MessageTypeAuctionExtended MessageType = "auction_extended"
	MessageTypeAuctionEnded    MessageType = "auction_ended"
	MessageTypeAuctionUpdate   MessageType = "auction_update"
	MessageTypeAuctionCreated  MessageType = "auction_created"
	MessageTypeError           MessageType = "error"
	MessageTypePong            MessageType = "pong"
)

type ClientMessage struct {
	Type      MessageType            `json:"type"`
	AuctionID *uuid.UUID             `json:"auction_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// ServerMessage represents a message sent from server to client
type ServerMessage struct {
	Type      MessageType            `json:"type"`
	AuctionID *uuid.UUID             `json:"auction_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     *string                `json:"error,omitempty"`
	ErrorCode *string                `json:"error_code,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func NewServerMessage(msgType MessageType) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now().Unix(),
	}
}

func NewErrorMessage(err error, auctionID *uuid.UUID) *ServerMessage {
	text := err.Error()
	msg := &ServerMessage{
		Type:      MessageTypeError,
		AuctionID: auctionID,
		Error:     &text,
		Timestamp: time.Now().Unix(),
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		code := string(de.Code)
		msg.ErrorCode = &code
		if de.Detail != nil {
			msg.Data = map[string]interface{}{"detail": de.Detail}
		}
	}
	return msg
}

func (m *ClientMessage) validateAuctionID() error {
	if m.AuctionID == nil || *m.AuctionID == uuid.Nil {
		return shared.ErrAuctionIDRequired
	}
	return nil
}

// ParseClientMessage parses a JSON message from client
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse client message: %w", err)
	}

	if msg.Type == "" {
		return nil, shared.ErrMessageTypeRequired
	}

	return &msg, nil
}

// Validate validates a client message
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if err := m.validateAuctionID(); err != nil {
			return err
		}
	case MessageTypePlaceBid:
		if err := m.validateAuctionID(); err != nil {
			return err
		}
		amount, ok := m.Data["amount"].(float64)
		if !ok || amount <= 0 {
			return shared.ErrInvalidAmount
		}
	case MessageTypeCancelBid, MessageTypeRestoreBid:
		if m.Data["bid_id"] == nil {
			return shared.ErrBidIDRequired
		}
	case MessageTypeCreateAuction:
		if m.Data["title"] == nil {
			return shared.ErrTitleRequired
		}
		if m.Data["start_time"] == nil {
			return shared.ErrStartTimeRequired
		}
		if m.Data["end_time"] == nil {
			return shared.ErrEndTimeRequired
		}
		if m.Data["starting_price"] == nil {
			return shared.ErrStartingPriceRequired
		}
		if m.Data["bid_increment"] == nil {
			return shared.ErrBidIncrementRequired
		}
	case MessageTypeGetAuction:
		if err := m.validateAuctionID(); err != nil {
			return err
		}
	case MessageTypeListAuctions:

	case MessageTypePing:

	default:
		return shared.ErrUnknownMessageType
	}

	return nil
}
