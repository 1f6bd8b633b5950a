package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"gavel-auction-service/internal/domain/auction"
	"gavel-auction-service/internal/domain/shared"
	"gavel-auction-service/internal/ports/inbound"
	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WsHandler manages WebSocket connections and message routing
type WsHandler struct {
	clients        map[string]*WsClient // clientID -> Client
	clientsMu      sync.RWMutex
	eventChannels  map[string]chan outbound.Event // clientID -> local event channel
	channelsMu     sync.RWMutex
	upgrader       websocket.Upgrader
	auctionService inbound.AuctionService
	biddingService inbound.BiddingService
	broadcaster    outbound.Broadcaster
	logger         zerolog.Logger
}

type WsHandlerParams struct {
	Upgrader       websocket.Upgrader
	AuctionService inbound.AuctionService
	BiddingService inbound.BiddingService
	Broadcaster    outbound.Broadcaster
	Logger         zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(params WsHandlerParams) *WsHandler {
	return &WsHandler{
		clients:        make(map[string]*WsClient),
		eventChannels:  make(map[string]chan outbound.Event),
		upgrader:       params.Upgrader,
		auctionService: params.AuctionService,
		biddingService: params.BiddingService,
		broadcaster:    params.Broadcaster,
		logger:         params.Logger.With().Str("component", "ws_handler").Logger(),
	}
}

// HandleWebSocket handles WebSocket connection upgrades
func (handler *WsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		http.Error(w, "invalid user_id format", http.StatusBadRequest)
		return
	}

	conn, err := handler.upgrader.Upgrade(w, r, nil)
	if err != nil {
		handler.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(WsClientParams{
		UserID:  userID,
		Conn:    conn,
		Handler: handler,
		Logger:  handler.logger,
	})

	handler.registerClient(client)
	eventChan := handler.createEventChannel(client.id)

	// Outbid and other user-addressed events flow through the user topic;
	// subscribing here means a bidder hears about being outbid without
	// explicitly subscribing to anything.
	if err := handler.broadcaster.SubscribeUser(r.Context(), userID, client.id, eventChan); err != nil {
		handler.logger.Error().Err(err).Str("client_id", client.id).Msg("Failed to subscribe client to user events")
	}

	client.Start()

	go handler.listenForClientEvents(client)

	// Wait for client to disconnect
	go func() {
		<-client.ctx.Done()
		handler.unregisterClient(client)
	}()

	handler.logger.Info().Str("client_id", client.id).Str("user_id", client.userID.String()).Msg("WebSocket client connected")
}

// createEventChannel creates a local event channel for a client
func (handler *WsHandler) createEventChannel(clientID string) chan outbound.Event {
	handler.channelsMu.Lock()
	defer handler.channelsMu.Unlock()

	if eventChan, exists := handler.eventChannels[clientID]; exists {
		return eventChan
	}

	eventChan := make(chan outbound.Event, 100)
	handler.eventChannels[clientID] = eventChan

	return eventChan
}

func (handler *WsHandler) getEventChannel(clientID string) chan outbound.Event {
	handler.channelsMu.RLock()
	defer handler.channelsMu.RUnlock()

	return handler.eventChannels[clientID]
}

func (handler *WsHandler) removeEventChannel(clientID string) {
	handler.channelsMu.Lock()
	defer handler.channelsMu.Unlock()

	if eventChan, exists := handler.eventChannels[clientID]; exists {
		close(eventChan)
		delete(handler.eventChannels, clientID)
	}
}

func (handler *WsHandler) registerClient(client *WsClient) {
	handler.clientsMu.Lock()
	defer handler.clientsMu.Unlock()
	handler.clients[client.id] = client
}

func (handler *WsHandler) unregisterClient(client *WsClient) {
	handler.clientsMu.Lock()
	defer handler.clientsMu.Unlock()

	delete(handler.clients, client.id)

	// The Redis broadcaster drops the dead subscription on its own once the
	// local channel goes away.
	client.Stop()
	handler.removeEventChannel(client.id)

	handler.logger.Info().Str("client_id", client.id).Str("user_id", client.userID.String()).Int("total_clients", len(handler.clients)).Msg("WebSocket client disconnected")
}

// listenForClientEvents forwards broadcast events to the client socket
func (handler *WsHandler) listenForClientEvents(client *WsClient) {
	eventChan := handler.getEventChannel(client.id)
	if eventChan == nil {
		handler.logger.Error().Str("client_id", client.id).Msg("No event channel found for client")
		return
	}

	for {
		select {
		case event := <-eventChan:
			wsMessage := handler.convertEventToMessage(event)

			if err := client.Send(wsMessage); err != nil {
				handler.logger.Error().
					Err(err).Str("client_id", client.id).Msg("Failed to send event to WebSocket client")
			}

		case <-client.ctx.Done():
			return
		}
	}
}

func (handler *WsHandler) HandleClientMessage(client *WsClient, msg *ClientMessage) error {
	switch msg.Type {
	case MessageTypeSubscribe:
		return handler.handleSubscribe(client, msg)

	case MessageTypeUnsubscribe:
		return handler.handleUnsubscribe(client, msg)

	case MessageTypePlaceBid:
		return handler.handlePlaceBid(client, msg)

	case MessageTypeCancelBid:
		return handler.handleCancelBid(client, msg)

	case MessageTypeRestoreBid:
		return handler.handleRestoreBid(client, msg)

	case MessageTypeCreateAuction:
		return handler.handleCreateAuction(client, msg)

	case MessageTypeGetAuction:
		return handler.handleGetAuction(client, msg)

	case MessageTypeListAuctions:
		return handler.handleListAuctions(client, msg)

	default:
		handler.logger.Warn().Str("client_id", client.id).Str("message_type", string(msg.Type)).Msg("Unknown message type from client")
		return shared.ErrUnknownMessageType
	}
}

func (handler *WsHandler) convertEventToMessage(event outbound.Event) *ServerMessage {
	msgType := MessageTypeAuctionUpdate
	switch event.Type {
	case outbound.EventTypeBidPlaced:
		msgType = MessageTypeBidPlaced
	case outbound.EventTypeBidOutbid:
		msgType = MessageTypeBidOutbid
	case outbound.EventTypeBidCancelled:
		msgType = MessageTypeBidCancelled
	case outbound.EventTypeAuctionExtended:
		msgType = MessageTypeAuctionExtended
	case outbound.EventTypeAuctionEnded:
		msgType = MessageTypeAuctionEnded
	case outbound.EventTypeAuctionCreated:
		msgType = MessageTypeAuctionCreated
	}
	return &ServerMessage{
		Type:      msgType,
		AuctionID: &event.AuctionID,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
}

// GetConnectedClients returns the number of connected clients
func (handler *WsHandler) GetConnectedClients() int {
	handler.clientsMu.RLock()
	defer handler.clientsMu.RUnlock()
	return len(handler.clients)
}

func (handler *WsHandler) handleSubscribe(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	eventChan := handler.getEventChannel(client.id)
	if eventChan == nil {
		handler.logger.Error().Str("client_id", client.id).Msg("No event channel found for client")
		return shared.ErrClientEventChannelNotFound
	}

	if err := handler.broadcaster.Subscribe(ctx, *msg.AuctionID, client.id, eventChan); err != nil {
		handler.logger.Error().Err(err).Str("client_id", client.id).Str("auction_id", msg.AuctionID.String()).Msg("Failed to subscribe to auction")
		return err
	}

	response := NewServerMessage(MessageTypeAuctionUpdate)
	response.AuctionID = msg.AuctionID
	response.Data["status"] = "subscribed"

	handler.logger.Info().Str("client_id", client.id).Str("auction_id", msg.AuctionID.String()).Msg("Client subscribed to auction")
	return client.Send(response)
}

// handleUnsubscribe handles unsubscription from auction events
func (handler *WsHandler) handleUnsubscribe(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	if err := handler.broadcaster.Unsubscribe(ctx, *msg.AuctionID, client.id); err != nil {
		return err
	}

	response := NewServerMessage(MessageTypeAuctionUpdate)
	response.AuctionID = msg.AuctionID
	response.Data["status"] = "unsubscribed"

	handler.logger.Info().Str("client_id", client.id).Str("auction_id", msg.AuctionID.String()).Msg("Client unsubscribed from auction")
	return client.Send(response)
}

// handlePlaceBid handles bid placement
func (handler *WsHandler) handlePlaceBid(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	amount, ok := msg.Data["amount"].(float64)
	if !ok {
		return shared.ErrInvalidAmount
	}

	ctx := context.Background()

	bidRequest := inbound.PlaceBidRequest{
		AuctionID: *msg.AuctionID,
		BidderID:  client.userID,
		Amount:    decimal.NewFromFloat(amount),
	}

	placed, err := handler.biddingService.PlaceBid(ctx, bidRequest)
	if err != nil {
		errorMsg := NewErrorMessage(err, msg.AuctionID)
		return client.Send(errorMsg)
	}

	handler.logger.Info().
		Str("bid_id", placed.ID.String()).
		Str("auction_id", msg.AuctionID.String()).
		Str("user_id", client.userID.String()).
		Str("amount", placed.Amount.String()).
		Msg("Bid placed successfully")

	return nil
}

// handleCancelBid handles bid cancellation
func (handler *WsHandler) handleCancelBid(client *WsClient, msg *ClientMessage) error {
	bidIDStr, ok := msg.Data["bid_id"].(string)
	if !ok {
		return shared.ErrBidIDRequired
	}
	bidID, err := uuid.Parse(bidIDStr)
	if err != nil {
		return shared.ErrInvalidBidIDFormat
	}
	permanent, _ := msg.Data["permanent"].(bool)

	ctx := context.Background()

	result, err := handler.biddingService.CancelBid(ctx, inbound.CancelBidRequest{
		BidID:     bidID,
		ActorID:   client.userID,
		Permanent: permanent,
	})
	if err != nil {
		errorMsg := NewErrorMessage(err, msg.AuctionID)
		return client.Send(errorMsg)
	}

	response := NewServerMessage(MessageTypeBidCancelled)
	response.Data["bid_id"] = bidID.String()
	response.Data["new_price"] = result.NewPrice.String()
	if result.NewHighestBidID != nil {
		response.Data["new_highest_bid_id"] = result.NewHighestBidID.String()
	}

	handler.logger.Info().Str("bid_id", bidID.String()).Str("user_id", client.userID.String()).Msg("Bid cancelled successfully")
	return client.Send(response)
}

// handleRestoreBid handles bid restoration, admin only
func (handler *WsHandler) handleRestoreBid(client *WsClient, msg *ClientMessage) error {
	bidIDStr, ok := msg.Data["bid_id"].(string)
	if !ok {
		return shared.ErrBidIDRequired
	}
	bidID, err := uuid.Parse(bidIDStr)
	if err != nil {
		return shared.ErrInvalidBidIDFormat
	}

	ctx := context.Background()

	restored, err := handler.biddingService.RestoreBid(ctx, bidID, client.userID)
	if err != nil {
		errorMsg := NewErrorMessage(err, msg.AuctionID)
		return client.Send(errorMsg)
	}

	response := NewServerMessage(MessageTypeBidRestored)
	response.AuctionID = &restored.AuctionID
	response.Data["bid_id"] = restored.ID.String()
	response.Data["amount"] = restored.Amount.String()
	response.Data["is_outbid"] = restored.IsOutbid

	handler.logger.Info().Str("bid_id", bidID.String()).Str("user_id", client.userID.String()).Msg("Bid restored successfully")
	return client.Send(response)
}

// handleCreateAuction handles auction creation
func (handler *WsHandler) handleCreateAuction(client *WsClient, msg *ClientMessage) error {
	ctx := context.Background()

	title, ok := msg.Data["title"].(string)
	if !ok {
		return shared.ErrTitleRequired
	}

	startTimeStr, ok := msg.Data["start_time"].(string)
	if !ok {
		return shared.ErrStartTimeRequired
	}

	endTimeStr, ok := msg.Data["end_time"].(string)
	if !ok {
		return shared.ErrEndTimeRequired
	}

	startingPrice, ok := msg.Data["starting_price"].(float64)
	if !ok {
		return shared.ErrStartingPriceRequired
	}

	bidIncrement, ok := msg.Data["bid_increment"].(float64)
	if !ok {
		return shared.ErrBidIncrementRequired
	}

	auctionRequest := inbound.CreateAuctionRequest{
		SellerID:      client.userID,
		Title:         title,
		StartTime:     startTimeStr,
		EndTime:       endTimeStr,
		StartingPrice: decimal.NewFromFloat(startingPrice),
		BidIncrement:  decimal.NewFromFloat(bidIncrement),
	}

	created, err := handler.auctionService.CreateAuction(ctx, auctionRequest)
	if err != nil {
		errorMsg := NewErrorMessage(err, nil)
		return client.Send(errorMsg)
	}

	response := handler.createAuctionResponse(created, MessageTypeAuctionCreated, nil)

	handler.logger.Info().Str("auction_id", created.ID.String()).Str("user_id", client.userID.String()).Msg("Auction created successfully")
	return client.Send(response)
}

// handleGetAuction handles getting auction details
func (handler *WsHandler) handleGetAuction(client *WsClient, msg *ClientMessage) error {
	if msg.AuctionID == nil {
		return shared.ErrAuctionIDRequired
	}

	ctx := context.Background()

	a, err := handler.auctionService.GetAuction(ctx, *msg.AuctionID)
	if err != nil {
		errorMsg := NewErrorMessage(err, msg.AuctionID)
		return client.Send(errorMsg)
	}

	response := handler.createAuctionResponse(a, MessageTypeAuctionUpdate, msg.AuctionID)

	return client.Send(response)
}

// handleListAuctions handles listing auctions
func (handler *WsHandler) handleListAuctions(client *WsClient, msg *ClientMessage) error {
	ctx := context.Background()

	limit := 10
	if limitVal, ok := msg.Data["limit"].(float64); ok {
		limit = int(limitVal)
	}

	offset := 0
	if offsetVal, ok := msg.Data["offset"].(float64); ok {
		offset = int(offsetVal)
	}

	var status *auction.Status
	if statusStr, ok := msg.Data["status"].(string); ok && statusStr != "" {
		st := auction.Status(statusStr)
		status = &st
	}

	auctionRequest := inbound.ListAuctionsRequest{
		Page:     offset/limit + 1, // Convert offset to page
		PageSize: limit,
		Status:   status,
	}

	auctions, err := handler.auctionService.ListAuctions(ctx, auctionRequest)
	if err != nil {
		errorMsg := NewErrorMessage(err, nil)
		return client.Send(errorMsg)
	}

	response := NewServerMessage(MessageTypeAuctionUpdate)
	response.Data["auctions"] = auctions
	response.Data["count"] = len(auctions)

	return client.Send(response)
}

func (handler *WsHandler) createAuctionResponse(a *auction.Auction, msgType MessageType, auctionID *uuid.UUID) *ServerMessage {
	response := NewServerMessage(msgType)
	if auctionID != nil {
		response.AuctionID = auctionID
	} else {
		id := a.ID
		response.AuctionID = &id
	}

	response.Data["auction_id"] = a.ID
	response.Data["seller_id"] = a.SellerID
	response.Data["title"] = a.Title
	response.Data["start_date"] = a.StartDate.Format(time.RFC3339)
	response.Data["end_date"] = a.EndDate.Format(time.RFC3339)
	response.Data["starting_price"] = a.StartingPrice.String()
	response.Data["current_price"] = a.CurrentPrice.String()
	response.Data["bid_increment"] = a.BidIncrement.String()
	response.Data["minimum_bid"] = a.MinimumBid().String()
	response.Data["status"] = a.Status
	if a.HighestBidID != nil {
		response.Data["highest_bid_id"] = a.HighestBidID.String()
	}

	return response
}
