package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gavel-auction-service/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroadcaster implements the broadcaster interface using Redis pub/sub.
// Fan-out runs on two channel families: one per auction and one per user, so
// outbid events reach a bidder regardless of which auctions they watch.
type RedisBroadcaster struct {
	client          *redis.Client
	subscribers     map[string]chan outbound.Event // clientID -> local channel
	pubsubs         map[string]*redis.PubSub       // clientID -> pubsub instance
	clientsToTopics map[string]map[string]bool     // clientID -> topic -> subscribed
	mu              sync.RWMutex
	ctx             context.Context
	cancel          context.CancelFunc
	logger          zerolog.Logger
}

type RedisBroadcasterParams struct {
	RedisClient *redis.Client
	Logger      zerolog.Logger
}

func NewBroadcaster(params RedisBroadcasterParams) *RedisBroadcaster {
	ctx, cancel := context.WithCancel(context.Background())

	broadcaster := &RedisBroadcaster{
		client:          params.RedisClient,
		subscribers:     make(map[string]chan outbound.Event),
		pubsubs:         make(map[string]*redis.PubSub),
		clientsToTopics: make(map[string]map[string]bool),
		ctx:             ctx,
		cancel:          cancel,
		logger:          params.Logger.With().Str("component", "redis_broadcaster").Logger(),
	}

	return broadcaster
}

func auctionTopic(auctionID uuid.UUID) string {
	return fmt.Sprintf("auction:%s", auctionID.String())
}

func userTopic(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s", userID.String())
}

// Subscribe subscribes a client to events for a specific auction
func (r *RedisBroadcaster) Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	return r.subscribeTopic(ctx, auctionTopic(auctionID), clientID, eventChan)
}

// SubscribeUser subscribes a client to events addressed to a user
func (r *RedisBroadcaster) SubscribeUser(ctx context.Context, userID uuid.UUID, clientID string, eventChan chan outbound.Event) error {
	return r.subscribeTopic(ctx, userTopic(userID), clientID, eventChan)
}

func (r *RedisBroadcaster) subscribeTopic(ctx context.Context, topic, clientID string, eventChan chan outbound.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if client is already subscribed to this topic
	if r.clientsToTopics[clientID] != nil && r.clientsToTopics[clientID][topic] {
		r.logger.Info().
			Str("client_id", clientID).
			Str("topic", topic).
			Msg("Client already subscribed to topic")
		return nil
	}

	// Store the event channel if this is the first subscription
	if r.subscribers[clientID] == nil {
		r.subscribers[clientID] = eventChan
	}

	if r.clientsToTopics[clientID] == nil {
		r.clientsToTopics[clientID] = make(map[string]bool)
	}
	r.clientsToTopics[clientID][topic] = true

	// Get or create pubsub connection for this client
	var pubsub *redis.PubSub
	if existingPubsub, exists := r.pubsubs[clientID]; exists {
		pubsub = existingPubsub
	} else {
		pubsub = r.client.Subscribe(ctx)
		r.pubsubs[clientID] = pubsub

		// Start goroutine to listen for Redis messages and forward to local channel
		go r.listenForRedisMessages(pubsub, clientID, eventChan)
	}

	if err := pubsub.Subscribe(ctx, topic); err != nil {
		r.logger.Error().Err(err).Str("client_id", clientID).Str("topic", topic).Msg("Failed to subscribe to Redis channel")
		return err
	}

	r.logger.Info().
		Str("client_id", clientID).
		Str("topic", topic).
		Msg("Client subscribed via Redis")
	return nil
}

// Unsubscribe unsubscribes a client from events for a specific auction
func (r *RedisBroadcaster) Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error {
	topic := auctionTopic(auctionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if clientTopics, exists := r.clientsToTopics[clientID]; exists {
		delete(clientTopics, topic)

		// If no more topics, clean up the client entry
		if len(clientTopics) == 0 {
			delete(r.clientsToTopics, clientID)

			if eventChan, exists := r.subscribers[clientID]; exists {
				close(eventChan)
				delete(r.subscribers, clientID)
			}

			if pubsub, exists := r.pubsubs[clientID]; exists {
				if err := pubsub.Close(); err != nil {
					r.logger.Error().Err(err).Str("client_id", clientID).Msg("Error closing Redis pubsub for client")
				}
				delete(r.pubsubs, clientID)
			}
		} else {
			if pubsub, exists := r.pubsubs[clientID]; exists {
				if err := pubsub.Unsubscribe(ctx, topic); err != nil {
					r.logger.Error().Err(err).Str("client_id", clientID).Str("topic", topic).Msg("Error unsubscribing from Redis channel")
				}
			}
		}
	}

	r.logger.Info().
		Str("client_id", clientID).
		Str("topic", topic).
		Msg("Client unsubscribed")
	return nil
}

// Publish publishes an event to all subscribers of an auction via Redis
func (r *RedisBroadcaster) Publish(ctx context.Context, auctionID uuid.UUID, event outbound.Event) error {
	return r.publishTopic(ctx, auctionTopic(auctionID), event)
}

// PublishToUser publishes an event addressed to a single user
func (r *RedisBroadcaster) PublishToUser(ctx context.Context, userID uuid.UUID, event outbound.Event) error {
	return r.publishTopic(ctx, userTopic(userID), event)
}

func (r *RedisBroadcaster) publishTopic(ctx context.Context, topic string, event outbound.Event) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.Publish(ctx, topic, eventJSON)
	if err := result.Err(); err != nil {
		r.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish to Redis")
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	r.logger.Debug().
		Str("event_type", string(event.Type)).
		Str("topic", topic).
		Int64("subscriber_count", result.Val()).
		Msg("Published event")

	return nil
}

// listenForRedisMessages listens for Redis messages and forwards them to the local channel
func (r *RedisBroadcaster) listenForRedisMessages(pubsub *redis.PubSub, clientID string, localChan chan outbound.Event) {
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error().Interface("panic", err).Str("client_id", clientID).Msg("Redis message listener panic for client")
		}
	}()

	ch := pubsub.Channel()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				r.logger.Info().Str("client_id", clientID).Msg("Redis channel closed for client")
				return
			}

			var event outbound.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to unmarshal Redis message for client")
				continue
			}

			select {
			case localChan <- event:
			default:
				r.logger.Warn().Str("client_id", clientID).Msg("Local channel full for client, dropping event")
			}

		case <-r.ctx.Done():
			r.logger.Info().Str("client_id", clientID).Msg("Redis broadcaster context cancelled for client")
			return
		}
	}
}

func (r *RedisBroadcaster) Close() error {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for clientID, eventChan := range r.subscribers {
		close(eventChan)
		delete(r.subscribers, clientID)
	}

	for clientID, pubsub := range r.pubsubs {
		if err := pubsub.Close(); err != nil {
			r.logger.Error().Err(err).Str("client_id", clientID).Msg("Error closing Redis pubsub for client")
		}
		delete(r.pubsubs, clientID)
	}

	return r.client.Close()
}

func (r *RedisBroadcaster) IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clientTopics, exists := r.clientsToTopics[clientID]
	if !exists {
		return false
	}

	return clientTopics[auctionTopic(auctionID)]
}
