package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RelayChannel is the Redis channel shared by all instances
const RelayChannel = "smartshot:events"

// RemoteDeliverer hands frames from other instances to local viewers
type RemoteDeliverer interface {
	DeliverRemote(frame []byte) error
}

// relayMessage wraps an event envelope with its origin instance
type relayMessage struct {
	InstanceID string          `json:"instanceId"`
	Frame      json.RawMessage `json:"frame"`
}

// EventRelay shares viewer events between server instances over Redis
// pub/sub. Frames published by this instance are ignored on receipt.
type EventRelay struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	local      RemoteDeliverer
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEventRelay creates a relay delivering remote frames to local
func NewEventRelay(redisService *RedisService, local RemoteDeliverer, instanceID string) *EventRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventRelay{
		redis:      redisService,
		local:      local,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the relay channel and begins delivering frames
func (r *EventRelay) Start() error {
	r.pubsub = r.redis.Subscribe(r.ctx, RelayChannel)

	// Wait for subscription confirmation
	if _, err := r.pubsub.Receive(r.ctx); err != nil {
		return err
	}

	go r.processMessages()

	log.Printf("✅ [RELAY] Listening on %s (instance: %s)", RelayChannel, r.instanceID)
	return nil
}

// Publish sends a locally originated frame to the other instances
func (r *EventRelay) Publish(ctx context.Context, frame []byte) error {
	data, err := json.Marshal(relayMessage{InstanceID: r.instanceID, Frame: frame})
	if err != nil {
		return err
	}
	return r.redis.Publish(ctx, RelayChannel, data)
}

func (r *EventRelay) processMessages() {
	ch := r.pubsub.Channel()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage([]byte(msg.Payload))
		}
	}
}

// handleMessage delivers one relayed frame unless it came from this instance
func (r *EventRelay) handleMessage(payload []byte) bool {
	var message relayMessage
	if err := json.Unmarshal(payload, &message); err != nil {
		log.Printf("⚠️ [RELAY] Failed to unmarshal message: %v", err)
		return false
	}

	// Skip messages from this instance (avoid loops)
	if message.InstanceID == r.instanceID {
		return false
	}

	if err := r.local.DeliverRemote(message.Frame); err != nil {
		log.Printf("⚠️ [RELAY] Dropping frame from %s: %v", message.InstanceID, err)
		return false
	}
	return true
}

// Stop stops the relay
func (r *EventRelay) Stop() error {
	r.cancel()
	if r.pubsub != nil {
		return r.pubsub.Close()
	}
	return nil
}
