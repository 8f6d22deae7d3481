// Package realtime fans room events out to connected subscribers over Redis pub/sub.
//
// Delivery is best-effort and at-least-once per subscriber that is connected
// when the event is published; there is no replay. Subscribers should treat an
// event as a wake-up signal and re-fetch authoritative state.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Ibragimm228/realtimechat/internal/metrics"
	"github.com/Ibragimm228/realtimechat/internal/models"
)

// subscriberBuffer is the number of decoded events held per subscriber.
const subscriberBuffer = 64

// Broker publishes and subscribes to per-room channels.
type Broker struct {
	client redis.UniversalClient
	logger zerolog.Logger
}

// NewBroker creates a broker on top of an existing Redis client.
func NewBroker(client redis.UniversalClient, logger zerolog.Logger) *Broker {
	return &Broker{client: client, logger: logger}
}

// channelName returns the pub/sub channel for a room.
func channelName(roomID string) string {
	return "realtime:" + roomID
}

// Publish sends an event of the given kind to every subscriber of the room.
func (b *Broker) Publish(ctx context.Context, roomID string, kind models.EventKind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	envelope, err := json.Marshal(models.Event{Kind: kind, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	if err := b.client.Publish(ctx, channelName(roomID), envelope).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}

	metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
	return nil
}

// LiveRooms counts rooms with at least one realtime subscriber.
func (b *Broker) LiveRooms(ctx context.Context) (int, error) {
	channels, err := b.client.PubSubChannels(ctx, channelName("*")).Result()
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	return len(channels), nil
}

// Subscribe attaches to a room channel. It returns once Redis has confirmed
// the subscription, so events published afterwards are delivered.
func (b *Broker) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channelName(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", roomID, err)
	}

	sub := &Subscription{
		roomID: roomID,
		pubsub: pubsub,
		events: make(chan models.Event, subscriberBuffer),
		done:   make(chan struct{}),
		logger: b.logger.With().Str("room_id", roomID).Logger(),
	}
	go sub.run()

	metrics.Subscribers.Inc()
	return sub, nil
}

// Subscription is a live attachment to one room channel.
type Subscription struct {
	roomID    string
	pubsub    *redis.PubSub
	events    chan models.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func (s *Subscription) run() {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		var evt models.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable realtime event")
			continue
		}

		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

// Events returns the channel of decoded events. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Close detaches from the room channel.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		metrics.Subscribers.Dec()
	})
	return err
}
