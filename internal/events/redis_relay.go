package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the slice of the go-redis client the relay needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisRelay forwards every dispatched event as JSON to a Redis channel for
// dashboards and other replicas.
type RedisRelay struct {
	client  Publisher
	channel string
}

// NewRedisRelay builds a relay on channel.
func NewRedisRelay(client Publisher, channel string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel}
}

// Attach subscribes the relay to every event type.
func (r *RedisRelay) Attach(d Dispatcher) {
	for _, t := range AllEventTypes {
		d.Subscribe(t, r.Handle)
	}
}

// Handle publishes one event.
func (r *RedisRelay) Handle(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type, err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}
