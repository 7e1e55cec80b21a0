package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// Redis publishes each event as a JSON Envelope on "<prefix>:<room>".
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a pub/sub notifier.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: strings.TrimSuffix(strings.TrimSpace(prefix), ":")}
}

// Channel returns the pub/sub channel for a room.
func (r *Redis) Channel(room string) string {
	if r.prefix == "" {
		return room
	}
	return r.prefix + ":" + room
}

func (r *Redis) Emit(ctx context.Context, room string, event Event, data any) error {
	body, err := newEnvelope(room, event, data)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.Channel(room), body).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, r.Channel(room), err)
	}
	return nil
}
