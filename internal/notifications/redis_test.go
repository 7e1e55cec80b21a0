package notifications_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellflow/internal/notifications"
)

func TestRedisChannelNaming(t *testing.T) {
	assert.Equal(t, "cellflow:room:user-1", notifications.NewRedis(nil, "cellflow:room:").Channel("user-1"))
	assert.Equal(t, "user-1", notifications.NewRedis(nil, "").Channel("user-1"))
}

func TestRedisPublishesEnvelope(t *testing.T) {
	addr := os.Getenv("CELLFLOW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CELLFLOW_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	notifier := notifications.NewRedis(client, "cellflow-test")
	sub := client.Subscribe(ctx, notifier.Channel("user-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, notifier.Emit(ctx, "user-1", notifications.EventRowCompleted, map[string]any{"row": 3}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var envelope notifications.Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
	assert.Equal(t, notifications.EventRowCompleted, envelope.Event)
	assert.Equal(t, "user-1", envelope.Room)
	assert.JSONEq(t, `{"row":3}`, string(envelope.Data))
}
