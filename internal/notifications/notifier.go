package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"cellflow/internal/config"
	"cellflow/internal/logging"
)

// Event names a lifecycle notification.
type Event string

const (
	EventCellActive    Event = "cell-active"
	EventCellCompleted Event = "cell-completed"
	EventRowCompleted  Event = "row-completed"
)

// Room keys cell and row events by user and workflow, so a client watching
// one workflow never sees another's traffic.
func Room(userID, workflowID string) string {
	return userID + ":" + workflowID
}

// Notifier emits an event to every observer of a room.
type Notifier interface {
	Emit(ctx context.Context, room string, event Event, data any) error
}

// Envelope is the wire shape shared by the webhook and redis notifiers.
type Envelope struct {
	Room   string          `json:"room"`
	Event  Event           `json:"event"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sentAt"`
}

func newEnvelope(room string, event Event, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	body, err := json.Marshal(Envelope{Room: room, Event: event, Data: raw, SentAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return body, nil
}

// NewFromConfig builds the notifier selected by notifications.backend. The
// redis backend publishes through client, which must be non-nil.
func NewFromConfig(cfg *config.Config, client *redis.Client, logger *slog.Logger) (Notifier, error) {
	switch cfg.Notifications.Backend {
	case "", "noop":
		return Noop{}, nil
	case "log":
		return NewLog(logger), nil
	case "webhook":
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return NewWebhook(cfg.Notifications.WebhookURL, &http.Client{Timeout: timeout}), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis notifications need a redis client")
		}
		return NewRedis(client, cfg.Notifications.ChannelPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported notifications backend %q", cfg.Notifications.Backend)
	}
}

// Noop drops every event.
type Noop struct{}

func (Noop) Emit(context.Context, string, Event, any) error { return nil }

// Log writes events to a logger at info level.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a notifier that logs under the notifications component.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logging.NewComponentLogger(logger, "notifications")}
}

func (l *Log) Emit(ctx context.Context, room string, event Event, data any) error {
	l.logger.InfoContext(ctx, "notification",
		logging.EventType(string(event)),
		logging.String("room", room),
		logging.Any("data", data),
	)
	return nil
}
