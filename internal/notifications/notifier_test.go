package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cellflow/internal/config"
	"cellflow/internal/logging"
	"cellflow/internal/notifications"
)

func TestNewFromConfigSelectsBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{backend: "noop", want: "notifications.Noop"},
		{backend: "log", want: "*notifications.Log"},
		{backend: "webhook", want: "*notifications.Webhook"},
		{backend: "redis", wantErr: true},
		{backend: "carrier-pigeon", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Notifications.Backend = tc.backend
			cfg.Notifications.WebhookURL = "http://127.0.0.1:1/hook"
			notifier, err := notifications.NewFromConfig(&cfg, nil, logging.NewNop())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for backend %q", tc.backend)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromConfig: %v", err)
			}
			if got := typeName(notifier); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func typeName(n notifications.Notifier) string {
	switch n.(type) {
	case notifications.Noop:
		return "notifications.Noop"
	case *notifications.Log:
		return "*notifications.Log"
	case *notifications.Webhook:
		return "*notifications.Webhook"
	case *notifications.Redis:
		return "*notifications.Redis"
	default:
		return "unknown"
	}
}

func TestWebhookPostsEnvelope(t *testing.T) {
	var (
		gotEnvelope notifications.Envelope
		gotHeader   string
		gotType     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotHeader = r.Header.Get("X-Cellflow-Event")
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotEnvelope); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := notifications.NewWebhook(server.URL, server.Client())
	data := map[string]any{"documentItemId": "item-1", "status": "completed"}
	if err := notifier.Emit(context.Background(), "user-1", notifications.EventCellCompleted, data); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if gotHeader != "cell-completed" || gotType != "application/json" {
		t.Fatalf("unexpected headers event=%q type=%q", gotHeader, gotType)
	}
	if gotEnvelope.Room != "user-1" || gotEnvelope.Event != notifications.EventCellCompleted {
		t.Fatalf("unexpected envelope %+v", gotEnvelope)
	}
	if !strings.Contains(string(gotEnvelope.Data), `"status":"completed"`) {
		t.Fatalf("payload missing status: %s", gotEnvelope.Data)
	}
	if gotEnvelope.SentAt.IsZero() {
		t.Fatal("expected sentAt to be set")
	}
}

func TestWebhookReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := notifications.NewWebhook(server.URL, nil).Emit(context.Background(), "u", notifications.EventRowCompleted, map[string]int{"row": 0})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected 502 error, got %v", err)
	}
}

func TestWebhookWithoutEndpointIsNoop(t *testing.T) {
	if err := notifications.NewWebhook("  ", nil).Emit(context.Background(), "u", notifications.EventCellActive, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestRecorderCapturesEventsAndErrors(t *testing.T) {
	rec := &notifications.Recorder{}
	ctx := context.Background()
	_ = rec.Emit(ctx, "u", notifications.EventCellActive, 1)
	_ = rec.Emit(ctx, "u", notifications.EventCellCompleted, 2)
	_ = rec.Emit(ctx, "u", notifications.EventCellActive, 3)

	if len(rec.Events()) != 3 || len(rec.Named(notifications.EventCellActive)) != 2 {
		t.Fatalf("unexpected recording %+v", rec.Events())
	}

	boom := errors.New("boom")
	rec.Err = boom
	if err := rec.Emit(ctx, "u", notifications.EventRowCompleted, nil); !errors.Is(err, boom) {
		t.Fatalf("expected configured error, got %v", err)
	}
	if len(rec.Named(notifications.EventRowCompleted)) != 1 {
		t.Fatal("failed emits are still recorded")
	}
}
