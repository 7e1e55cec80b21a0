package services_test

import (
	"context"
	"testing"

	"cellflow/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-42")
	ctx = services.WithQueue(ctx, "openai-gpt-4o-mini")
	ctx = services.WithWorkflowID(ctx, "wf-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-42" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if queue, ok := services.QueueFromContext(ctx); !ok || queue != "openai-gpt-4o-mini" {
		t.Fatalf("unexpected queue: %v %v", queue, ok)
	}
	if wf, ok := services.WorkflowIDFromContext(ctx); !ok || wf != "wf-1" {
		t.Fatalf("unexpected workflow id: %v %v", wf, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithQueue(ctx, "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.QueueFromContext(ctx); ok {
		t.Fatal("expected no queue value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
}
