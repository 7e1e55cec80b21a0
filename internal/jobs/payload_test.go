package jobs_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cellflow/internal/jobs"
)

func TestNewCellPayloadLowercasesIdentifiers(t *testing.T) {
	payload := jobs.NewCellPayload(jobs.CellPayload{
		LLMID:                " LLM-ABC ",
		AssistantID:          "Asst-1",
		DocumentItemID:       "ITEM-9",
		InputDocumentItemIDs: []string{"In-1", "", "IN-2"},
		UserID:               "User-X",
		WorkflowID:           "WF-Y",
		StepName:             "Summarize",
	})

	if payload.LLMID != "llm-abc" || payload.AssistantID != "asst-1" || payload.DocumentItemID != "item-9" {
		t.Fatalf("ids not normalized: %+v", payload)
	}
	if payload.UserID != "user-x" || payload.WorkflowID != "wf-y" {
		t.Fatalf("owner ids not normalized: %+v", payload)
	}
	if len(payload.InputDocumentItemIDs) != 2 || payload.InputDocumentItemIDs[0] != "in-1" || payload.InputDocumentItemIDs[1] != "in-2" {
		t.Fatalf("unexpected inputs: %v", payload.InputDocumentItemIDs)
	}
	if payload.StepName != "Summarize" {
		t.Fatalf("step name must be preserved, got %q", payload.StepName)
	}
	if payload.AssistantTools == nil {
		t.Fatal("expected empty tools slice, got nil")
	}
}

func TestCellPayloadWireShape(t *testing.T) {
	payload := jobs.NewCellPayload(jobs.CellPayload{DocumentItemID: "a"})
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{
		"totalStepCount", "totalRowCount", "stepIndex", "rowIndex", "stepName", "llmId",
		"llmProvider", "llmNameApi", "assistantId", "assistantTools", "inputDocumentItemIds",
		"documentItemId", "systemPrompt", "temperature", "maxTokens", "userId", "workflowId",
	}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d: %v", len(want), len(fields), fields)
	}
	for _, key := range want {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing field %q in %s", key, data)
		}
	}
}

func TestDecodeRejectsMismatchedNames(t *testing.T) {
	if _, err := jobs.DecodeCell(jobs.NameRowCompleted, []byte(`{}`)); !errors.Is(err, jobs.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
	if _, err := jobs.DecodeRow("mystery", []byte(`{}`)); !errors.Is(err, jobs.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
	if _, err := jobs.DecodeCell(jobs.NameCell, []byte(`{"documentItemId":""}`)); !errors.Is(err, jobs.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for empty item id, got %v", err)
	}
	if _, err := jobs.DecodeRow(jobs.NameRowCompleted, []byte(`not json`)); !errors.Is(err, jobs.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDefaultOptionsDelays(t *testing.T) {
	opts := jobs.DefaultOptions()
	if opts.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", opts.Attempts)
	}
	cases := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second}
	for attempt, want := range cases {
		if got := opts.DelayFor(attempt); got != want {
			t.Fatalf("DelayFor(%d) = %s, want %s", attempt, got, want)
		}
	}
	fixed := jobs.Options{Attempts: 2, Backoff: jobs.Backoff{Type: jobs.BackoffFixed, Delay: 50 * time.Millisecond}}
	if got := fixed.DelayFor(3); got != 50*time.Millisecond {
		t.Fatalf("fixed backoff should not grow, got %s", got)
	}
}

func TestExponentialDelayIsCapped(t *testing.T) {
	opts := jobs.Options{Attempts: 64, Backoff: jobs.Backoff{Type: jobs.BackoffExponential, Delay: time.Second}}
	for _, attempt := range []int{13, 40, 64, 1000} {
		if got := opts.DelayFor(attempt); got != jobs.MaxBackoff {
			t.Fatalf("DelayFor(%d) = %s, want %s", attempt, got, jobs.MaxBackoff)
		}
	}
	if got := opts.DelayFor(12); got != 2048*time.Second {
		t.Fatalf("DelayFor(12) = %s, want uncapped 2048s", got)
	}
}

func TestCountFlows(t *testing.T) {
	leaf := jobs.Flow{Name: jobs.NameCell}
	mid := jobs.Flow{Name: jobs.NameCell, Children: []jobs.Flow{leaf}}
	root := jobs.Flow{Name: jobs.NameRowCompleted, Children: []jobs.Flow{mid}}
	if got := jobs.CountFlows([]jobs.Flow{root, root}); got != 6 {
		t.Fatalf("expected 6 nodes, got %d", got)
	}
}

func TestOptionsEncodeDelayInMilliseconds(t *testing.T) {
	data, err := json.Marshal(jobs.DefaultOptions())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"attempts":3,"backoff":{"type":"exponential","delay":1000}}` {
		t.Fatalf("unexpected wire shape: %s", data)
	}
	var decoded jobs.Options
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != jobs.DefaultOptions() {
		t.Fatalf("decoded options differ: %+v", decoded)
	}
}
