package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cellflow/internal/repository"
	"cellflow/internal/testsupport"
	"cellflow/internal/workflow"
)

func TestMemoryLookupsAreCaseInsensitive(t *testing.T) {
	wf := testsupport.NewGrid(testsupport.GridSpec{Steps: []string{"Extract", "Summarize"}, Rows: 2, Contents: []string{"raw"}})
	repo, err := repository.NewMemory(wf)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()

	found, err := repo.FindWorkflowWithSteps(ctx, "wf-1")
	if err != nil || found == nil {
		t.Fatalf("FindWorkflowWithSteps: %v, %v", found, err)
	}
	if len(found.Steps) != 2 || found.RowCount() != 2 {
		t.Fatalf("unexpected workflow shape: %d steps, %d rows", len(found.Steps), found.RowCount())
	}

	step, err := repo.FindStepByID(ctx, "step-1")
	if err != nil || step == nil {
		t.Fatalf("FindStepByID: %v, %v", step, err)
	}
	if step.WorkflowID != "WF-1" || step.Name != "Summarize" {
		t.Fatalf("unexpected step %+v", step)
	}

	item, err := repo.FindDocumentItem(ctx, "item-0-0")
	if err != nil || item == nil {
		t.Fatalf("FindDocumentItem: %v, %v", item, err)
	}
	if item.Content != "raw" || item.Step.Name != "Extract" || item.DocumentID != "Doc-0" {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestMemoryMissingLookupsReturnNil(t *testing.T) {
	repo, err := repository.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()
	if wf, err := repo.FindWorkflowWithSteps(ctx, "nope"); wf != nil || err != nil {
		t.Fatalf("expected (nil, nil), got %v, %v", wf, err)
	}
	if step, err := repo.FindStepByID(ctx, "nope"); step != nil || err != nil {
		t.Fatalf("expected (nil, nil), got %v, %v", step, err)
	}
	if item, err := repo.FindDocumentItem(ctx, "nope"); item != nil || err != nil {
		t.Fatalf("expected (nil, nil), got %v, %v", item, err)
	}
	if err := repo.UpdateDocumentItemContent(ctx, "nope", "x"); !errors.Is(err, repository.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestMemoryUpdatesAreVisibleAndCopiesAreIsolated(t *testing.T) {
	wf := testsupport.NewGrid(testsupport.GridSpec{Steps: []string{"A"}, Rows: 1})
	repo, err := repository.NewMemory(wf)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()

	if err := repo.UpdateDocumentItemContent(ctx, "ITEM-0-0", "answer"); err != nil {
		t.Fatalf("UpdateDocumentItemContent: %v", err)
	}
	if err := repo.UpdateProcessingStatus(ctx, "item-0-0", workflow.StatusCompleted); err != nil {
		t.Fatalf("UpdateProcessingStatus: %v", err)
	}
	item, _ := repo.FindDocumentItem(ctx, "item-0-0")
	if item.Content != "answer" || item.ProcessingStatus != workflow.StatusCompleted {
		t.Fatalf("update not visible: %+v", item)
	}

	item.Content = "mutated"
	found, _ := repo.FindWorkflowWithSteps(ctx, "wf-1")
	found.Steps[0].Document.Items[0].Content = "mutated too"
	again, _ := repo.FindDocumentItem(ctx, "item-0-0")
	if again.Content != "answer" {
		t.Fatalf("stored item was mutated through a copy: %q", again.Content)
	}
	if wf.Steps[0].Document.Items[0].Content != "" {
		t.Fatal("Put must not alias the caller's workflow")
	}
}

func TestMemoryPutReplacesWorkflow(t *testing.T) {
	repo, err := repository.NewMemory(testsupport.NewGrid(testsupport.GridSpec{Steps: []string{"A", "B"}, Rows: 1}))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	if err := repo.Put(testsupport.NewGrid(testsupport.GridSpec{Steps: []string{"A"}, Rows: 1})); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ctx := context.Background()
	if step, _ := repo.FindStepByID(ctx, testsupport.StepID(1)); step != nil {
		t.Fatalf("stale step still indexed: %+v", step)
	}
	if len(repo.Workflows()) != 1 {
		t.Fatalf("expected one workflow, got %d", len(repo.Workflows()))
	}
}

func TestMemoryConcurrentUpdates(t *testing.T) {
	wf := testsupport.NewGrid(testsupport.GridSpec{Steps: []string{"A"}, Rows: 8})
	repo, err := repository.NewMemory(wf)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()
	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			id := testsupport.ItemID(0, r)
			_ = repo.UpdateProcessingStatus(ctx, id, workflow.StatusPending)
			_ = repo.UpdateDocumentItemContent(ctx, id, id)
			_, _ = repo.FindWorkflowWithSteps(ctx, "wf-1")
		}(r)
	}
	wg.Wait()
	found, _ := repo.FindWorkflowWithSteps(ctx, "wf-1")
	for _, item := range found.Steps[0].Document.Items {
		if item.Content != item.ID || item.ProcessingStatus != workflow.StatusPending {
			t.Fatalf("lost update on %+v", item)
		}
	}
}

func TestLoadMemoryJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.json")
	fixture := `{"workflows":[{"id":"wf-json","name":"demo","steps":[
  {"id":"s2","name":"Summarize","orderColumn":1,"inputSteps":["s1"],
   "assistant":{"id":"a2","systemPrompt":"Summarize.","llm":{"id":"l1","provider":"openai","apiName":"gpt-4o-mini"}},
   "document":{"id":"d2","items":[{"id":"i2","orderColumn":0}]}},
  {"id":"s1","name":"Extract","orderColumn":0,
   "assistant":{"id":"a1","systemPrompt":"Extract.","llm":{"id":"l1","provider":"openai","apiName":"gpt-4o-mini"}},
   "document":{"id":"d1","items":[{"id":"i1","orderColumn":0,"content":"raw"}]}}
]}]}`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	repo, err := repository.LoadMemoryJSON(path)
	if err != nil {
		t.Fatalf("LoadMemoryJSON: %v", err)
	}
	wf, _ := repo.FindWorkflowWithSteps(context.Background(), "wf-json")
	if wf == nil || wf.Steps[0].Name != "Extract" {
		t.Fatalf("steps not ordered by column: %+v", wf)
	}
	item, _ := repo.FindDocumentItem(context.Background(), "i2")
	if item == nil || item.Step.ID != "s2" || item.DocumentID != "d2" {
		t.Fatalf("item step reference not filled: %+v", item)
	}

	if _, err := repository.LoadMemoryJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}
