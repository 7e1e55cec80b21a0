package workflow

import (
	"errors"
	"testing"
)

func TestNormalizeOrdersStepsAndItems(t *testing.T) {
	wf := Workflow{
		ID: "wf",
		Steps: []Step{
			{ID: "b", OrderColumn: 2, Document: Document{Items: []DocumentItem{{ID: "b1", OrderColumn: 1}, {ID: "b0", OrderColumn: 0}}}},
			{ID: "a", OrderColumn: 1},
		},
	}
	if err := wf.Normalize(); err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if wf.Steps[0].ID != "a" || wf.Steps[1].ID != "b" {
		t.Fatalf("steps not ordered: %+v", wf.Steps)
	}
	if item, _ := wf.Steps[1].Document.ItemAt(0); item.ID != "b0" {
		t.Fatalf("items not ordered: %+v", wf.Steps[1].Document.Items)
	}
	if _, ok := wf.Steps[1].Document.ItemAt(2); ok {
		t.Fatal("expected out-of-range row to be missing")
	}
	if step, idx := wf.StepByID("B"); step == nil || idx != 1 {
		t.Fatalf("StepByID returned %v, %d", step, idx)
	}
}

func TestNormalizeRejectsDuplicateSteps(t *testing.T) {
	wf := Workflow{Steps: []Step{{ID: "X"}, {ID: "x"}}}
	if err := wf.Normalize(); !errors.Is(err, ErrDuplicateStep) {
		t.Fatalf("expected ErrDuplicateStep, got %v", err)
	}
}

func TestParseProcessingStatus(t *testing.T) {
	if got, err := ParseProcessingStatus(" Completed "); err != nil || got != StatusCompleted {
		t.Fatalf("ParseProcessingStatus returned %q, %v", got, err)
	}
	if _, err := ParseProcessingStatus("done"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}
