package testsupport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cellflow/internal/workflow"
)

// GridSpec describes a generated workflow grid.
type GridSpec struct {
	ID       string
	Steps    []string
	Rows     int
	Provider string
	Model    string
	// Contents seeds step-0 cells by row.
	Contents []string
	// Independent disables the default "step i reads step i-1" inputs.
	Independent bool
}

// NewGrid builds a normalized workflow whose ids are derived from the step
// and row positions, for example "Step-1" and "Item-1-0". Ids are mixed case
// so tests observe payload lowercasing.
func NewGrid(spec GridSpec) *workflow.Workflow {
	if spec.ID == "" {
		spec.ID = "WF-1"
	}
	if spec.Provider == "" {
		spec.Provider = "openai"
	}
	if spec.Model == "" {
		spec.Model = "gpt-4o-mini"
	}
	wf := &workflow.Workflow{ID: spec.ID, TeamID: "Team-1", Name: "test workflow"}
	for i, name := range spec.Steps {
		step := workflow.Step{
			ID:          StepID(i),
			WorkflowID:  spec.ID,
			Name:        name,
			OrderColumn: i,
			Assistant: &workflow.Assistant{
				ID:           fmt.Sprintf("Assistant-%d", i),
				Name:         name + " assistant",
				SystemPrompt: "You " + strings.ToLower(name) + ".",
				Temperature:  0.2,
				MaxTokens:    512,
				LLM:          workflow.LLM{ID: "LLM-1", Provider: spec.Provider, APIName: spec.Model},
			},
			Document: workflow.Document{ID: fmt.Sprintf("Doc-%d", i)},
		}
		if i > 0 && !spec.Independent {
			step.InputSteps = []string{StepID(i - 1)}
		}
		for r := 0; r < spec.Rows; r++ {
			item := workflow.DocumentItem{
				ID:          ItemID(i, r),
				DocumentID:  step.Document.ID,
				OrderColumn: r,
				Step:        step.Ref(),
			}
			if i == 0 && r < len(spec.Contents) {
				item.Content = spec.Contents[r]
			}
			step.Document.Items = append(step.Document.Items, item)
		}
		wf.Steps = append(wf.Steps, step)
	}
	// Generated step ids are unique, so Normalize only sorts.
	_ = wf.Normalize()
	return wf
}

// StepID is the id NewGrid assigns to step i.
func StepID(i int) string {
	return fmt.Sprintf("Step-%d", i)
}

// ItemID is the id NewGrid assigns to the cell at step i, row r.
func ItemID(i, r int) string {
	return fmt.Sprintf("Item-%d-%d", i, r)
}

// WriteWorkflowsFile writes wfs as a {"workflows": [...]} fixture under dir
// and returns its path.
func WriteWorkflowsFile(t testing.TB, dir string, wfs ...*workflow.Workflow) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"workflows": wfs})
	if err != nil {
		t.Fatalf("marshal workflows: %v", err)
	}
	path := filepath.Join(dir, "workflows.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write workflows: %v", err)
	}
	return path
}
