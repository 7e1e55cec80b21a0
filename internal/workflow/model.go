package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ProcessingStatus is the persisted state of a cell.
type ProcessingStatus string

const (
	StatusUnset     ProcessingStatus = ""
	StatusPending   ProcessingStatus = "pending"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// ParseProcessingStatus validates a status string.
func ParseProcessingStatus(value string) (ProcessingStatus, error) {
	switch status := ProcessingStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case StatusUnset, StatusPending, StatusCompleted, StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown processing status %q", value)
	}
}

// LLM identifies the model an assistant targets.
type LLM struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	APIName  string `json:"apiName"`
}

// Assistant is a system prompt bound to a model and tool set.
type Assistant struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	SystemPrompt string   `json:"systemPrompt"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int      `json:"maxTokens"`
	LLM          LLM      `json:"llm"`
	Tools        []string `json:"tools,omitempty"`
}

// StepRef is the slice of a step carried by each of its items.
type StepRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OrderColumn int    `json:"orderColumn"`
}

// DocumentItem is one cell.
type DocumentItem struct {
	ID               string           `json:"id"`
	DocumentID       string           `json:"documentId"`
	Content          string           `json:"content"`
	OrderColumn      int              `json:"orderColumn"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	Step             StepRef          `json:"step"`
}

// Document holds a step's items, one per row.
type Document struct {
	ID    string         `json:"id"`
	Items []DocumentItem `json:"items"`
}

// ItemAt returns the item at row position r.
func (d Document) ItemAt(r int) (DocumentItem, bool) {
	if r < 0 || r >= len(d.Items) {
		return DocumentItem{}, false
	}
	return d.Items[r], true
}

// Step is one column of a workflow.
type Step struct {
	ID          string     `json:"id"`
	WorkflowID  string     `json:"workflowId"`
	Name        string     `json:"name"`
	OrderColumn int        `json:"orderColumn"`
	Assistant   *Assistant `json:"assistant,omitempty"`
	Document    Document   `json:"document"`
	InputSteps  []string   `json:"inputSteps,omitempty"`
}

// Ref returns the step reference stored on its items.
func (s Step) Ref() StepRef {
	return StepRef{ID: s.ID, Name: s.Name, OrderColumn: s.OrderColumn}
}

// Workflow is an ordered set of steps applied across rows.
type Workflow struct {
	ID     string `json:"id"`
	TeamID string `json:"teamId"`
	Name   string `json:"name"`
	Steps  []Step `json:"steps"`
}

// ErrDuplicateStep reports two steps sharing an id.
var ErrDuplicateStep = errors.New("duplicate workflow step")

// Normalize orders steps and items by OrderColumn and checks step ids are
// unique.
func (w *Workflow) Normalize() error {
	sort.SliceStable(w.Steps, func(i, j int) bool { return w.Steps[i].OrderColumn < w.Steps[j].OrderColumn })
	seen := make(map[string]struct{}, len(w.Steps))
	for i := range w.Steps {
		step := &w.Steps[i]
		key := strings.ToLower(step.ID)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, step.ID)
		}
		seen[key] = struct{}{}
		items := step.Document.Items
		sort.SliceStable(items, func(a, b int) bool { return items[a].OrderColumn < items[b].OrderColumn })
	}
	return nil
}

// StepByID finds a step by id, case-insensitively, and returns its index.
func (w *Workflow) StepByID(id string) (*Step, int) {
	for i := range w.Steps {
		if strings.EqualFold(w.Steps[i].ID, id) {
			return &w.Steps[i], i
		}
	}
	return nil, -1
}

// RowCount is the number of items in the first step's document.
func (w *Workflow) RowCount() int {
	if len(w.Steps) == 0 {
		return 0
	}
	return len(w.Steps[0].Document.Items)
}
