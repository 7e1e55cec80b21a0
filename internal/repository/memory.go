package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"cellflow/internal/workflow"
)

type itemLocation struct {
	workflowID string
	step       int
	item       int
}

// Memory is an in-process workflow.Repository. Ids are matched
// case-insensitively and every lookup returns a copy.
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
	steps     map[string]string
	items     map[string]itemLocation
}

// NewMemory returns a repository seeded with workflows.
func NewMemory(workflows ...*workflow.Workflow) (*Memory, error) {
	m := &Memory{
		workflows: make(map[string]*workflow.Workflow),
		steps:     make(map[string]string),
		items:     make(map[string]itemLocation),
	}
	for _, wf := range workflows {
		if err := m.Put(wf); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type fixtureFile struct {
	Workflows []*workflow.Workflow `json:"workflows"`
}

// LoadMemoryJSON builds a Memory from a fixture file holding
// {"workflows": [...]}.
func LoadMemoryJSON(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow fixture: %w", err)
	}
	var fixture fixtureFile
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse workflow fixture %s: %w", path, err)
	}
	return NewMemory(fixture.Workflows...)
}

func key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Put stores a copy of wf, replacing any workflow with the same id. Step
// workflow ids and item step references are filled in from their parents.
func (m *Memory) Put(wf *workflow.Workflow) error {
	if wf == nil || key(wf.ID) == "" {
		return fmt.Errorf("workflow id is required")
	}
	stored := cloneWorkflow(wf)
	if err := stored.Normalize(); err != nil {
		return err
	}
	for i := range stored.Steps {
		step := &stored.Steps[i]
		step.WorkflowID = stored.ID
		for j := range step.Document.Items {
			item := &step.Document.Items[j]
			item.DocumentID = step.Document.ID
			item.Step = step.Ref()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	wfKey := key(stored.ID)
	if previous, ok := m.workflows[wfKey]; ok {
		m.unindexLocked(previous)
	}
	m.workflows[wfKey] = stored
	for i, step := range stored.Steps {
		m.steps[key(step.ID)] = wfKey
		for j, item := range step.Document.Items {
			m.items[key(item.ID)] = itemLocation{workflowID: wfKey, step: i, item: j}
		}
	}
	return nil
}

func (m *Memory) unindexLocked(wf *workflow.Workflow) {
	for _, step := range wf.Steps {
		delete(m.steps, key(step.ID))
		for _, item := range step.Document.Items {
			delete(m.items, key(item.ID))
		}
	}
}

// Workflows returns copies of every stored workflow.
func (m *Memory) Workflows() []*workflow.Workflow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		out = append(out, cloneWorkflow(wf))
	}
	return out
}

func (m *Memory) FindWorkflowWithSteps(_ context.Context, id string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[key(id)]
	if !ok {
		return nil, nil
	}
	return cloneWorkflow(wf), nil
}

func (m *Memory) FindStepByID(_ context.Context, id string) (*workflow.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wfKey, ok := m.steps[key(id)]
	if !ok {
		return nil, nil
	}
	step, _ := m.workflows[wfKey].StepByID(id)
	if step == nil {
		return nil, nil
	}
	clone := cloneStep(*step)
	return &clone, nil
}

func (m *Memory) FindDocumentItem(_ context.Context, id string) (*workflow.DocumentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item := m.itemLocked(id)
	if item == nil {
		return nil, nil
	}
	clone := *item
	return &clone, nil
}

func (m *Memory) UpdateDocumentItemContent(_ context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.itemLocked(id)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	item.Content = content
	return nil
}

func (m *Memory) UpdateProcessingStatus(_ context.Context, id string, status workflow.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.itemLocked(id)
	if item == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	item.ProcessingStatus = status
	return nil
}

func (m *Memory) itemLocked(id string) *workflow.DocumentItem {
	loc, ok := m.items[key(id)]
	if !ok {
		return nil
	}
	wf := m.workflows[loc.workflowID]
	return &wf.Steps[loc.step].Document.Items[loc.item]
}

func cloneWorkflow(wf *workflow.Workflow) *workflow.Workflow {
	clone := *wf
	clone.Steps = make([]workflow.Step, len(wf.Steps))
	for i, step := range wf.Steps {
		clone.Steps[i] = cloneStep(step)
	}
	return &clone
}

func cloneStep(step workflow.Step) workflow.Step {
	if step.Assistant != nil {
		assistant := *step.Assistant
		assistant.Tools = append([]string(nil), step.Assistant.Tools...)
		step.Assistant = &assistant
	}
	step.InputSteps = append([]string(nil), step.InputSteps...)
	step.Document.Items = append([]workflow.DocumentItem(nil), step.Document.Items...)
	return step
}
