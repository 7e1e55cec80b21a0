package graph

import (
	"errors"
	"fmt"
	"log/slog"

	"cellflow/internal/jobs"
	"cellflow/internal/llm"
	"cellflow/internal/logging"
	"cellflow/internal/registry"
	"cellflow/internal/workflow"
)

var (
	// ErrMissingAssistant reports a step without an assistant.
	ErrMissingAssistant = errors.New("step has no assistant")
	// ErrStepNotFound reports a step id absent from the workflow.
	ErrStepNotFound = errors.New("step not found in workflow")
	// ErrUnroutable reports an assistant model no registry queue serves.
	ErrUnroutable = errors.New("no queue for provider model")
	// ErrMissingCell reports a step whose document lacks an item for a row.
	ErrMissingCell = errors.New("step has no item for row")
)

// Compiler turns workflows into job plans routed through a registry.
type Compiler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewCompiler builds a compiler that routes with reg.
func NewCompiler(reg *registry.Registry, logger *slog.Logger) *Compiler {
	return &Compiler{registry: reg, logger: logging.NewComponentLogger(logger, "graph")}
}

type route struct {
	queue   string
	options jobs.Options
}

// CompileWorkflow builds one chain per row of the workflow. The row count is
// the first step's item count; wf must already be normalized.
func (c *Compiler) CompileWorkflow(wf *workflow.Workflow, userID string) (*Plan, error) {
	routes, err := c.routeSteps(wf, wf.Steps)
	if err != nil {
		return nil, err
	}
	plan := &Plan{}
	rows := wf.RowCount()
	steps := len(wf.Steps)
	if rows == 0 || steps == 0 {
		return plan, nil
	}
	plan.Nodes = make([]Node, 0, rows*(steps+1))
	plan.Roots = make([]int, 0, rows)

	for r := 0; r < rows; r++ {
		child := NoChild
		for i := 0; i < steps; i++ {
			step := &wf.Steps[i]
			item, ok := step.Document.ItemAt(r)
			if !ok {
				return nil, fmt.Errorf("%w: step %s row %d", ErrMissingCell, step.ID, r)
			}
			cell := c.cellPayload(wf, step, i, item, r, rows, userID)
			child = plan.add(Node{
				Name:    jobs.NameCell,
				Queue:   routes[i].queue,
				Cell:    &cell,
				Options: routes[i].options,
				Child:   child,
			})
		}
		plan.Roots = append(plan.Roots, plan.add(c.rowNode(r, userID, wf.ID, child)))
	}
	return plan, nil
}

// CompileStep builds one row-completion -> cell pair per item of a single
// step's document. A step with no items yields an empty plan.
func (c *Compiler) CompileStep(wf *workflow.Workflow, stepID, userID string) (*Plan, error) {
	step, index := wf.StepByID(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	routes, err := c.routeSteps(wf, wf.Steps[index:index+1])
	if err != nil {
		return nil, err
	}
	plan := &Plan{}
	rows := len(step.Document.Items)
	if rows == 0 {
		logging.WarnWithContext(c.logger, "step has no rows to process", "step_empty",
			logging.WorkflowID(wf.ID),
			logging.String("step_id", step.ID),
			logging.String(logging.FieldImpact, "nothing submitted"),
			logging.String(logging.FieldErrorHint, "add rows to the workflow before running the step"),
		)
		return plan, nil
	}
	for r, item := range step.Document.Items {
		cell := c.cellPayload(wf, step, index, item, r, rows, userID)
		leaf := plan.add(Node{
			Name:    jobs.NameCell,
			Queue:   routes[0].queue,
			Cell:    &cell,
			Options: routes[0].options,
			Child:   NoChild,
		})
		plan.Roots = append(plan.Roots, plan.add(c.rowNode(r, userID, wf.ID, leaf)))
	}
	return plan, nil
}

// routeSteps checks every step has an assistant with a routable model before
// any node is built.
func (c *Compiler) routeSteps(wf *workflow.Workflow, steps []workflow.Step) ([]route, error) {
	routes := make([]route, len(steps))
	for i := range steps {
		step := &steps[i]
		if step.Assistant == nil {
			return nil, fmt.Errorf("%w: workflow %s step %s (%s)", ErrMissingAssistant, wf.ID, step.ID, step.Name)
		}
		model := step.Assistant.LLM
		provider, err := llm.ParseProvider(model.Provider)
		if err != nil {
			return nil, fmt.Errorf("%w: step %s: %w", ErrUnroutable, step.ID, err)
		}
		spec, ok := c.registry.QueueFor(provider, model.APIName)
		if !ok {
			return nil, fmt.Errorf("%w: step %s uses %s/%s", ErrUnroutable, step.ID, provider, model.APIName)
		}
		routes[i] = route{queue: spec.Name, options: spec.Retry}
	}
	return routes, nil
}

func (c *Compiler) cellPayload(wf *workflow.Workflow, step *workflow.Step, stepIndex int, item workflow.DocumentItem, row, rows int, userID string) jobs.CellPayload {
	assistant := step.Assistant
	return jobs.NewCellPayload(jobs.CellPayload{
		TotalStepCount:       len(wf.Steps),
		TotalRowCount:        rows,
		StepIndex:            stepIndex,
		RowIndex:             row,
		StepName:             step.Name,
		LLMID:                assistant.LLM.ID,
		LLMProvider:          assistant.LLM.Provider,
		LLMNameAPI:           assistant.LLM.APIName,
		AssistantID:          assistant.ID,
		AssistantTools:       assistant.Tools,
		InputDocumentItemIDs: inputItemIDs(wf, step, row),
		DocumentItemID:       item.ID,
		SystemPrompt:         assistant.SystemPrompt,
		Temperature:          assistant.Temperature,
		MaxTokens:            assistant.MaxTokens,
		UserID:               userID,
		WorkflowID:           wf.ID,
	})
}

// inputItemIDs resolves a step's input steps to their items at the same row
// position. Unknown steps and missing rows are dropped.
func inputItemIDs(wf *workflow.Workflow, step *workflow.Step, row int) []string {
	ids := make([]string, 0, len(step.InputSteps))
	for _, inputID := range step.InputSteps {
		input, _ := wf.StepByID(inputID)
		if input == nil {
			continue
		}
		item, ok := input.Document.ItemAt(row)
		if !ok {
			continue
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func (c *Compiler) rowNode(row int, userID, workflowID string, child int) Node {
	spec := c.registry.RowQueue()
	payload := jobs.NewRowPayload(row, userID, workflowID)
	return Node{
		Name:    jobs.NameRowCompleted,
		Queue:   spec.Name,
		Row:     &payload,
		Options: spec.Retry,
		Child:   child,
	}
}
