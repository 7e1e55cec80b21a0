package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cellflow/internal/graph"
	"cellflow/internal/jobs"
	"cellflow/internal/logging"
	"cellflow/internal/services"
	"cellflow/internal/workflow"
)

const component = "scheduler"

// ErrNotFound reports a workflow or step that does not exist. It matches
// services.ErrNotFound.
var ErrNotFound = services.ErrNotFound

// Backend accepts compiled flows for execution. worker.Manager implements it.
type Backend interface {
	AddBulk(ctx context.Context, flows []jobs.Flow) ([]string, error)
}

// Result summarizes one submission.
type Result struct {
	Rows   int
	Jobs   int
	JobIDs []string
}

// Scheduler compiles and submits workflows.
type Scheduler struct {
	repo     workflow.Repository
	compiler *graph.Compiler
	backend  Backend
	logger   *slog.Logger
}

// New builds a scheduler.
func New(repo workflow.Repository, compiler *graph.Compiler, backend Backend, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		compiler: compiler,
		backend:  backend,
		logger:   logging.NewComponentLogger(logger, component),
	}
}

// ExecuteWorkflow submits one chain per row covering every step.
func (s *Scheduler) ExecuteWorkflow(ctx context.Context, userID, workflowID string) (Result, error) {
	plan, err := s.Plan(ctx, userID, workflowID, "")
	if err != nil {
		return Result{}, err
	}
	return s.submit(ctx, workflowID, plan)
}

// ExecuteWorkflowStep submits one row-completion and cell pair per item of a
// single step. A step with no rows submits nothing.
func (s *Scheduler) ExecuteWorkflowStep(ctx context.Context, userID, workflowID, stepID string) (Result, error) {
	if strings.TrimSpace(stepID) == "" {
		return Result{}, services.Wrap(services.ErrValidation, component, "execute step", "step id is required", nil)
	}
	plan, err := s.Plan(ctx, userID, workflowID, stepID)
	if err != nil {
		return Result{}, err
	}
	return s.submit(ctx, workflowID, plan)
}

// Plan compiles without submitting. An empty stepID plans the whole
// workflow.
func (s *Scheduler) Plan(ctx context.Context, userID, workflowID, stepID string) (*graph.Plan, error) {
	ctx = services.WithWorkflowID(ctx, workflowID)
	wf, err := s.repo.FindWorkflowWithSteps(ctx, workflowID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "load workflow", workflowID, err)
	}
	if wf == nil {
		return nil, services.Wrap(ErrNotFound, component, "load workflow", "workflow "+workflowID, nil)
	}

	if stepID == "" {
		plan, err := s.compiler.CompileWorkflow(wf, userID)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, component, "compile workflow", workflowID, err)
		}
		return plan, nil
	}

	step, err := s.repo.FindStepByID(ctx, stepID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, component, "load step", stepID, err)
	}
	if step == nil || !strings.EqualFold(step.WorkflowID, wf.ID) {
		return nil, services.Wrap(ErrNotFound, component, "load step",
			fmt.Sprintf("step %s in workflow %s", stepID, workflowID), nil)
	}
	plan, err := s.compiler.CompileStep(wf, step.ID, userID)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "compile step", stepID, err)
	}
	return plan, nil
}

func (s *Scheduler) submit(ctx context.Context, workflowID string, plan *graph.Plan) (Result, error) {
	if plan.Empty() {
		return Result{}, nil
	}
	flows, err := plan.Flows()
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, component, "encode flows", workflowID, err)
	}
	ids, err := s.backend.AddBulk(ctx, flows)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "submit", workflowID, err)
	}
	result := Result{Rows: len(plan.Roots), Jobs: len(plan.Nodes), JobIDs: ids}
	logging.WithContext(ctx, s.logger).Info("workflow submitted",
		logging.WorkflowID(workflowID),
		logging.Int("rows", result.Rows),
		logging.Int("jobs", result.Jobs),
		logging.EventType("workflow_submitted"),
	)
	return result, nil
}
