package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cellflow/internal/graph"
	"cellflow/internal/jobs"
	"cellflow/internal/logging"
	"cellflow/internal/registry"
	"cellflow/internal/repository"
	"cellflow/internal/scheduler"
	"cellflow/internal/testsupport"
)

type recordingBackend struct {
	calls [][]jobs.Flow
	err   error
}

func (b *recordingBackend) AddBulk(_ context.Context, flows []jobs.Flow) ([]string, error) {
	b.calls = append(b.calls, flows)
	if b.err != nil {
		return nil, b.err
	}
	ids := make([]string, len(flows))
	for i := range flows {
		ids[i] = fmt.Sprintf("root-%d", i)
	}
	return ids, nil
}

func newScheduler(t *testing.T, backend scheduler.Backend, specs ...testsupport.GridSpec) *scheduler.Scheduler {
	t.Helper()
	repo, err := repository.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	for _, spec := range specs {
		if err := repo.Put(testsupport.NewGrid(spec)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	reg, err := registry.New(registry.Default())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return scheduler.New(repo, graph.NewCompiler(reg, logging.NewNop()), backend, logging.NewNop())
}

func TestExecuteWorkflowSubmitsOnce(t *testing.T) {
	backend := &recordingBackend{}
	sched := newScheduler(t, backend, testsupport.GridSpec{Steps: []string{"Extract", "Summarize"}, Rows: 2})

	result, err := sched.ExecuteWorkflow(context.Background(), "user-1", "wf-1")
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if len(backend.calls) != 1 {
		t.Fatalf("expected a single bulk submission, got %d", len(backend.calls))
	}
	if result.Rows != 2 || result.Jobs != 6 || len(result.JobIDs) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	flows := backend.calls[0]
	if jobs.CountFlows(flows) != 6 || flows[0].Name != jobs.NameRowCompleted {
		t.Fatalf("unexpected flows: %d nodes", jobs.CountFlows(flows))
	}
}

func TestExecuteWorkflowNotFound(t *testing.T) {
	backend := &recordingBackend{}
	sched := newScheduler(t, backend)
	_, err := sched.ExecuteWorkflow(context.Background(), "user-1", "missing")
	if !errors.Is(err, scheduler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Fatal("nothing should be submitted")
	}
}

func TestExecuteWorkflowCompileErrorsAreFatal(t *testing.T) {
	backend := &recordingBackend{}
	sched := newScheduler(t, backend, testsupport.GridSpec{Steps: []string{"A"}, Rows: 1, Model: "unknown-model"})
	_, err := sched.ExecuteWorkflow(context.Background(), "user-1", "wf-1")
	if !errors.Is(err, graph.ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Fatal("nothing should be submitted")
	}
}

func TestExecuteWorkflowStep(t *testing.T) {
	backend := &recordingBackend{}
	sched := newScheduler(t, backend, testsupport.GridSpec{Steps: []string{"Extract", "Summarize"}, Rows: 3})

	result, err := sched.ExecuteWorkflowStep(context.Background(), "user-1", "wf-1", testsupport.StepID(1))
	if err != nil {
		t.Fatalf("ExecuteWorkflowStep: %v", err)
	}
	if result.Rows != 3 || result.Jobs != 6 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, flow := range backend.calls[0] {
		if len(flow.Children) != 1 || len(flow.Children[0].Children) != 0 {
			t.Fatalf("expected row -> cell pairs, got %+v", flow)
		}
	}
}

func TestExecuteWorkflowStepNotFound(t *testing.T) {
	backend := &recordingBackend{}
	sched := newScheduler(t, backend,
		testsupport.GridSpec{ID: "wf-1", Steps: []string{"A"}, Rows: 1},
	)
	other := testsupport.NewGrid(testsupport.GridSpec{ID: "wf-2", Steps: []string{"B"}, Rows: 1})
	other.Steps[0].ID = "other-step"
	otherRepo, _ := repository.NewMemory(testsupport.NewGrid(testsupport.GridSpec{ID: "wf-1", Steps: []string{"A"}, Rows: 1}), other)
	reg, _ := registry.New(registry.Default())
	crossed := scheduler.New(otherRepo, graph.NewCompiler(reg, logging.NewNop()), backend, logging.NewNop())

	tests := []struct {
		name  string
		sched *scheduler.Scheduler
		wf    string
		step  string
	}{
		{"missing workflow", sched, "nope", testsupport.StepID(0)},
		{"missing step", sched, "wf-1", "nope"},
		{"step from another workflow", crossed, "wf-1", "other-step"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.sched.ExecuteWorkflowStep(context.Background(), "user-1", tc.wf, tc.step); !errors.Is(err, scheduler.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
	if len(backend.calls) != 0 {
		t.Fatal("nothing should be submitted")
	}
}

func TestExecuteWorkflowStepWithoutRows(t *testing.T) {
	backend := &recordingBackend{}
	sched := newScheduler(t, backend, testsupport.GridSpec{Steps: []string{"A"}, Rows: 0})
	result, err := sched.ExecuteWorkflowStep(context.Background(), "user-1", "wf-1", testsupport.StepID(0))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Rows != 0 || result.Jobs != 0 || len(backend.calls) != 0 {
		t.Fatalf("expected empty result and no submission, got %+v / %d calls", result, len(backend.calls))
	}
}

func TestSubmitErrorsPropagate(t *testing.T) {
	boom := errors.New("queue down")
	sched := newScheduler(t, &recordingBackend{err: boom}, testsupport.GridSpec{Steps: []string{"A"}, Rows: 1})
	if _, err := sched.ExecuteWorkflow(context.Background(), "user-1", "wf-1"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestPlanDoesNotSubmit(t *testing.T) {
	backend := &recordingBackend{}
	sched := newScheduler(t, backend, testsupport.GridSpec{Steps: []string{"A", "B"}, Rows: 2})
	plan, err := sched.Plan(context.Background(), "user-1", "wf-1", "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Roots) != 2 || len(backend.calls) != 0 {
		t.Fatalf("unexpected plan or submission: %d roots, %d calls", len(plan.Roots), len(backend.calls))
	}
}
