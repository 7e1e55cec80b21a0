package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cellflow/internal/config"
	"cellflow/internal/daemon"
	"cellflow/internal/llm"
	"cellflow/internal/logging"
	"cellflow/internal/queue"
	"cellflow/internal/testsupport"
	"cellflow/internal/workflow"
)

type echoModel struct{}

func (echoModel) Generate(_ context.Context, req llm.GenerateRequest) (llm.GenerateResult, error) {
	return llm.GenerateResult{Text: fmt.Sprintf("echo %d", len(req.Messages)), FinishReason: llm.FinishStop}, nil
}

func (m echoModel) GetModel(llm.Provider, string) (llm.ChatModel, error) {
	return m, nil
}

type brokenModel struct{}

func (brokenModel) Generate(context.Context, llm.GenerateRequest) (llm.GenerateResult, error) {
	return llm.GenerateResult{}, errors.New("provider unavailable")
}

func (m brokenModel) GetModel(llm.Provider, string) (llm.ChatModel, error) {
	return m, nil
}

func writeWorkflows(t *testing.T, cfg *config.Config, wfs ...*workflow.Workflow) {
	t.Helper()
	cfg.Paths.WorkflowsFile = testsupport.WriteWorkflowsFile(t, testsupport.BaseDir(cfg), wfs...)
}

func newDaemon(t *testing.T, cfg *config.Config, opts ...daemon.Option) (*daemon.Daemon, *daemon.Services) {
	t.Helper()
	if len(opts) == 0 {
		opts = []daemon.Option{daemon.WithModels(echoModel{})}
	}
	svc, err := daemon.Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d, err := daemon.New(svc, logging.NewNop(), opts...)
	if err != nil {
		_ = svc.Close()
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, svc
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("lock path = %q, want %q", status.LockFilePath, cfg.LockPath())
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemon(t, cfg)
	second, _ := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second Start error = %v, want already running", err)
	}
}

func TestDaemonExecutesWorkflow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	wf := testsupport.NewGrid(testsupport.GridSpec{
		Steps:    []string{"Extract", "Summarize"},
		Rows:     2,
		Contents: []string{"alpha", "beta"},
	})
	writeWorkflows(t, cfg, wf)
	d, svc := newDaemon(t, cfg)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	result, err := d.Scheduler().ExecuteWorkflow(ctx, "User-1", wf.ID)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if result.Rows != 2 {
		t.Fatalf("rows = %d, want 2", result.Rows)
	}

	waitForTerminal(t, d, 6)
	d.Stop()

	for r := 0; r < 2; r++ {
		item, err := svc.Repo.FindDocumentItem(ctx, testsupport.ItemID(1, r))
		if err != nil || item == nil {
			t.Fatalf("FindDocumentItem: %v", err)
		}
		if item.Content == "" {
			t.Fatalf("row %d summary was not written", r)
		}
		if item.ProcessingStatus != workflow.StatusCompleted {
			t.Fatalf("row %d status = %q, want completed", r, item.ProcessingStatus)
		}
	}
}

func TestDaemonFailedCellsCascadeToRow(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithRetry(2, 1),
		testsupport.WithQueue("openai", "gpt-4o-mini", 1, 1000, 1000),
	)
	wf := testsupport.NewGrid(testsupport.GridSpec{
		Steps:    []string{"Extract", "Summarize"},
		Rows:     2,
		Contents: []string{"alpha", "beta"},
	})
	writeWorkflows(t, cfg, wf)
	d, svc := newDaemon(t, cfg, daemon.WithModels(brokenModel{}))

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.Scheduler().ExecuteWorkflow(ctx, "User-1", wf.ID); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	counts := waitForTerminal(t, d, 6)
	d.Stop()

	// Step 0 has no inputs and completes without a model call; everything
	// above it fails.
	if counts[queue.StatusCompleted] != 2 || counts[queue.StatusFailed] != 4 {
		t.Fatalf("counts = %+v, want 2 completed and 4 failed", counts)
	}
	for r := 0; r < 2; r++ {
		item, err := svc.Repo.FindDocumentItem(ctx, testsupport.ItemID(1, r))
		if err != nil || item == nil {
			t.Fatalf("FindDocumentItem: %v", err)
		}
		if item.ProcessingStatus != workflow.StatusFailed {
			t.Fatalf("row %d status = %q, want failed", r, item.ProcessingStatus)
		}
	}
}

// waitForTerminal polls until want jobs exist and all are terminal, and
// returns the summed counts.
func waitForTerminal(t *testing.T, d *daemon.Daemon, want int) queue.Counts {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		st := d.Status(context.Background())
		sum := queue.Counts{}
		for _, counts := range st.Queues {
			for status, n := range counts {
				sum[status] += n
			}
		}
		if sum.Total() == want && sum[queue.StatusCompleted]+sum[queue.StatusFailed] == want {
			return sum
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not finish: %+v", st.Queues)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
