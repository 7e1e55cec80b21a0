package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cellflow/internal/daemon"
	"cellflow/internal/scheduler"
	"cellflow/internal/services"
)

type executeResult struct {
	RequestID  string   `json:"request_id"`
	WorkflowID string   `json:"workflow_id"`
	StepID     string   `json:"step_id,omitempty"`
	Rows       int      `json:"rows"`
	Jobs       int      `json:"jobs"`
	JobIDs     []string `json:"job_ids"`
}

func newExecuteCommand(ctx *commandContext) *cobra.Command {
	var stepID string
	var userID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "execute <workflow-id>",
		Short: "Compile a workflow and submit its jobs",
		Long: "Compile a workflow (or a single step with --step) and submit the resulting flows " +
			"to the job store. A running `cellflow serve` picks them up.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := strings.TrimSpace(args[0])
			requestID := uuid.NewString()
			runCtx := services.WithRequestID(cmd.Context(), requestID)

			return ctx.withServices(runCtx, func(svc *daemon.Services) error {
				sched := svc.Scheduler(daemon.StoreBackend(svc.Store))

				var (
					result scheduler.Result
					err    error
				)
				if strings.TrimSpace(stepID) != "" {
					result, err = sched.ExecuteWorkflowStep(runCtx, userID, workflowID, stepID)
				} else {
					result, err = sched.ExecuteWorkflow(runCtx, userID, workflowID)
				}
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, executeResult{
						RequestID:  requestID,
						WorkflowID: workflowID,
						StepID:     stepID,
						Rows:       result.Rows,
						Jobs:       result.Jobs,
						JobIDs:     nonNil(result.JobIDs),
					})
				}
				out := cmd.OutOrStdout()
				if result.Jobs == 0 {
					fmt.Fprintln(out, "Nothing to submit: workflow has no rows")
					return nil
				}
				fmt.Fprintf(out, "Submitted %d jobs across %d rows (request %s)\n", result.Jobs, result.Rows, requestID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stepID, "step", "", "Only execute this step")
	cmd.Flags().StringVar(&userID, "user", "cli", "User id recorded on every job")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var stepID string
	var userID string

	cmd := &cobra.Command{
		Use:   "plan <workflow-id>",
		Short: "Show the job graph a workflow compiles to without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(svc *daemon.Services) error {
				sched := svc.Scheduler(daemon.StoreBackend(svc.Store))
				plan, err := sched.Plan(cmd.Context(), userID, strings.TrimSpace(args[0]), stepID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if plan.Empty() {
					fmt.Fprintln(out, "Plan is empty")
					return nil
				}
				fmt.Fprint(out, plan.Describe())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stepID, "step", "", "Only plan this step")
	cmd.Flags().StringVar(&userID, "user", "cli", "User id recorded on every job")
	return cmd
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
