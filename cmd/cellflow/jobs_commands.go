package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cellflow/internal/daemon"
	"cellflow/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the job store",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))

	return jobsCmd
}

type jobView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Queue        string `json:"queue"`
	Status       string `json:"status"`
	ParentID     string `json:"parent_id,omitempty"`
	AttemptsMade int    `json:"attempts_made"`
	Attempts     int    `json:"attempts"`
	FailedReason string `json:"failed_reason,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var queueName string
	var statusFlags []string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest last",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withServices(cmd.Context(), func(svc *daemon.Services) error {
				list, err := svc.Store.List(cmd.Context(), queue.ListFilter{
					Queue:    strings.TrimSpace(queueName),
					Statuses: statuses,
					Limit:    limit,
				})
				if err != nil {
					return err
				}

				if jsonOutput {
					views := make([]jobView, 0, len(list))
					for _, job := range list {
						views = append(views, newJobView(job))
					}
					return writeJSON(cmd, views)
				}

				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs found")
					return nil
				}
				writeRows(out,
					[]string{"ID", "Name", "Queue", "Status", "Attempts", "Updated", "Reason"},
					buildJobRows(list),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "Only list jobs on this queue")
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of jobs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobView(job *queue.Job) jobView {
	return jobView{
		ID:           job.ID,
		Name:         string(job.Name),
		Queue:        job.Queue,
		Status:       string(job.Status),
		ParentID:     job.ParentID,
		AttemptsMade: job.AttemptsMade,
		Attempts:     job.Options.Attempts,
		FailedReason: job.FailedReason,
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func buildJobRows(list []*queue.Job) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		rows = append(rows, []string{
			shortID(job.ID),
			string(job.Name),
			job.Queue,
			statusLabel(job.Status),
			fmt.Sprintf("%d/%d", job.AttemptsMade, job.Options.Attempts),
			job.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(job.FailedReason, 48),
		})
	}
	return rows
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per queue and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd.Context(), func(svc *daemon.Services) error {
				stats, err := svc.Store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, stats)
				}

				out := cmd.OutOrStdout()
				if len(stats) == 0 {
					fmt.Fprintln(out, "Job store is empty")
					return nil
				}
				headers, rows := buildStatsRows(stats)
				aligns := make([]columnAlignment, len(headers))
				for i := 1; i < len(aligns); i++ {
					aligns[i] = alignRight
				}
				writeRows(out, headers, rows, aligns)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func buildStatsRows(stats map[string]queue.Counts) ([]string, [][]string) {
	headers := []string{"Queue"}
	for _, status := range queue.AllStatuses() {
		headers = append(headers, statusLabel(status))
	}
	headers = append(headers, "Total")

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		counts := stats[name]
		row := []string{name}
		for _, status := range queue.AllStatuses() {
			row = append(row, strconv.Itoa(counts[status]))
		}
		row = append(row, strconv.Itoa(counts.Total()))
		rows = append(rows, row)
	}
	return headers, rows
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove jobs from the store",
		Long:  "Remove jobs in the given statuses, or every job with --all.",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			if len(statuses) == 0 && !all {
				return fmt.Errorf("pass --status or --all")
			}
			return ctx.withServices(cmd.Context(), func(svc *daemon.Services) error {
				removed, err := svc.Store.Clear(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d jobs\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Only remove jobs in this status (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every job")
	return cmd
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
