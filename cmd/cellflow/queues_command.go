package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cellflow/internal/registry"
)

type queueView struct {
	Name          string `json:"name"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	Concurrency   int    `json:"concurrency"`
	LimiterMax    int    `json:"limiter_max,omitempty"`
	LimiterWindow string `json:"limiter_window,omitempty"`
	Attempts      int    `json:"attempts"`
}

func newQueuesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Show the queue registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reg, err := registry.FromConfig(cfg)
			if err != nil {
				return err
			}

			specs := reg.All()
			if jsonOutput {
				views := make([]queueView, 0, len(specs))
				for _, spec := range specs {
					views = append(views, newQueueView(spec))
				}
				return writeJSON(cmd, views)
			}

			rows := make([][]string, 0, len(specs))
			for _, spec := range specs {
				rows = append(rows, []string{
					spec.Name,
					string(spec.Provider),
					spec.Model,
					strconv.Itoa(spec.Concurrency),
					limiterLabel(spec.Limiter),
					strconv.Itoa(spec.Retry.Attempts),
				})
			}
			writeRows(cmd.OutOrStdout(),
				[]string{"Queue", "Provider", "Model", "Concurrency", "Rate Limit", "Attempts"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newQueueView(spec registry.QueueSpec) queueView {
	view := queueView{
		Name:        spec.Name,
		Provider:    string(spec.Provider),
		Model:       spec.Model,
		Concurrency: spec.Concurrency,
		Attempts:    spec.Retry.Attempts,
	}
	if !spec.Limiter.Unlimited() {
		view.LimiterMax = spec.Limiter.Max
		view.LimiterWindow = spec.Limiter.Window.String()
	}
	return view
}

func limiterLabel(l registry.Limiter) string {
	if l.Unlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s", l.Max, l.Window)
}
