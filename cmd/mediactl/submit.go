package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mediagen/internal/domain"
)

func submitCmd(c *cli) *cobra.Command {
	var (
		params      string
		wait        bool
		waitTimeout time.Duration
		pollEvery   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Queue a generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p map[string]any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &p); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
			}
			job, err := c.components.Jobs.Submit(cmd.Context(), args[0], p)
			if err != nil {
				return err
			}
			if wait {
				job, err = c.waitTerminal(cmd.Context(), job.ID, waitTimeout, pollEvery)
				if err != nil {
					return err
				}
			}
			return c.printJob(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "generation parameters as a JSON object")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job completes or fails")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 10*time.Minute, "maximum time to wait with --wait")
	cmd.Flags().DurationVar(&pollEvery, "poll", time.Second, "status poll interval with --wait")
	return cmd
}

// waitTerminal polls until the job reaches a terminal state. A worker must be
// running elsewhere for the job to progress.
func (c *cli) waitTerminal(ctx context.Context, id string, timeout, every time.Duration) (*domain.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := c.components.Jobs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("job %s still %s: %w", id, job.State, ctx.Err())
		case <-ticker.C:
		}
	}
}
