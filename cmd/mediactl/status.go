package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mediagen/internal/domain"
)

func statusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.components.Jobs.Get(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return c.printJob(cmd.OutOrStdout(), job)
		},
	}
}
