package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func workerCmd(c *cli) *cobra.Command {
	var (
		concurrency int
		once        bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the lifecycle engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if concurrency > 0 {
				c.components.Config.WorkerConcurrency = concurrency
			}
			engine, err := c.components.Engine()
			if err != nil {
				return err
			}
			if once {
				n, err := engine.Scan(cmd.Context())
				engine.Wait()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d job(s)\n", n)
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return engine.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override WORKER_CONCURRENCY")
	cmd.Flags().BoolVar(&once, "once", false, "claim every due job once, wait for them, and exit")
	return cmd
}
