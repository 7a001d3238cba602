package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mediagen/internal/app"
	"mediagen/internal/domain"
)

// buildFunc wires the components a command runs against.
type buildFunc func(ctx context.Context) (*app.Components, error)

type cli struct {
	build      buildFunc
	components *app.Components
}

func newRootCmd(build buildFunc) *cobra.Command {
	c := &cli{build: build}
	root := &cobra.Command{
		Use:          "mediactl",
		Short:        "Submit and inspect media generation jobs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			components, err := c.build(cmd.Context())
			if err != nil {
				return fmt.Errorf("wire components: %w", err)
			}
			c.components = components
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.components.Close()
		},
	}
	root.AddCommand(submitCmd(c))
	root.AddCommand(statusCmd(c))
	root.AddCommand(workerCmd(c))
	return root
}

// jobView is the JSON shape printed for a job.
type jobView struct {
	ID              string         `json:"job_id"`
	Status          string         `json:"status"`
	Prompt          string         `json:"prompt"`
	Parameters      map[string]any `json:"parameters"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	ResultReference string         `json:"result_reference,omitempty"`
	ResultURL       string         `json:"result_url,omitempty"`
	LastError       string         `json:"error_message,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	NextAttemptAt   string         `json:"next_attempt_at,omitempty"`
}

func (c *cli) printJob(w io.Writer, job *domain.Job) error {
	v := jobView{
		ID:              job.ID,
		Status:          string(job.State),
		Prompt:          job.Prompt,
		Parameters:      job.Parameters,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		ResultReference: job.ResultReference,
		LastError:       job.LastError,
		CreatedAt:       job.CreatedAt.Format(timeLayout),
		UpdatedAt:       job.UpdatedAt.Format(timeLayout),
	}
	if job.ResultReference != "" {
		v.ResultURL = c.components.Artifacts.PublicURL(job.ResultReference)
	}
	if job.NextAttemptAt != nil {
		v.NextAttemptAt = job.NextAttemptAt.Format(timeLayout)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
