package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/opportunity-pipeline/internal/api/dto"
	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	var params string
	var paramsFile string
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "trigger <stage>",
		Short: "Create and dispatch a stage job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readParams(params, paramsFile)
			if err != nil {
				return err
			}

			client := ctx.client()
			resp, err := client.Trigger(cmd.Context(), args[0], body)
			if err != nil {
				return fmt.Errorf("trigger %s: %w", args[0], err)
			}

			if ctx.asJSON && !watch {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Triggered %s job %s\n", args[0], resp.JobID)
			if !watch {
				return nil
			}
			return watchJob(cmd, ctx, client, resp.JobID, interval)
		},
	}

	cmd.Flags().StringVarP(&params, "params", "p", "", "Job parameters as a JSON object")
	cmd.Flags().StringVarP(&paramsFile, "params-file", "f", "", "Read job parameters from a JSON file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the job until it finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval when watching")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job's status, progress and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.client().Job(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get job %s: %w", args[0], err)
			}
			if ctx.asJSON {
				return writeJSON(cmd, job)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJob(job))
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var req dto.ListJobsRequest
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()

			var jobs []domain.Job
			var next string
			for {
				resp, err := client.List(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}
				jobs = append(jobs, resp.Jobs...)
				next = resp.NextCursor
				if !all || next == "" {
					break
				}
				req.Cursor = next
			}

			if ctx.asJSON {
				return writeJSON(cmd, dto.ListJobsResponse{Jobs: jobs, NextCursor: next})
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs))
			if next != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "More results: --cursor %s\n", next)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Stage, "stage", "", "Only jobs of this stage")
	cmd.Flags().StringVar(&req.Status, "status", "", "Only jobs in this status (pending, running, completed, failed)")
	cmd.Flags().IntVarP(&req.PageSize, "page-size", "n", 0, "Jobs per page (server default when zero)")
	cmd.Flags().StringVar(&req.Cursor, "cursor", "", "Resume after this cursor")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Follow cursors until every page is fetched")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <job_id>",
		Short: "Follow a job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJob(cmd, ctx, ctx.client(), args[0], interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	return cmd
}

func newContinueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "continue <job_id>",
		Short: "Resume a completed job that stopped before its input was exhausted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Continue(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("continue %s: %w", args[0], err)
			}
			if ctx.asJSON {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Continuation job %s created from %s\n", resp.JobID, args[0])
			return nil
		},
	}
}

// watchJob polls the job and prints a line whenever its progress changes.
// It returns an error when the job fails.
func watchJob(cmd *cobra.Command, ctx *commandContext, client *apiClient, jobID string, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	out := cmd.OutOrStdout()
	var last string

	for {
		job, err := client.Job(cmd.Context(), jobID)
		if err != nil {
			return fmt.Errorf("get job %s: %w", jobID, err)
		}

		if line := progressLine(job); line != last {
			fmt.Fprintln(out, line)
			last = line
		}

		if job.IsTerminal() {
			if ctx.asJSON {
				if err := writeJSON(cmd, job); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, renderJob(job))
			}
			if job.Status == domain.JobStatusFailed {
				return fmt.Errorf("job %s failed", jobID)
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(interval):
		}
	}
}

func progressLine(job *domain.Job) string {
	p := job.Progress
	if p == nil {
		return fmt.Sprintf("[%s] %s", job.Status, job.JobID)
	}
	return fmt.Sprintf("[%s] %s: %d processed (%s)",
		job.Status, p.CurrentStep, p.PostsProcessed,
		outcomeSummary(p.Succeeded, p.Fallback, p.Failed, p.Skipped))
}

func readParams(inline, path string) ([]byte, error) {
	if inline != "" && path != "" {
		return nil, errors.New("use either --params or --params-file, not both")
	}

	var data []byte
	switch {
	case inline != "":
		data = []byte(inline)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		data = b
	default:
		return []byte("{}"), nil
	}

	if !json.Valid(data) {
		return nil, errors.New("parameters must be valid JSON")
	}
	return data, nil
}
