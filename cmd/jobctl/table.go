package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

func renderJobs(jobs []domain.Job) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"Job ID", "Stage", "Status", "Processed", "Created", "Duration"})
	for _, job := range jobs {
		tw.AppendRow(table.Row{
			job.JobID,
			job.Stage,
			job.Status,
			processedCount(&job),
			job.CreatedAt.Local().Format(time.DateTime),
			jobDuration(&job),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	return tw.Render()
}

func renderJob(job *domain.Job) string {
	tw := newTable()
	tw.AppendRow(table.Row{"Job ID", job.JobID})
	tw.AppendRow(table.Row{"Stage", job.Stage})
	tw.AppendRow(table.Row{"Status", job.Status})
	if job.ParentJobID != nil {
		tw.AppendRow(table.Row{"Parent", *job.ParentJobID})
	}
	tw.AppendRow(table.Row{"Created", job.CreatedAt.Local().Format(time.RFC3339)})
	if job.StartedAt != nil {
		tw.AppendRow(table.Row{"Started", job.StartedAt.Local().Format(time.RFC3339)})
	}
	if job.CompletedAt != nil {
		tw.AppendRow(table.Row{"Completed", job.CompletedAt.Local().Format(time.RFC3339)})
	}

	if p := job.Progress; p != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Step", p.CurrentStep})
		tw.AppendRow(table.Row{"Pages", p.PagesFetched})
		tw.AppendRow(table.Row{"Batches", p.BatchesCompleted})
		tw.AppendRow(table.Row{"Processed", p.PostsProcessed})
		tw.AppendRow(table.Row{"Outcomes", outcomeSummary(p.Succeeded, p.Fallback, p.Failed, p.Skipped)})
	}

	if r := job.Result; r != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Stop reason", r.StopReason})
		tw.AppendRow(table.Row{"Produced", r.ProducedRecords})
		tw.AppendRow(table.Row{"Needs continuation", strconv.FormatBool(r.NeedsContinuation)})
		if r.NextJobID != "" {
			tw.AppendRow(table.Row{"Next job", r.NextJobID})
		}
		if r.ContinuationJobID != "" {
			tw.AppendRow(table.Row{"Continuation job", r.ContinuationJobID})
		}
		for _, dep := range r.Reliability {
			state := "closed"
			switch {
			case dep.CircuitOpen:
				state = "open"
			case dep.FallbackMode:
				state = "fallback"
			}
			tw.AppendRow(table.Row{"Dependency " + dep.Name, fmt.Sprintf("%s, %d/%d failed", state, dep.FailedRequests, dep.TotalRequests)})
		}
	}

	if job.Error != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Error", *job.Error})
	}
	return tw.Render()
}

func outcomeSummary(succeeded, fallback, failed, skipped int) string {
	return fmt.Sprintf("%d ok / %d fallback / %d failed / %d skipped", succeeded, fallback, failed, skipped)
}

func processedCount(job *domain.Job) int {
	switch {
	case job.Result != nil:
		return job.Result.PostsProcessed
	case job.Progress != nil:
		return job.Progress.PostsProcessed
	default:
		return 0
	}
}

func jobDuration(job *domain.Job) string {
	if job.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	return end.Sub(*job.StartedAt).Round(time.Second).String()
}
