package dto

import "github.com/cuongbtq/opportunity-pipeline/internal/domain"

// TriggerResponse is returned when a job was accepted
type TriggerResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

type ListJobsRequest struct {
	Stage    string `form:"stage"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status  string   `json:"status"`
	Service string   `json:"service"`
	Stages  []string `json:"stages"`
}
