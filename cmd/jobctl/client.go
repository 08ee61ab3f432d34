package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/opportunity-pipeline/internal/api/dto"
	"github.com/cuongbtq/opportunity-pipeline/internal/api/router"
	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
)

// apiError is a non-2xx answer from the API
type apiError struct {
	StatusCode int
	Message    string
	RetryAfter string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
	if e.RetryAfter != "" {
		msg += fmt.Sprintf(" (retry after %ss)", e.RetryAfter)
	}
	return msg
}

type apiClient struct {
	baseURL  string
	clientID string
	http     *http.Client
}

func newAPIClient(baseURL, clientID string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) Trigger(ctx context.Context, stage string, params []byte) (dto.TriggerResponse, error) {
	var out dto.TriggerResponse
	path := "/api/v1/stages/" + url.PathEscape(stage) + "/trigger"
	err := c.do(ctx, http.MethodPost, path, params, &out)
	return out, err
}

func (c *apiClient) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	var out domain.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) List(ctx context.Context, req dto.ListJobsRequest) (dto.ListJobsResponse, error) {
	query := url.Values{}
	if req.Stage != "" {
		query.Set("stage", req.Stage)
	}
	if req.Status != "" {
		query.Set("status", req.Status)
	}
	if req.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(req.PageSize))
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}

	path := "/api/v1/jobs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out dto.ListJobsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *apiClient) Continue(ctx context.Context, jobID string) (dto.TriggerResponse, error) {
	var out dto.TriggerResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/continue", nil, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, target any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set(router.ClientIDHeader, c.clientID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
		var errResp dto.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
