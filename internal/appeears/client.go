// Package appeears is a minimal client for the AppEEARS area-sample API:
// credential exchange, task submission, completion polling, and bundle
// retrieval.
package appeears

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lakewatch/lst-pipeline/internal/logging"
)

// Client talks to one AppEEARS deployment. Login must succeed before any
// other call; the bearer token is carried on every subsequent request.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	log     *slog.Logger
}

// New builds a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     logging.Component("appeears"),
	}
}

// NewWithHTTPClient builds a client with a caller-supplied HTTP client.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	c := New(baseURL)
	c.http = hc
	return c
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, user, password string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", nil)
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.SetBasicAuth(user, password)
	req.Header.Set("Content-Length", "0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &AuthError{Status: resp.StatusCode}
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if body.Token == "" {
		return &AuthError{Status: resp.StatusCode}
	}

	c.token = body.Token
	c.log.Info("authenticated")
	return nil
}

// DateRange is one start/end pair in a task request.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// TaskLayer selects one layer of one product.
type TaskLayer struct {
	Product string `json:"product"`
	Layer   string `json:"layer"`
}

// TaskRequest is the area-sample request body. Geometry carries the GeoJSON
// feature collection verbatim, so region properties round-trip through the
// service into the output filenames.
type TaskRequest struct {
	TaskType string     `json:"task_type"`
	TaskName string     `json:"task_name"`
	Params   TaskParams `json:"params"`
}

type TaskParams struct {
	Dates  []DateRange     `json:"dates"`
	Layers []TaskLayer     `json:"layers"`
	Geo    json.RawMessage `json:"geo"`
	Output TaskOutput      `json:"output"`
}

type TaskOutput struct {
	Format     OutputFormat `json:"format"`
	Projection string       `json:"projection"`
}

type OutputFormat struct {
	Type string `json:"type"`
}

// NewAreaRequest assembles a geotiff area task for one product's layers over
// one date range.
func NewAreaRequest(taskName, startDate, endDate string, layers []TaskLayer, geo json.RawMessage) TaskRequest {
	return TaskRequest{
		TaskType: "area",
		TaskName: taskName,
		Params: TaskParams{
			Dates:  []DateRange{{StartDate: startDate, EndDate: endDate}},
			Layers: layers,
			Geo:    geo,
			Output: TaskOutput{
				Format:     OutputFormat{Type: "geotiff"},
				Projection: "geographic",
			},
		},
	}
}

// SubmitTask submits an area task and returns its id.
func (c *Client) SubmitTask(ctx context.Context, task TaskRequest) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/task", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build task request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &SubmissionError{Status: resp.StatusCode, Body: string(body)}
	}

	var body struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode task response: %w", err)
	}

	c.log.Info("task submitted", "task_id", body.TaskID, "task_name", task.TaskName)
	return body.TaskID, nil
}

// Task statuses reported by the service.
const (
	StatusPending    = "pending"
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
	StatusExpired    = "expired"
	StatusDeleted    = "deleted"
)

// Terminal reports whether a status will never change again.
func Terminal(status string) bool {
	switch status {
	case StatusDone, StatusError, StatusExpired, StatusDeleted:
		return true
	}
	return false
}

// known reports whether the service status is one this client understands.
// Anything else fails the wait immediately rather than being re-polled.
func known(status string) bool {
	switch status {
	case StatusPending, StatusQueued, StatusProcessing,
		StatusDone, StatusError, StatusExpired, StatusDeleted:
		return true
	}
	return false
}

// TaskStatus fetches the current status of a task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/task/"+taskID, nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("task status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("task status: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return body.Status, nil
}

// PollPolicy is the default completion-wait schedule: a fixed interval with
// a retry cap derived from the overall wait budget.
func PollPolicy(interval, maxWait time.Duration) backoff.BackOff {
	retries := uint64(maxWait / interval)
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), retries)
}

// WaitForTask polls until the task reaches a terminal status or the policy
// is exhausted. Anything other than a terminal "done" is a TaskFailureError,
// and a status outside the known set fails on the first poll.
func (c *Client) WaitForTask(ctx context.Context, taskID string, policy backoff.BackOff) error {
	var last string
	op := func() error {
		status, err := c.TaskStatus(ctx, taskID)
		if err != nil {
			return err
		}
		if status != last {
			c.log.Info("task status", "task_id", taskID, "status", status)
			last = status
		}
		if !known(status) {
			return backoff.Permanent(&TaskFailureError{TaskID: taskID, Status: status})
		}
		if Terminal(status) {
			if status != StatusDone {
				return backoff.Permanent(&TaskFailureError{TaskID: taskID, Status: status})
			}
			return nil
		}
		return fmt.Errorf("task %s still %s", taskID, status)
	}

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}
	var tf *TaskFailureError
	if !errors.As(err, &tf) {
		// Budget exhausted while the task was still in flight.
		return &TaskFailureError{TaskID: taskID, Status: last}
	}
	return err
}

// BundleFile is one entry of a completed task's bundle listing.
type BundleFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// ListBundle fetches a completed task's file listing.
func (c *Client) ListBundle(ctx context.Context, taskID string) ([]BundleFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bundle/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("build bundle request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list bundle: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Files []BundleFile `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode bundle listing: %w", err)
	}
	return body.Files, nil
}

// OpenBundleFile streams one bundle file. The caller owns the returned body.
func (c *Client) OpenBundleFile(ctx context.Context, taskID, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bundle/"+taskID+"/"+fileID, nil)
	if err != nil {
		return nil, fmt.Errorf("build bundle file request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch bundle file %s: unexpected status %d", fileID, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
