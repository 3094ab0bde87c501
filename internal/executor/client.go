// Package executor is the REST client for the remote training executor.
// Training runs execute in a separate service; this client fetches their
// live status for the bridge to overlay onto local operation records.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"quantlab/internal/operations"
)

// Config holds the executor connection settings
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the executor's job status API
type Client struct {
	baseURL string
	http    *resty.Client
}

// jobStatusResponse is the executor's wire format for job status
type jobStatusResponse struct {
	State          string             `json:"state"`
	Percentage     float64            `json:"percentage"`
	CurrentStep    string             `json:"current_step"`
	StepsCompleted int                `json:"steps_completed"`
	StepsTotal     int                `json:"steps_total"`
	Context        operations.Context `json:"context"`
	Result         map[string]any     `json:"result"`
	Error          string             `json:"error"`
}

// NewClient creates an executor client
func NewClient(cfg Config) *Client {
	client := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client.http = resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 and transient server errors
			return err == nil && (r.StatusCode() == http.StatusTooManyRequests ||
				(r.StatusCode() >= 500 && r.StatusCode() <= 504))
		})

	if cfg.Token != "" {
		client.http.SetAuthToken(cfg.Token)
	}

	return client
}

// FetchStatus implements operations.StatusFetcher. A 404 is reported as a
// permanent not-found error; everything else surfaces as a transient
// connectivity failure the bridge counts against its retry budget.
func (c *Client) FetchStatus(ctx context.Context, ref string) (*operations.RemoteStatus, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/api/v1/jobs/%s", c.baseURL, ref))
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", ref, err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, &operations.Error{
			Kind:    operations.KindNotFound,
			Op:      "fetch_status",
			Message: fmt.Sprintf("executor job %s not found", ref),
		}
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetch job %s: executor returned %d", ref, resp.StatusCode())
	}

	var body jobStatusResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode job %s status: %w", ref, err)
	}

	state, err := mapState(body.State)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", ref, err)
	}

	return &operations.RemoteStatus{
		State: state,
		Progress: operations.Snapshot{
			Percentage:     body.Percentage,
			CurrentStep:    body.CurrentStep,
			StepsCompleted: body.StepsCompleted,
			StepsTotal:     body.StepsTotal,
			Context:        body.Context,
		},
		Result: body.Result,
		Error:  body.Error,
	}, nil
}

// mapState translates executor job states into bridge remote states. The
// executor reports a couple of aliases for queued work.
func mapState(state string) (operations.RemoteState, error) {
	switch strings.ToLower(state) {
	case "pending", "queued", "scheduled":
		return operations.RemoteStatePending, nil
	case "running", "in_progress":
		return operations.RemoteStateRunning, nil
	case "succeeded", "completed":
		return operations.RemoteStateSucceeded, nil
	case "failed":
		return operations.RemoteStateFailed, nil
	case "cancelled", "canceled":
		return operations.RemoteStateCancelled, nil
	}
	return "", fmt.Errorf("unknown executor job state %q", state)
}
